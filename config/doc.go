/*
Package config holds the configuration file definitions.

The configuration file, vvm.conf, is read once at startup. It describes the
voicemail accounts, with for each the carrier's protocol variant and the
number to send activation requests to. Credentials for the voicemail server
are not configured: they are received in the STATUS SMS and kept in the
database.

# sconf

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely. But the value of an
    optional field may itself have required fields.

See https://pkg.go.dev/github.com/mjl-/sconf for details.

# vvm.conf

An example, with all fields. Use "vvm config describe" to print the
documentation of each field.

	DataDir: data
	LogLevel: info
	PackageLogLevels:
		imapclient: trace
	Network:
		LocalIP: 10.64.0.2
		DialTimeout: 10s
		HTTPTimeout: 30s
	Accounts:
		15555550100:
			VVMType: vvm3
			DestinationNumber: 900080006200
			ApplicationPort: 0
			ClientPrefix: //VZWVVM
			SSLPort: 993
			StartTLS: false
			DisabledCapabilities:
				- AUTH=DIGEST-MD5
			CellularDataRequired: true
			NoPrefetch: false
			StatusSMSTimeout: 1m0s
			LiteralThreshold: 2097152
			Locale: es-US
			Archive: true
			ArchiveThreshold: 0.75
			DefaultVMGURL: https://vmg.example.com/VMGateway
			SPGLinkPatterns:
				- (?i)Subscribe to Basic Visual Voice Mail
*/
package config
