package config

import (
	"regexp"
	"time"

	"github.com/mjl-/vvm/mlog"
)

// Visual voicemail protocol variants, for Account.VVMType.
const (
	TypeOMTP = "omtp"
	TypeCVVM = "cvvm"
	TypeVVM3 = "vvm3"
)

// Defaults for optional fields.
const (
	DefaultClientPrefix     = "//VVM"
	DefaultStatusSMSTimeout = 60 * time.Second
	DefaultLiteralThreshold = 2 * 1024 * 1024
	DefaultArchiveThreshold = 0.75
)

// DefaultSPGLinkPatterns are matched against the text of links on the VVM3
// self-provisioning gateway page.
var DefaultSPGLinkPatterns = []string{
	`(?i)Subscribe to Basic Visual Voice Mail`,
	`(?i)Subscribe to Basic Visual Voicemail`,
}

// Static is the parsed form of the vvm.conf configuration file.
type Static struct {
	DataDir          string             `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where the database and temporary files are stored. If this is a relative path, it is relative to the directory of vvm.conf."`
	LogLevel         string             `sconf-doc:"Default log level, one of: error, info, debug, trace, traceauth, tracedata. Trace logs IMAP protocol transcripts, with traceauth also the commands with passwords, and tracedata on top of that also the full data exchanges (full voicemails)."`
	PackageLogLevels map[string]string  `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. imapclient, activation, protocol, voicemail, network)."`
	Network          Network            `sconf:"optional" sconf-doc:"How connections to voicemail servers and provisioning gateways are made."`
	Accounts         map[string]Account `sconf-doc:"Voicemail accounts, keyed by subscription, typically the phone number."`

	LogLevels map[string]mlog.Level `sconf:"-"` // Parsed from LogLevel and PackageLogLevels, key "" is the default.
}

// Network is the configuration for acquiring a network handle.
type Network struct {
	LocalIP     string        `sconf:"optional" sconf-doc:"If set, connections are made from this local IP, e.g. of the cellular interface. If no interface has the IP, the network is considered unavailable."`
	DialTimeout time.Duration `sconf:"optional" sconf-doc:"Timeout for making a connection. Default 10s."`
	HTTPTimeout time.Duration `sconf:"optional" sconf-doc:"Timeout for HTTP requests to provisioning gateways. Default 30s."`
}

// Account is the carrier configuration for a voicemail account.
type Account struct {
	VVMType              string        `sconf-doc:"Protocol variant: omtp, cvvm or vvm3."`
	DestinationNumber    string        `sconf-doc:"Number that activation, deactivation and status SMS messages are sent to."`
	ApplicationPort      int           `sconf:"optional" sconf-doc:"Port for data SMS sent by the carrier. If 0, text SMS is used."`
	ClientPrefix         string        `sconf:"optional" sconf-doc:"Prefix of SMS messages from the carrier. Default //VVM."`
	SSLPort              int           `sconf:"optional" sconf-doc:"If set, IMAP connections use TLS immediately on this port instead of the port from the STATUS message."`
	StartTLS             bool          `sconf:"optional" sconf-doc:"Use STARTTLS when advertised by the IMAP server."`
	DisabledCapabilities []string      `sconf:"optional" sconf-doc:"IMAP capabilities advertised by the server that must not be used, e.g. AUTH=DIGEST-MD5 for servers with a broken implementation."`
	CellularDataRequired bool          `sconf:"optional" sconf-doc:"If set, losing the connection to the carrier is reported as needing cellular data."`
	NoPrefetch           bool          `sconf:"optional" sconf-doc:"Do not fetch the audio of new voicemails during sync. By default, audio is fetched and stored locally."`
	StatusSMSTimeout     time.Duration `sconf:"optional" sconf-doc:"How long to wait for the STATUS SMS after requesting activation. Default 60s."`
	LiteralThreshold     int64         `sconf:"optional" sconf-doc:"IMAP literals larger than this number of bytes are written to a temporary file instead of kept in memory. Default 2MiB. Use -1 to keep literals up to 32MiB in memory."`
	Locale               string        `sconf:"optional" sconf-doc:"Language tag for voice prompts, e.g. en-US or es-US. Used by vvm3 during provisioning."`
	Archive              bool          `sconf:"optional" sconf-doc:"Keep voicemails locally when the server mailbox gets full, deleting the oldest from the server."`
	ArchiveThreshold     float64       `sconf:"optional" sconf-doc:"Fraction of the quota above which voicemails are archived. Default 0.75."`
	DefaultVMGURL        string        `sconf:"optional" sconf-doc:"For vvm3, the voicemail gateway URL used when a carrier sends a status message without one."`
	SPGLinkPatterns      []string      `sconf:"optional" sconf-doc:"For vvm3, regular expressions matched against the full text of links on the self-provisioning gateway page. The first matching link is followed to subscribe. Default matches 'Subscribe to Basic Visual Voice Mail'."`

	SPGLinkRegexps []*regexp.Regexp `sconf:"-"`
}

// Prefetch returns whether audio of new voicemails is fetched during sync.
func (a Account) Prefetch() bool {
	return !a.NoPrefetch
}
