/*
Command vvm is a visual voicemail client for carrier voicemail over IMAP.

  - Activation by SMS for OMTP, CVVM and VVM3 carriers.
  - VVM3 subscriber provisioning, including the new user setup and replacing
    the default PIN.
  - Synchronization of voicemails, read and deleted state, with a local
    database.
  - Optional archiving of old voicemails when the mailbox quota fills up.
  - PIN changes for the voicemail phone menu.

# Commands

	vvm [-config vvm.conf] [-loglevel level] ...
	vvm activate [-serve] [-metrics address] account
	vvm deactivate account
	vvm status account
	vvm sync [-action full|upload|download] account
	vvm list account
	vvm fetch account uid >audio
	vvm markread account uid ...
	vvm delete account uid ...
	vvm quota account
	vvm changepin account oldpin newpin
	vvm help [command ...]
	vvm config test
	vvm config describe >vvm.conf
	vvm sms parse [-prefix //VVM] text
	vvm version

# vvm activate

Activate visual voicemail for an account.

An activation request is sent as SMS, and the STATUS SMS response is waited for.
SMS to send are written to stdout, one per line: "sms <number> <port> <text>".
Received SMS are read from stdin, one per line. If the subscriber needs
provisioning, e.g. for VVM3, it is done before the credentials are stored.
After a successful activation, voicemails are synced.

With -serve, SMS received after the activation keep being handled until stdin
is closed: SYNC messages start a sync, STATUS messages an activation.

	usage: vvm activate [-serve] [-metrics address] account
	  -metrics string
	    	if set, serve prometheus metrics at /metrics on this address, e.g. localhost:8010
	  -serve
	    	keep handling received sms after activation

# vvm deactivate

Send a deactivation request and disable the account locally.

The SMS to send is written to stdout. VVM3 accounts cannot be deactivated by
SMS, they are only disabled locally.

	usage: vvm deactivate account

# vvm status

Print the stored voicemail status of an account.

Configuration, data and notification states, and VVM3 error codes, are as shown
to the user. A quota of -1 is unknown.

	usage: vvm status account

# vvm sync

Synchronize voicemails between the server and the local database.

Upload sends local changes (read, deleted) to the server. Download adds new
voicemails from the server and removes voicemails no longer on the server,
unless archived.

	usage: vvm sync [-action full|upload|download] account
	  -action string
	    	full, upload or download (default "full")

# vvm list

List voicemails in the local database.

	usage: vvm list account

# vvm fetch

Write the audio of a voicemail to stdout.

The local copy is used if present, otherwise the audio is fetched from the
server and stored.

	usage: vvm fetch account uid >audio

# vvm markread

Mark voicemails read locally, sent to the server on the next sync.

	usage: vvm markread account uid ...

# vvm delete

Mark voicemails deleted locally, removed from the server on the next sync.

	usage: vvm delete account uid ...

# vvm quota

Fetch and store the voicemail quota from the server.

	usage: vvm quota account

# vvm changepin

Change the PIN for the voicemail phone menu.

The result is one of the outcomes known by the server, e.g. "too short".

	usage: vvm changepin account oldpin newpin

# vvm help

Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.

	usage: vvm help [command ...]

# vvm config test

Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.

	usage: vvm config test

# vvm config describe

Prints an annotated empty configuration for use as vvm.conf.

This configuration file needs modifications to make it valid. For example, it
may contain unfinished list items.

	usage: vvm config describe >vvm.conf

# vvm sms parse

Parse an SMS from a carrier and print its fields.

STATUS and SYNC messages are printed with their typed fields.

	usage: vvm sms parse [-prefix //VVM] text
	  -prefix string
	    	client prefix (default "//VVM")

# vvm version

Prints this vvm version.

	usage: vvm version
*/
package main

// NOTE: DO NOT EDIT, this file is generated by "vvm helpall".
