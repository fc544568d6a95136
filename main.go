package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dustin/go-humanize"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mjl-/sconf"

	"github.com/mjl-/vvm/activation"
	"github.com/mjl-/vvm/config"
	"github.com/mjl-/vvm/mlog"
	"github.com/mjl-/vvm/network"
	"github.com/mjl-/vvm/omtp"
	"github.com/mjl-/vvm/protocol"
	"github.com/mjl-/vvm/sasl"
	"github.com/mjl-/vvm/store"
	"github.com/mjl-/vvm/voicemail"
	"github.com/mjl-/vvm/vvmvar"
)

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"activate", cmdActivate},
	{"deactivate", cmdDeactivate},
	{"status", cmdStatus},
	{"sync", cmdSync},
	{"list", cmdList},
	{"fetch", cmdFetch},
	{"markread", cmdMarkread},
	{"delete", cmdDelete},
	{"quota", cmdQuota},
	{"changepin", cmdChangepin},
	{"help", cmdHelp},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"sms parse", cmdSMSParse},
	{"version", cmdVersion},

	// Not listed.
	{"helpall", cmdHelpall},
	{"digestmd5", cmdDigestMD5},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log *mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we just run the command but cause this
	// panic after the command has registered its flags and set its params and help
	// information. This is then caught and that info printed.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("vvm "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "vvm " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		line := "vvm " + strings.Join(c.words, " ")
		fmt.Printf("%s\n", line)
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdHelpall(c *cmd) {
	c.unlisted = true
	c.help = `Print all detailed usage and help information for all listed commands.

Used to generate documentation.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	n := 0
	for _, c := range cmds {
		c.gather()
		if c.unlisted {
			continue
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "\n")
		}
		n++

		fmt.Fprintf(os.Stderr, "# vvm %s\n\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Fprintln(os.Stderr, c.help+"\n")
		}
		s := c.makeUsage()
		s = "\t" + strings.ReplaceAll(s, "\n", "\n\t")
		fmt.Fprintln(os.Stderr, s)
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "vvm [-config vvm.conf] [-loglevel level] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"vvm"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var configPath string
var loglevel string // Empty means the level from the config file.

// mustLoadConfig parses the config file, exiting on errors, and applies the log
// levels, with the level from the command-line taking precedence.
func mustLoadConfig() *config.Static {
	c, errs := config.ParseConfig(configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			log.Printf("%s", err)
		}
		os.Exit(1)
	}
	levels := maps.Clone(c.LogLevels)
	if loglevel != "" {
		levels[""] = mlog.Levels[loglevel]
	}
	mlog.SetConfig(levels)
	return c
}

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("VVMCONF", "vvm.conf"), "configuration file, defaults to $VVMCONF with a fallback to vvm.conf")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, overrides the default log level from the config file")
	flag.BoolVar(&mlog.Logfmt, "logfmt", false, "write log lines in logfmt format")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	if loglevel != "" {
		if _, ok := mlog.Levels[loglevel]; !ok {
			log.Fatalf("unknown loglevel %q", loglevel)
		}
		mlog.SetConfig(map[string]mlog.Level{"": mlog.Levels[loglevel]})
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("vvm "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""))
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

// account is a configured account with its opened database.
type account struct {
	ID     string
	Static *config.Static
	Config config.Account
	DB     *store.DB
	Proto  protocol.Protocol
}

// mustOpenAccount loads the config and opens the database for the account with
// id, creating the account in the database if needed.
func mustOpenAccount(ctx context.Context, id string) *account {
	static := mustLoadConfig()
	cfg, ok := static.Accounts[id]
	if !ok {
		ids := maps.Keys(static.Accounts)
		slices.Sort(ids)
		log.Fatalf("account %q not in config, configured: %s", id, strings.Join(ids, ", "))
	}
	p, err := protocol.ForType(cfg)
	xcheckf(err, "protocol")
	db, err := store.Open(ctx, filepath.Join(static.DataDir, "vvm.db"))
	xcheckf(err, "open database")
	_, err = db.EnsureAccount(ctx, id, cfg.VVMType)
	xcheckf(err, "ensure account")
	return &account{id, static, cfg, db, p}
}

func (a *account) Close() {
	err := a.DB.Close()
	xcheckf(err, "close database")
}

func (a *account) network(ctx context.Context) (*network.Handle, error) {
	nc := a.Static.Network
	return network.Acquire(ctx, network.Config{LocalIP: nc.LocalIP, DialTimeout: nc.DialTimeout, HTTPTimeout: nc.HTTPTimeout})
}

func (a *account) syncer() voicemail.Syncer {
	return voicemail.Syncer{AccountID: a.ID, Config: a.Config, DB: a.DB, Protocol: a.Proto, Network: a.network}
}

// mustSession opens an IMAP session with the stored credentials. The returned
// function closes the session and releases the network.
func (a *account) mustSession(ctx context.Context) (*voicemail.Session, func()) {
	creds, err := a.DB.Credentials(ctx, a.ID)
	xcheckf(err, "credentials (activate the account first)")
	h, err := a.network(ctx)
	xcheckf(err, "acquire network")
	mb, err := voicemail.Opener{AccountID: a.ID, DB: a.DB, Protocol: a.Proto, Config: a.Config}.OpenMailbox(ctx, h, creds)
	if err != nil {
		h.Release()
		xcheckf(err, "open imap session")
	}
	s := mb.(*voicemail.Session)
	return s, func() {
		s.Close()
		h.Release()
	}
}

// lineSender writes SMS messages to be sent as lines to w, for a modem helper
// that reads them.
type lineSender struct {
	sync.Mutex
	w io.Writer
}

func (s *lineSender) SendSMS(ctx context.Context, number string, port int, text string) error {
	s.Lock()
	defer s.Unlock()
	_, err := fmt.Fprintf(s.w, "sms %s %d %s\n", number, port, text)
	return err
}

// readInbox parses SMS texts, one per line, from r and delivers them on the
// returned channel, which is closed at EOF. Lines without the client prefix are
// logged and skipped.
func readInbox(log *mlog.Log, r io.Reader, prefix string) <-chan omtp.Message {
	inbox := make(chan omtp.Message)
	go func() {
		defer close(inbox)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			m, err := omtp.ParseSMS(prefix, line)
			if err != nil {
				log.Infox("ignoring sms", err, mlog.Field("text", line))
				continue
			}
			inbox <- m
		}
		log.Check(scanner.Err(), "reading sms input")
	}()
	return inbox
}

func cmdActivate(c *cmd) {
	c.params = "[-serve] [-metrics address] account"
	c.help = `Activate visual voicemail for an account.

An activation request is sent as SMS, and the STATUS SMS response is waited for.
SMS to send are written to stdout, one per line: "sms <number> <port> <text>".
Received SMS are read from stdin, one per line. If the subscriber needs
provisioning, e.g. for VVM3, it is done before the credentials are stored.
After a successful activation, voicemails are synced.

With -serve, SMS received after the activation keep being handled until stdin
is closed: SYNC messages start a sync, STATUS messages an activation.
`
	var serve bool
	var metricsAddr string
	c.flag.BoolVar(&serve, "serve", false, "keep handling received sms after activation")
	c.flag.StringVar(&metricsAddr, "metrics", "", "if set, serve prometheus metrics at /metrics on this address, e.g. localhost:8010")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := mustOpenAccount(ctx, args[0])
	defer a.Close()

	syncer := a.syncer()
	task := &activation.Task{
		AccountID: a.ID,
		Config:    a.Config,
		DB:        a.DB,
		Protocol:  a.Proto,
		SMS:       &lineSender{w: os.Stdout},
		Network:   a.network,
		Inbox:     readInbox(c.log, os.Stdin, a.Config.ClientPrefix),
		Syncer:    syncer,
	}

	// The metrics listener failing stops the activation, and the other way around.
	g, ctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          log.New(mlog.ErrWriter(c.log, mlog.LevelInfo, "metrics http server error"), "", 0),
		}
		g.Go(func() error {
			err := srv.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return fmt.Errorf("serving metrics: %w", err)
		})
	}
	g.Go(func() error {
		if srv != nil {
			defer srv.Close()
		}
		if serve {
			err := task.Serve(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := task.Run(ctx, nil); err != nil {
			return err
		}
		printStatus(ctx, a)
		return nil
	})
	err := g.Wait()
	xcheckf(err, "activate")
}

func cmdDeactivate(c *cmd) {
	c.params = "account"
	c.help = `Send a deactivation request and disable the account locally.

The SMS to send is written to stdout. VVM3 accounts cannot be deactivated by
SMS, they are only disabled locally.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()

	env := protocol.ActivationEnv{AccountID: a.ID, Config: a.Config, SMS: &lineSender{w: os.Stdout}}
	err := a.Proto.StartDeactivation(ctx, env)
	xcheckf(err, "deactivate")
	_, err = a.DB.UpdateAccount(ctx, a.ID, func(acc *store.Account) {
		acc.Enabled = false
		acc.Activated = false
	})
	xcheckf(err, "disable account")
}

func printStatus(ctx context.Context, a *account) {
	acc, err := a.DB.Account(ctx, a.ID)
	xcheckf(err, "account")
	fmt.Printf("account %s (%s)\n", acc.ID, acc.VVMType)
	fmt.Printf("enabled: %v, activated: %v\n", acc.Enabled, acc.Activated)
	fmt.Printf("status: %s\n", acc.Status())
	if acc.DefaultPinReplaced && acc.DefaultOldPIN != "" {
		fmt.Printf("default pin replaced, current pin: %s\n", acc.DefaultOldPIN)
	}
}

func cmdStatus(c *cmd) {
	c.params = "account"
	c.help = `Print the stored voicemail status of an account.

Configuration, data and notification states, and VVM3 error codes, are as shown
to the user. A quota of -1 is unknown.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()
	printStatus(ctx, a)
}

func cmdSync(c *cmd) {
	c.params = "[-action full|upload|download] account"
	c.help = `Synchronize voicemails between the server and the local database.

Upload sends local changes (read, deleted) to the server. Download adds new
voicemails from the server and removes voicemails no longer on the server,
unless archived.
`
	var action string
	c.flag.StringVar(&action, "action", string(voicemail.SyncFull), "full, upload or download")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	act, err := voicemail.ParseAction(action)
	xcheckf(err, "parsing action")

	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()
	err = a.syncer().Sync(ctx, act)
	xcheckf(err, "sync")
}

func cmdList(c *cmd) {
	c.params = "account"
	c.help = "List voicemails in the local database."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()
	l, err := a.DB.Voicemails(ctx, a.ID)
	xcheckf(err, "listing voicemails")
	for _, vm := range l {
		var flags []string
		for _, f := range []struct {
			set  bool
			name string
		}{{vm.Read, "read"}, {vm.Dirty, "dirty"}, {vm.Deleted, "deleted"}, {vm.Archived, "archived"}, {vm.HasContent, "audio"}} {
			if f.set {
				flags = append(flags, f.name)
			}
		}
		size := "-"
		if vm.HasContent {
			size = humanize.Bytes(uint64(len(vm.Content)))
		}
		fmt.Printf("%s\t%s (%s)\t%s\t%ds\t%s\t%s\t%q\n", vm.UID, vm.Timestamp.Format(time.RFC3339), humanize.Time(vm.Timestamp), vm.Number, vm.Duration, size, strings.Join(flags, ","), vm.Transcription)
	}
}

func cmdFetch(c *cmd) {
	c.params = "account uid >audio"
	c.help = `Write the audio of a voicemail to stdout.

The local copy is used if present, otherwise the audio is fetched from the
server and stored.
`
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}

	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()
	vm, err := a.DB.VoicemailByUID(ctx, a.ID, args[1])
	xcheckf(err, "looking up voicemail")
	if !vm.HasContent {
		s, done := a.mustSession(ctx)
		p, err := s.FetchVoicemailPayload(ctx, vm.UID)
		done()
		xcheckf(err, "fetching audio")
		vm.HasContent = true
		vm.MimeType = p.MimeType
		vm.Content = p.Data
		err = a.DB.UpdateVoicemail(ctx, &vm)
		xcheckf(err, "storing audio")
	}
	c.log.Debug("writing audio", mlog.Field("mimetype", vm.MimeType), mlog.Field("size", humanize.Bytes(uint64(len(vm.Content)))))
	_, err = os.Stdout.Write(vm.Content)
	xcheckf(err, "write")
}

// mustUpdateVoicemail changes a local voicemail. The change is sent to the
// server on the next upload.
func mustUpdateVoicemail(args []string, fn func(vm *store.Voicemail)) {
	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()
	for _, uid := range args[1:] {
		vm, err := a.DB.VoicemailByUID(ctx, a.ID, uid)
		xcheckf(err, "looking up voicemail %s", uid)
		fn(&vm)
		err = a.DB.UpdateVoicemail(ctx, &vm)
		xcheckf(err, "updating voicemail %s", uid)
	}
}

func cmdMarkread(c *cmd) {
	c.params = "account uid ..."
	c.help = "Mark voicemails read locally, sent to the server on the next sync."
	args := c.Parse()
	if len(args) < 2 {
		c.Usage()
	}
	mustUpdateVoicemail(args, func(vm *store.Voicemail) {
		if !vm.Read {
			vm.Read = true
			vm.Dirty = true
		}
	})
}

func cmdDelete(c *cmd) {
	c.params = "account uid ..."
	c.help = "Mark voicemails deleted locally, removed from the server on the next sync."
	args := c.Parse()
	if len(args) < 2 {
		c.Usage()
	}
	mustUpdateVoicemail(args, func(vm *store.Voicemail) {
		vm.Deleted = true
	})
}

func cmdQuota(c *cmd) {
	c.params = "account"
	c.help = "Fetch and store the voicemail quota from the server."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()
	s, done := a.mustSession(ctx)
	defer done()
	q, err := s.UpdateQuota(ctx)
	xcheckf(err, "quota")
	if q == nil {
		fmt.Println("quota not reported by server")
		return
	}
	fmt.Printf("occupied %d of %d\n", q.Occupied, q.Total)
}

func cmdChangepin(c *cmd) {
	c.params = "account oldpin newpin"
	c.help = `Change the PIN for the voicemail phone menu.

The result is one of the outcomes known by the server, e.g. "too short".
`
	args := c.Parse()
	if len(args) != 3 {
		c.Usage()
	}

	ctx := context.Background()
	a := mustOpenAccount(ctx, args[0])
	defer a.Close()
	s, done := a.mustSession(ctx)
	defer done()
	result, err := s.ChangePIN(ctx, args[1], args[2])
	xcheckf(err, "change pin")
	fmt.Println(result)
	if result != omtp.ChangePinSuccess {
		os.Exit(1)
	}
	// The random PIN set during provisioning is no longer current.
	_, err = a.DB.UpdateAccount(ctx, a.ID, func(acc *store.Account) {
		acc.DefaultOldPIN = ""
	})
	xcheckf(err, "updating account")
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	_, errs := config.ParseConfig(configPath)
	if len(errs) > 1 {
		log.Printf("multiple errors:")
		for _, err := range errs {
			log.Printf("%s", err)
		}
		os.Exit(1)
	} else if len(errs) == 1 {
		log.Fatalf("%s", errs[0])
	}
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">vvm.conf"
	c.help = `Prints an annotated empty configuration for use as vvm.conf.

This configuration file needs modifications to make it valid. For example, it
may contain unfinished list items.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	var sc config.Static
	err := sconf.Describe(os.Stdout, &sc)
	xcheckf(err, "describing config")
}

func cmdSMSParse(c *cmd) {
	c.params = "[-prefix //VVM] text"
	c.help = `Parse an SMS from a carrier and print its fields.

STATUS and SYNC messages are printed with their typed fields.
`
	var prefix string
	c.flag.StringVar(&prefix, "prefix", config.DefaultClientPrefix, "client prefix")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	m, err := omtp.ParseSMS(prefix, args[0])
	xcheckf(err, "parsing sms")
	fmt.Printf("event: %s\n", m.Event)
	switch {
	case m.IsStatus():
		sm := omtp.NewStatusMessage(m.Fields)
		fmt.Printf("%#v\n", sm)
		if lo, hi, ok := sm.PinLengthRange(); ok {
			fmt.Printf("pin length %d-%d\n", lo, hi)
		}
	case m.IsSync():
		fmt.Printf("%#v\n", omtp.NewSyncMessage(m.Fields))
	default:
		for _, k := range omtp.SortedKeys(m.Fields) {
			fmt.Printf("%s=%s\n", k, m.Fields[k])
		}
	}
}

func cmdDigestMD5(c *cmd) {
	c.unlisted = true
	c.params = "username password host challenge"
	c.help = `Compute the DIGEST-MD5 client response for a base64-decoded challenge.

For debugging authentication with servers that only offer DIGEST-MD5.
`
	args := c.Parse()
	if len(args) != 4 {
		c.Usage()
	}

	ch, err := sasl.ParseChallenge(args[3])
	xcheckf(err, "parsing challenge")
	d, err := sasl.NewDigestData(args[0], args[1], args[2], ch)
	xcheckf(err, "digest data")
	fmt.Println(d.ClientLine())
	fmt.Printf("expected rspauth=%s\n", d.ResponseAuth())
}

func cmdVersion(c *cmd) {
	c.help = "Prints this vvm version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(vvmvar.Version)
	fmt.Printf("%s/%s\n", runtime.GOOS, runtime.GOARCH)
}
