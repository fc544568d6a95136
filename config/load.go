package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"github.com/mjl-/sconf"

	"github.com/mjl-/vvm/mlog"
)

// ParseConfig parses the config file at p, and fills in defaults and parsed
// fields. All problems found are returned.
func ParseConfig(p string) (c *Static, errs []error) {
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) && os.Getenv("VVMCONF") == "" {
			return nil, []error{fmt.Errorf("open config file: %v (hint: use vvm -config ... or set VVMCONF=...)", err)}
		}
		return nil, []error{fmt.Errorf("open config file: %v", err)}
	}
	defer f.Close()

	c = &Static{DataDir: "."}
	if err := sconf.Parse(f, c); err != nil {
		return nil, []error{fmt.Errorf("parsing %s%v", p, err)}
	}
	if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(filepath.Dir(p), c.DataDir)
	}
	if errs := PrepareStatic(c); len(errs) > 0 {
		return nil, errs
	}
	return c, nil
}

// PrepareStatic checks c and sets defaults and parsed fields.
func PrepareStatic(c *Static) (errs []error) {
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	c.LogLevels = map[string]mlog.Level{}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if level, ok := mlog.Levels[c.LogLevel]; ok {
		c.LogLevels[""] = level
	} else {
		addErrorf("invalid log level %q", c.LogLevel)
	}
	for pkg, s := range c.PackageLogLevels {
		if level, ok := mlog.Levels[s]; ok {
			c.LogLevels[pkg] = level
		} else {
			addErrorf("invalid package log level %q", s)
		}
	}

	if c.Network.DialTimeout < 0 || c.Network.HTTPTimeout < 0 {
		addErrorf("network timeouts cannot be negative")
	}

	if len(c.Accounts) == 0 {
		addErrorf("no accounts configured")
	}
	for name, acc := range c.Accounts {
		for _, err := range prepareAccount(&acc) {
			addErrorf("account %q: %v", name, err)
		}
		c.Accounts[name] = acc
	}
	return errs
}

func prepareAccount(a *Account) (errs []error) {
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch a.VVMType {
	case TypeOMTP, TypeCVVM, TypeVVM3:
	default:
		addErrorf("unknown vvm type %q, must be one of %s, %s, %s", a.VVMType, TypeOMTP, TypeCVVM, TypeVVM3)
	}
	if a.DestinationNumber == "" {
		addErrorf("missing destination number")
	} else if strings.IndexFunc(a.DestinationNumber, func(r rune) bool { return !unicode.IsDigit(r) && r != '+' }) >= 0 {
		addErrorf("destination number %q must consist of digits", a.DestinationNumber)
	}
	if a.ApplicationPort < 0 || a.ApplicationPort > 65535 {
		addErrorf("invalid application port %d", a.ApplicationPort)
	}
	if a.SSLPort < 0 || a.SSLPort > 65535 {
		addErrorf("invalid ssl port %d", a.SSLPort)
	}
	if a.ClientPrefix == "" {
		a.ClientPrefix = DefaultClientPrefix
	}
	if a.StatusSMSTimeout == 0 {
		a.StatusSMSTimeout = DefaultStatusSMSTimeout
	} else if a.StatusSMSTimeout < 0 {
		addErrorf("status sms timeout cannot be negative")
	}
	if a.LiteralThreshold == 0 {
		a.LiteralThreshold = DefaultLiteralThreshold
	}
	if a.ArchiveThreshold == 0 {
		a.ArchiveThreshold = DefaultArchiveThreshold
	} else if a.ArchiveThreshold < 0 || a.ArchiveThreshold > 1 {
		addErrorf("archive threshold %v must be between 0 and 1", a.ArchiveThreshold)
	}
	if a.Locale != "" {
		if _, err := language.Parse(a.Locale); err != nil {
			addErrorf("parsing locale %q: %v", a.Locale, err)
		}
	}

	patterns := a.SPGLinkPatterns
	if len(patterns) == 0 {
		patterns = DefaultSPGLinkPatterns
	}
	a.SPGLinkRegexps = nil
	for _, s := range patterns {
		re, err := CompileSPGLinkPattern(s)
		if err != nil {
			addErrorf("%v", err)
			continue
		}
		a.SPGLinkRegexps = append(a.SPGLinkRegexps, re)
	}
	return errs
}

// CompileSPGLinkPattern compiles a pattern for the text of a subscribe link.
// The pattern must match the full text.
func CompileSPGLinkPattern(s string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + s + ")$")
	if err != nil {
		return nil, fmt.Errorf("compiling spg link pattern %q: %v", s, err)
	}
	return re, nil
}
