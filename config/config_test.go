package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mjl-/vvm/mlog"
)

func tcompare(t *testing.T, got, expect any) {
	t.Helper()
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, expect)
	}
}

func writeConf(t *testing.T, text string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "vvm.conf")
	if err := os.WriteFile(p, []byte(text), 0660); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestParseConfig(t *testing.T) {
	p := writeConf(t, `DataDir: data
LogLevel: debug
PackageLogLevels:
	imapclient: tracedata
Accounts:
	15555550100:
		VVMType: vvm3
		DestinationNumber: 900080006200
		Locale: es-US
		SPGLinkPatterns:
			- (?i)subscribe now
	15555550101:
		VVMType: omtp
		DestinationNumber: +15555550000
		NoPrefetch: true
		StatusSMSTimeout: 5s
`)
	c, errs := ParseConfig(p)
	if len(errs) > 0 {
		t.Fatalf("parse config: %v", errs)
	}
	tcompare(t, c.DataDir, filepath.Join(filepath.Dir(p), "data"))
	tcompare(t, c.LogLevels, map[string]mlog.Level{"": mlog.LevelDebug, "imapclient": mlog.LevelTracedata})

	a := c.Accounts["15555550100"]
	tcompare(t, a.ClientPrefix, DefaultClientPrefix)
	tcompare(t, a.StatusSMSTimeout, DefaultStatusSMSTimeout)
	tcompare(t, a.LiteralThreshold, int64(DefaultLiteralThreshold))
	tcompare(t, a.ArchiveThreshold, DefaultArchiveThreshold)
	tcompare(t, a.Prefetch(), true)
	tcompare(t, len(a.SPGLinkRegexps), 1)
	tcompare(t, a.SPGLinkRegexps[0].MatchString("Subscribe Now"), true)
	tcompare(t, a.SPGLinkRegexps[0].MatchString("Please subscribe now"), false)

	b := c.Accounts["15555550101"]
	tcompare(t, b.Prefetch(), false)
	tcompare(t, b.StatusSMSTimeout, 5*time.Second)
	tcompare(t, len(b.SPGLinkRegexps), len(DefaultSPGLinkPatterns))
	tcompare(t, b.SPGLinkRegexps[1].MatchString("Subscribe to Basic Visual Voicemail"), true)
}

func TestParseConfigErrors(t *testing.T) {
	p := writeConf(t, `DataDir: data
LogLevel: loud
Accounts:
	x:
		VVMType: other
		DestinationNumber: 12ab
		ArchiveThreshold: 2
		Locale: -
		SPGLinkPatterns:
			- (
`)
	_, errs := ParseConfig(p)
	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	all := strings.Join(msgs, "\n")
	for _, s := range []string{"invalid log level", "unknown vvm type", "must consist of digits", "archive threshold", "parsing locale", "compiling spg link pattern"} {
		if !strings.Contains(all, s) {
			t.Errorf("missing error %q in:\n%s", s, all)
		}
	}

	_, errs = ParseConfig(filepath.Join(t.TempDir(), "absent.conf"))
	tcompare(t, len(errs), 1)

	p = writeConf(t, "Bogus: 1\n")
	_, errs = ParseConfig(p)
	tcompare(t, len(errs), 1)
}
