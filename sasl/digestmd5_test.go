package sasl

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func tcheckf(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

func tcompare(t *testing.T, got, expect any) {
	t.Helper()
	if !reflect.DeepEqual(got, expect) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, expect)
	}
}

// Example from ../rfc/2831:1110
var rfcData = DigestData{
	Username:  "chris",
	Password:  "secret",
	Realm:     "elwood.innosoft.com",
	Nonce:     "OA6MG9tEQGm2hh",
	Cnonce:    "OA6MHXh6VqTrRk",
	NC:        "00000001",
	QOP:       "auth",
	DigestURI: "imap/elwood.innosoft.com",
}

func TestDigestMD5(t *testing.T) {
	tcompare(t, rfcData.Response(), "d388dad90d4bbd760a152321f2143af7")
	tcompare(t, rfcData.ResponseAuth(), "ea40f60335c427b5527b84dbabcdfffd")

	// Pure function of its inputs.
	tcompare(t, rfcData.Response(), rfcData.Response())

	err := rfcData.VerifyResponseAuth("rspauth=ea40f60335c427b5527b84dbabcdfffd")
	tcheckf(t, err, "verify rspauth")

	// Any single character change is rejected.
	good := rfcData.ResponseAuth()
	for i := range good {
		c := byte('0')
		if good[i] == '0' {
			c = '1'
		}
		bad := good[:i] + string(c) + good[i+1:]
		err := rfcData.VerifyResponseAuth("rspauth=" + bad)
		if !errors.Is(err, ErrResponseAuth) {
			t.Fatalf("mutation at %d accepted: %v", i, err)
		}
	}
	if err := rfcData.VerifyResponseAuth(good); !errors.Is(err, ErrResponseAuth) {
		t.Fatalf("missing rspauth= prefix accepted")
	}
	if err := rfcData.VerifyResponseAuth("rspauth=" + good[:len(good)-1]); !errors.Is(err, ErrResponseAuth) {
		t.Fatalf("truncated rspauth accepted")
	}

	line := rfcData.ClientLine()
	tcompare(t, line, `charset=utf-8,username="chris",realm="elwood.innosoft.com",nonce="OA6MG9tEQGm2hh",nc=00000001,cnonce="OA6MHXh6VqTrRk",digest-uri="imap/elwood.innosoft.com",response=d388dad90d4bbd760a152321f2143af7,qop=auth`)
}

func TestParseChallenge(t *testing.T) {
	c, err := ParseChallenge(`realm="elwood.innosoft.com",nonce="OA6MG9tEQGm2hh",qop="auth",algorithm=md5-sess,charset=utf-8`)
	tcheckf(t, err, "parse challenge")
	tcompare(t, c, map[string]string{
		"realm":     "elwood.innosoft.com",
		"nonce":     "OA6MG9tEQGm2hh",
		"qop":       "auth",
		"algorithm": "md5-sess",
		"charset":   "utf-8",
	})

	c, err = ParseChallenge(`nonce="a\"b\\c,d",x=e\,f`)
	tcheckf(t, err, "parse escapes")
	tcompare(t, c, map[string]string{"nonce": `a"b\c,d`, "x": "e,f"})

	_, err = ParseChallenge(`realm="x",qop="auth"`)
	if !errors.Is(err, ErrMissingNonce) {
		t.Fatalf("got %v, expected ErrMissingNonce", err)
	}

	for _, s := range []string{`nonce`, `nonce="abc`, `nonce="a"x,realm=b`, `nonce=a\`} {
		_, err := ParseChallenge(s)
		if !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("challenge %q: got %v, expected ErrMalformedInput", s, err)
		}
	}
}

func TestClientDigestMD5(t *testing.T) {
	c := NewClientDigestMD5("chris", "secret", "elwood.innosoft.com")
	name, cleartext := c.Info()
	tcompare(t, name, "DIGEST-MD5")
	tcompare(t, cleartext, false)

	toServer, last, err := c.Next(nil)
	tcheckf(t, err, "initial response")
	tcompare(t, toServer == nil, true)
	tcompare(t, last, false)

	toServer, last, err = c.Next([]byte(`realm="elwood.innosoft.com",nonce="OA6MG9tEQGm2hh",qop="auth",algorithm=md5-sess,charset=utf-8`))
	tcheckf(t, err, "client response")
	tcompare(t, last, false)
	line := string(toServer)
	if !strings.HasPrefix(line, `charset=utf-8,username="chris",realm="elwood.innosoft.com",nonce="OA6MG9tEQGm2hh",nc=00000001,cnonce="`) {
		t.Fatalf("unexpected client line %q", line)
	}

	// Compute the server side with the cnonce the client chose.
	fields, err := ParseChallenge(line)
	tcheckf(t, err, "parse client line")
	server := rfcData
	server.Cnonce = fields["cnonce"]
	tcompare(t, fields["response"], server.Response())
	tcompare(t, len(server.Cnonce), 12)

	toServer, last, err = c.Next([]byte("rspauth=" + server.ResponseAuth()))
	tcheckf(t, err, "verify rspauth")
	tcompare(t, toServer, []byte{})
	tcompare(t, last, true)

	_, _, err = c.Next(nil)
	if err == nil {
		t.Fatalf("step after end accepted")
	}

	// Bad rspauth fails the exchange.
	c = NewClientDigestMD5("chris", "secret", "elwood.innosoft.com")
	c.Next(nil)
	_, _, err = c.Next([]byte(`nonce="n"`))
	tcheckf(t, err, "client response")
	_, _, err = c.Next([]byte("rspauth=00000000000000000000000000000000"))
	if !errors.Is(err, ErrResponseAuth) {
		t.Fatalf("got %v, expected ErrResponseAuth", err)
	}

	// Challenge without nonce.
	c = NewClientDigestMD5("chris", "secret", "elwood.innosoft.com")
	c.Next(nil)
	_, _, err = c.Next([]byte(`realm="r"`))
	if !errors.Is(err, ErrMissingNonce) {
		t.Fatalf("got %v, expected ErrMissingNonce", err)
	}
}
