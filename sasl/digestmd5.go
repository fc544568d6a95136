package sasl

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ../rfc/2831

var (
	ErrMissingNonce   = errors.New("nonce missing from server DIGEST-MD5 challenge")
	ErrResponseAuth   = errors.New("invalid response-auth from server")
	ErrMalformedInput = errors.New("malformed DIGEST-MD5 challenge")
)

const (
	digestNC      = "00000001" // Subsequent authentication is not supported, the nonce count is always 1.
	digestQOP     = "auth"
	digestCharset = "utf-8"

	responseAuthPrefix = "rspauth="
)

// DigestData holds the inputs of a DIGEST-MD5 computation. Username, Password
// and DigestURI are configured, Realm and Nonce come from the server challenge,
// Cnonce is generated locally.
type DigestData struct {
	Username  string
	Password  string
	Realm     string
	Nonce     string
	Cnonce    string
	NC        string
	QOP       string
	DigestURI string
}

// NewDigestData returns the data for a challenge, with a new random cnonce.
func NewDigestData(username, password, host string, challenge map[string]string) (DigestData, error) {
	nonce, ok := challenge["nonce"]
	if !ok {
		return DigestData{}, ErrMissingNonce
	}
	cnonce, err := NewCnonce()
	if err != nil {
		return DigestData{}, err
	}
	return DigestData{
		Username:  username,
		Password:  password,
		Realm:     challenge["realm"],
		Nonce:     nonce,
		Cnonce:    cnonce,
		NC:        digestNC,
		QOP:       digestQOP,
		DigestURI: "imap/" + host,
	}, nil
}

// NewCnonce returns 64 random bits, base64-encoded.
func NewCnonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random cnonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func md5hex(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// compute returns the hex response value. For the server response-auth, a2
// lacks the "AUTHENTICATE" method.
func (d DigestData) compute(responseAuth bool) string {
	// ../rfc/2831:1025
	ha := md5.Sum([]byte(d.Username + ":" + d.Realm + ":" + d.Password))
	a1 := string(ha[:]) + ":" + d.Nonce + ":" + d.Cnonce
	a2 := ":" + d.DigestURI
	if !responseAuth {
		a2 = "AUTHENTICATE" + a2
	}
	return md5hex(md5hex(a1) + ":" + d.Nonce + ":" + d.NC + ":" + d.Cnonce + ":" + d.QOP + ":" + md5hex(a2))
}

// Response returns the hex digest the client sends.
func (d DigestData) Response() string {
	return d.compute(false)
}

// ResponseAuth returns the hex digest the server must send back as rspauth.
func (d DigestData) ResponseAuth() string {
	return d.compute(true)
}

// VerifyResponseAuth checks the "rspauth=<hex>" message from the server.
func (d DigestData) VerifyResponseAuth(msg string) error {
	if !strings.HasPrefix(msg, responseAuthPrefix) {
		return fmt.Errorf("%w: response-auth expected", ErrResponseAuth)
	}
	got := []byte(strings.TrimPrefix(msg, responseAuthPrefix))
	exp := []byte(d.ResponseAuth())
	if subtle.ConstantTimeCompare(got, exp) != 1 {
		return ErrResponseAuth
	}
	return nil
}

// ClientLine returns the digest-response to send to the server, before base64
// encoding.
func (d DigestData) ClientLine() string {
	var b strings.Builder
	add := func(k, v string, quote bool) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if quote {
			b.WriteString(`"` + v + `"`)
		} else {
			b.WriteString(v)
		}
	}
	add("charset", digestCharset, false)
	add("username", d.Username, true)
	add("realm", d.Realm, true)
	add("nonce", d.Nonce, true)
	add("nc", d.NC, false)
	add("cnonce", d.Cnonce, true)
	add("digest-uri", d.DigestURI, true)
	add("response", d.Response(), false)
	add("qop", d.QOP, false)
	return b.String()
}

// ParseChallenge parses a decoded DIGEST-MD5 challenge, a comma-separated list
// of key=value pairs. Values can be quoted, a backslash escapes the next
// character. The nonce is required.
func ParseChallenge(s string) (map[string]string, error) {
	r := map[string]string{}
	i := 0
	for i < len(s) {
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: missing \"=\" after key at offset %d", ErrMalformedInput, i)
		}
		key := s[i : i+eq]
		i += eq + 1

		var v strings.Builder
		if i < len(s) && s[i] == '"' {
			i++
			closed := false
			for i < len(s) {
				c := s[i]
				i++
				if c == '\\' {
					if i >= len(s) {
						break
					}
					v.WriteByte(s[i])
					i++
				} else if c == '"' {
					closed = true
					break
				} else {
					v.WriteByte(c)
				}
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quoted value for %q", ErrMalformedInput, key)
			}
		} else {
			for i < len(s) && s[i] != ',' {
				c := s[i]
				i++
				if c == '\\' {
					if i >= len(s) {
						return nil, fmt.Errorf("%w: escape at end of value for %q", ErrMalformedInput, key)
					}
					c = s[i]
					i++
				}
				v.WriteByte(c)
			}
		}
		r[key] = v.String()

		if i < len(s) {
			if s[i] != ',' {
				return nil, fmt.Errorf("%w: expected \",\" at offset %d", ErrMalformedInput, i)
			}
			i++
		}
	}
	if _, ok := r["nonce"]; !ok {
		return nil, ErrMissingNonce
	}
	return r, nil
}

type clientDigestMD5 struct {
	Username, Password, Host string
	step                     int
	data                     DigestData
}

var _ Client = (*clientDigestMD5)(nil)

// NewClientDigestMD5 returns a client for SASL DIGEST-MD5 authentication. Host is
// used in the digest-uri "imap/<host>".
func NewClientDigestMD5(username, password, host string) Client {
	return &clientDigestMD5{Username: username, Password: password, Host: host}
}

func (a *clientDigestMD5) Info() (name string, hasCleartextCredentials bool) {
	return "DIGEST-MD5", false
}

func (a *clientDigestMD5) Next(fromServer []byte) (toServer []byte, last bool, rerr error) {
	defer func() { a.step++ }()
	switch a.step {
	case 0:
		// No initial response.
		return nil, false, nil
	case 1:
		challenge, err := ParseChallenge(string(fromServer))
		if err != nil {
			return nil, false, err
		}
		a.data, err = NewDigestData(a.Username, a.Password, a.Host, challenge)
		if err != nil {
			return nil, false, err
		}
		return []byte(a.data.ClientLine()), false, nil
	case 2:
		if err := a.data.VerifyResponseAuth(string(fromServer)); err != nil {
			return nil, false, err
		}
		// Empty response finishes the exchange.
		return []byte{}, true, nil
	default:
		return nil, false, fmt.Errorf("invalid step %d", a.step)
	}
}
