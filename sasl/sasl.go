// Package sasl implements the client side of Simple Authentication and
// Security Layer, RFC 4422, for the mechanisms voicemail servers offer.
package sasl

// Client is a SASL client.
type Client interface {
	// Name as used in IMAP AUTHENTICATE, e.g. DIGEST-MD5.
	// cleartextCredentials indicates if credentials are exchanged in clear text,
	// which influences whether they are logged.
	Info() (name string, cleartextCredentials bool)

	// Next is called for each step of the SASL communication. The first call has a nil
	// fromServer and serves to get a possible "initial response" from the client. If
	// the client sends its final message it indicates so with last. Returning an error
	// aborts the authentication attempt.
	// For the first toServer ("initial response"), a nil toServer indicates there is
	// no data, which is different from a non-nil zero-length toServer.
	Next(fromServer []byte) (toServer []byte, last bool, err error)
}
