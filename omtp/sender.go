package omtp

import (
	"context"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// SMSSender sends SMS messages to the carrier, e.g. through a modem.
type SMSSender interface {
	// SendSMS sends text to number. If port is non-zero, the message is sent as
	// data SMS to that application port, otherwise as text SMS.
	SendSMS(ctx context.Context, number string, port int, text string) error
}

// FormatRequest formats a mobile originated request, e.g.
// "Activate:pv=13;ct=//VVM;pt=1808". Fields are written in the order of keys,
// empty values are left out.
func FormatRequest(request string, keys []string, fields map[string]string) string {
	var l []string
	for _, k := range keys {
		if v := fields[k]; v != "" {
			l = append(l, k+SMSKeyValueSeparator+v)
		}
	}
	if len(l) == 0 {
		return request
	}
	return request + SMSPrefixSeparator + strings.Join(l, SMSFieldSeparator)
}

// SortedKeys returns the keys of fields in sorted order, for use with
// FormatRequest when order does not matter.
func SortedKeys(fields map[string]string) []string {
	l := maps.Keys(fields)
	slices.Sort(l)
	return l
}
