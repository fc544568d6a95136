package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAuthentication = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vvm_authentication_total",
			Help: "IMAP authentication attempts and results.",
		},
		[]string{
			"kind",    // imap
			"variant", // login, digest-md5
			"result",  // ok, badcreds, baduser, blocked, notprovisioned, error, aborted
		},
	)
)

func AuthenticationInc(kind, variant, result string) {
	metricAuthentication.WithLabelValues(kind, variant, result).Inc()
}
