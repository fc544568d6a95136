package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEvent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vvm_event_total",
			Help: "Voicemail events raised, by protocol variant and event name.",
		},
		[]string{
			"variant", // omtp, cvvm, vvm3
			"event",   // E.g. DATA_AUTH_INVALID_PASSWORD.
		},
	)
	metricIMAPCommand = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vvm_imap_command_duration_seconds",
			Help:    "IMAP command duration and result.",
			Buckets: []float64{0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30, 60},
		},
		[]string{
			"cmd",    // E.g. select, uid fetch.
			"result", // ok, no, bad, ioerror, error
		},
	)
	metricDNSLookup = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vvm_dns_lookup_duration_seconds",
			Help:    "DNS lookups.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
		},
		[]string{
			"pkg",
			"type",   // E.g. ipaddr, host.
			"result", // ok, nxdomain, temporary, timeout, canceled, error
		},
	)
	metricActivation = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vvm_activation_attempt_total",
			Help: "Activation attempts by result.",
		},
		[]string{
			"result", // ok, timeout, notavailable, provisioning, error
		},
	)
)

func EventInc(variant, event string) {
	metricEvent.WithLabelValues(variant, event).Inc()
}

func IMAPCommandObserve(cmd, result string, start time.Time) {
	metricIMAPCommand.WithLabelValues(cmd, result).Observe(float64(time.Since(start)) / float64(time.Second))
}

func DNSLookupObserve(pkg, typ, result string, start time.Time) {
	metricDNSLookup.WithLabelValues(pkg, typ, result).Observe(float64(time.Since(start)) / float64(time.Second))
}

func ActivationInc(result string) {
	metricActivation.WithLabelValues(result).Inc()
}
