package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Panic is the component in which a recovered panic happened.
type Panic string

const (
	PanicActivation   Panic = "activation"
	PanicProvisioning Panic = "provisioning"
	PanicSync         Panic = "sync"
)

var metricPanic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vvm_panic_total",
		Help: "Number of recovered panics, by component.",
	},
	[]string{
		"component",
	},
)

func PanicInc(p Panic) {
	metricPanic.WithLabelValues(string(p)).Inc()
}
