// Package metrics has prometheus metric variables/functions.
package metrics

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mjl-/vvm/mlog"
)

var xlog = mlog.New("metrics")

// Gateway is an HTTP endpoint of a carrier used during VVM3 self provisioning.
type Gateway string

const (
	GatewayVMG       Gateway = "vmg"       // Voice mail gateway, XML-RPC for the SPG URL.
	GatewaySPG       Gateway = "spg"       // Service provisioning gateway, the subscribe form.
	GatewaySubscribe Gateway = "subscribe" // Link found on the SPG page.
)

var metricGatewayRequest = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "vvm_gateway_request_duration_seconds",
		Help:    "HTTP requests to carrier provisioning gateways.",
		Buckets: []float64{0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30},
	},
	[]string{
		"gateway",
		"code",
		"result", // ok, usererror, servererror, other, timeout, canceled, error
	},
)

// HTTPResult classifies the outcome of an HTTP request for metrics.
func HTTPResult(statusCode int, err error) string {
	switch {
	case err == nil:
		switch statusCode / 100 {
		case 2:
			return "ok"
		case 4:
			return "usererror"
		case 5:
			return "servererror"
		}
		return "other"
	case errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}

// GatewayObserve tracks the result of a request to a carrier gateway, and logs
// it. The status code is 0 if no response was received.
func GatewayObserve(ctx context.Context, gw Gateway, statusCode int, err error, start time.Time) {
	d := time.Since(start)
	result := HTTPResult(statusCode, err)
	metricGatewayRequest.WithLabelValues(string(gw), strconv.Itoa(statusCode), result).Observe(d.Seconds())
	xlog.WithContext(ctx).Debugx("gateway request", err, mlog.Field("gateway", gw), mlog.Field("code", statusCode), mlog.Field("result", result), mlog.Field("duration", d))
}
