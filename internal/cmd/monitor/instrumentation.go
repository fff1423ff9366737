package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intuis",
		Subsystem: "monitor",
		Name:      "http_requests_total",
		Help:      "total number of http requests",
	},
		[]string{"code", "method"},
	)

	requestDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "intuis",
		Subsystem: "monitor",
		Name:      "http_request_duration_seconds",
		Help:      "duration of http requests",
	},
		[]string{"code", "method"},
	)

	circuitOpenCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "intuis",
		Subsystem: "monitor",
		Name:      "circuit_open_total",
		Help:      "number of times the circuit breaker opened after rate limiting",
	})
)

func instrumentedHTTPClient() *http.Client {
	rt := promhttp.InstrumentRoundTripperCounter(requestCounter,
		promhttp.InstrumentRoundTripperDuration(requestDuration,
			http.DefaultTransport,
		),
	)
	return &http.Client{Transport: rt, Timeout: 20 * time.Second}
}
