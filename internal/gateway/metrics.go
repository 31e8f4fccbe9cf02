package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the gateway's request flow.
type Metrics struct {
	// RequestCounter counts chat requests.
	// Labels: status (ok|denied_input|provider_exhausted|rate_limited|error)
	RequestCounter *prometheus.CounterVec

	// FallbackCounter counts completions served by a non-primary provider.
	// Labels: provider
	FallbackCounter *prometheus.CounterVec

	// ToolCallsUsed observes how many tool calls each request consumed.
	ToolCallsUsed prometheus.Histogram
}

// NewMetrics registers the gateway metrics. A nil registerer uses the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_chat_requests_total",
				Help: "Total chat requests by outcome",
			},
			[]string{"status"},
		),
		FallbackCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_provider_fallbacks_total",
				Help: "Completions served by a fallback provider",
			},
			[]string{"provider"},
		),
		ToolCallsUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "concierge_tool_calls_per_request",
				Help:    "Tool calls consumed per chat request",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
		),
	}
}
