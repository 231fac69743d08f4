package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry holds every collector exposed on /metrics.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		CommandDuration, CommandTotal,
		ModelCallTotal, ToolCallTotal, ToolDuration,
		LLMTokensTotal, LLMCostUSD,
		HTTPRequestTotal, RateLimitedTotal,
	)
}

// CommandDuration is the end-to-end time to resolve one instruction.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "dbm_command_duration_seconds",
		Help:    "Time to resolve one instruction (seconds).",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"outcome"},
)

// CommandTotal counts finished instructions by outcome (ok or an error kind).
var CommandTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dbm_command_total",
		Help: "Instructions processed, by outcome.",
	},
	[]string{"outcome"},
)

var ModelCallTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dbm_model_call_total",
		Help: "Chat model calls, by result.",
	},
	[]string{"result"}, // ok | retry | error
)

var ToolCallTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dbm_tool_call_total",
		Help: "Tool calls, by tool and status.",
	},
	[]string{"tool", "status"}, // succeeded | rejected | failed
)

var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "dbm_tool_duration_seconds",
		Help:    "Domain operation latency (seconds).",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dbm_llm_tokens_total",
		Help: "LLM tokens consumed.",
	},
	[]string{"direction"}, // input | output
)

var LLMCostUSD = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dbm_llm_cost_usd_total",
		Help: "Estimated LLM spend in USD.",
	},
)

var HTTPRequestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dbm_http_request_total",
		Help: "HTTP requests, by route and status code.",
	},
	[]string{"route", "code"},
)

var RateLimitedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dbm_http_rate_limited_total",
		Help: "Requests rejected by the per-user rate limiter.",
	},
)

// WritePrometheus writes the registry in the Prometheus text format.
func WritePrometheus(w io.Writer) error {
	mfs, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
