// Package metrics provides the gateway's Prometheus instrumentation.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/chat/circuitbreaker"
)

// Collector implements gateway.Observer on top of Prometheus. Register one
// per process; promauto ties the metrics to the default registry.
type Collector struct {
	chatCallsTotal     *prometheus.CounterVec
	chatCallDuration   *prometheus.HistogramVec
	streamEventsTotal  *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
}

// NewCollector creates the collector under the given namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		chatCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_calls_total",
				Help:      "Chat calls by agent, vendor and outcome",
			},
			[]string{"agent_id", "vendor", "outcome"},
		),
		chatCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_call_duration_seconds",
				Help:      "Chat call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent_id", "vendor"},
		),
		streamEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Normalized stream events by vendor and kind",
			},
			[]string{"vendor", "kind"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per agent (0=closed 1=open 2=half-open)",
			},
			[]string{"agent_id"},
		),
		breakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Circuit breaker state transitions per agent",
			},
			[]string{"agent_id", "from", "to"},
		),
	}
}

// ObserveCall records one finished (or rejected) chat call.
func (c *Collector) ObserveCall(agentID string, vendor chat.VendorKind, outcome string, duration time.Duration) {
	c.chatCallsTotal.WithLabelValues(agentID, string(vendor), outcome).Inc()
	c.chatCallDuration.WithLabelValues(agentID, string(vendor)).Observe(duration.Seconds())
}

// ObserveStreamEvent records one normalized stream event.
func (c *Collector) ObserveStreamEvent(vendor chat.VendorKind, kind chat.EventKind) {
	c.streamEventsTotal.WithLabelValues(string(vendor), string(kind)).Inc()
}

// ObserveBreakerTransition records a breaker state change and updates the
// per-agent state gauge.
func (c *Collector) ObserveBreakerTransition(agentID string, from, to circuitbreaker.State) {
	c.breakerTransitions.WithLabelValues(agentID, from.String(), to.String()).Inc()
	c.breakerState.WithLabelValues(agentID).Set(stateValue(to))
}

func stateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
