// Package dchatmetrics provides a Prometheus-backed implementation of
// chat.Metrics for production deployments.
package dchatmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dchat-io/dchat/internal/chat"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "dchat"
	subsystem = "engine"
)

// Label names for engine metrics.
const (
	labelContentType = "content_type"
	labelReason      = "reason"
	labelFromState   = "from_state"
	labelToState     = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Engine Metrics
// -------------------------------------------------------------------------

// Collector holds all DChat engine Prometheus metrics and implements
// chat.Metrics.
type Collector struct {
	// Contacts tracks the number of currently connected contacts.
	Contacts prometheus.Gauge

	// PDUsSent counts PDUs transmitted, labeled by content type.
	PDUsSent *prometheus.CounterVec

	// PDUsReceived counts PDUs received, labeled by content type.
	PDUsReceived *prometheus.CounterVec

	// PDUsDropped counts PDUs dropped, labeled by the reason.
	PDUsDropped *prometheus.CounterVec

	// StateTransitions counts peer-session FSM transitions, labeled by
	// the old and new state.
	StateTransitions *prometheus.CounterVec

	// IdentityViolations counts Control/Discover PDUs from an
	// already-identified contact claiming a different onion-id or port.
	IdentityViolations prometheus.Counter
}

var _ chat.Metrics = (*Collector)(nil)

// NewCollector creates a Collector with all engine metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Contacts,
		c.PDUsSent,
		c.PDUsReceived,
		c.PDUsDropped,
		c.StateTransitions,
		c.IdentityViolations,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Contacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "contacts",
			Help:      "Number of currently connected contacts.",
		}),

		PDUsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_sent_total",
			Help:      "Total PDUs transmitted, by content type.",
		}, []string{labelContentType}),

		PDUsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_received_total",
			Help:      "Total PDUs received, by content type.",
		}, []string{labelContentType}),

		PDUsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdus_dropped_total",
			Help:      "Total PDUs dropped, by reason.",
		}, []string{labelReason}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total peer-session FSM state transitions.",
		}, []string{labelFromState, labelToState}),

		IdentityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "identity_violations_total",
			Help:      "Total Control/Discover PDUs claiming a changed identity.",
		}),
	}
}

// ContactAdded implements chat.Metrics.
func (c *Collector) ContactAdded() { c.Contacts.Inc() }

// ContactRemoved implements chat.Metrics.
func (c *Collector) ContactRemoved() { c.Contacts.Dec() }

// PDUSent implements chat.Metrics.
func (c *Collector) PDUSent(contentType string) {
	c.PDUsSent.WithLabelValues(contentType).Inc()
}

// PDUReceived implements chat.Metrics.
func (c *Collector) PDUReceived(contentType string) {
	c.PDUsReceived.WithLabelValues(contentType).Inc()
}

// PDUDropped implements chat.Metrics.
func (c *Collector) PDUDropped(reason string) {
	c.PDUsDropped.WithLabelValues(reason).Inc()
}

// StateTransition implements chat.Metrics.
func (c *Collector) StateTransition(from, to string) {
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// IdentityViolation implements chat.Metrics.
func (c *Collector) IdentityViolation() { c.IdentityViolations.Inc() }
