package ldapmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "ldapdecode"
	subsystem = "decode"
)

// Label names for decode-driver metrics.
const (
	labelSource = "source"
)

// -------------------------------------------------------------------------
// Collector — Prometheus decoder metrics
// -------------------------------------------------------------------------

// Collector holds all decoder Prometheus metrics, one label set per
// capture source (the capture file path).
type Collector struct {
	// PacketsTotal counts every packet record read from the capture.
	PacketsTotal *prometheus.CounterVec

	// LdapMessages counts BER elements successfully parsed into an
	// LdapMessage.
	LdapMessages *prometheus.CounterVec

	// SkippedTruncated counts packets skipped for being truncated in the
	// capture (spec.md ss4.9 step 1).
	SkippedTruncated *prometheus.CounterVec

	// SkippedNonIPv4 counts packets skipped for a non-IPv4 ethertype.
	SkippedNonIPv4 *prometheus.CounterVec

	// SkippedNonTCP counts packets skipped for a non-TCP IP protocol.
	SkippedNonTCP *prometheus.CounterVec

	// SkippedFiltered counts packets skipped by the server-endpoint filter.
	SkippedFiltered *prometheus.CounterVec

	// SkippedNonLdap counts BER buffers reset for failing the
	// start-of-frame guard (spec.md ss4.7 guard 1).
	SkippedNonLdap *prometheus.CounterVec

	// Errors counts per-message LDAP decode errors, which leave their
	// flow intact, and BER split errors other than a non-LDAP start or an
	// oversized buffer, which reset their flow.
	Errors *prometheus.CounterVec

	// FlowBufferBytes gauges the live carry-over bytes held across all
	// flows at the moment it was last sampled.
	FlowBufferBytes *prometheus.GaugeVec

	// OversizedFlows counts flows dropped for exceeding BerSplitter's
	// size cap (spec.md ss4.7 guard 4).
	OversizedFlows *prometheus.CounterVec

	// EvictedFlows counts flows dropped by idle-flow LRU eviction.
	EvictedFlows *prometheus.CounterVec
}

// NewCollector creates a Collector with all decoder metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsTotal,
		c.LdapMessages,
		c.SkippedTruncated,
		c.SkippedNonIPv4,
		c.SkippedNonTCP,
		c.SkippedFiltered,
		c.SkippedNonLdap,
		c.Errors,
		c.FlowBufferBytes,
		c.OversizedFlows,
		c.EvictedFlows,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	sourceLabels := []string{labelSource}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, sourceLabels)
	}

	return &Collector{
		PacketsTotal:     counter("packets_total", "Total packet records read from the capture."),
		LdapMessages:     counter("ldap_messages_total", "Total LDAP messages successfully parsed."),
		SkippedTruncated: counter("skipped_truncated_total", "Packets skipped for being truncated in the capture."),
		SkippedNonIPv4:   counter("skipped_non_ipv4_total", "Packets skipped for a non-IPv4 ethertype."),
		SkippedNonTCP:    counter("skipped_non_tcp_total", "Packets skipped for a non-TCP IP protocol."),
		SkippedFiltered:  counter("skipped_filtered_total", "Packets skipped by the server-endpoint filter."),
		SkippedNonLdap:   counter("skipped_non_ldap_total", "Flow buffers reset for failing the BER start-of-frame guard."),
		Errors:           counter("errors_total", "Per-message or per-element decode errors."),
		OversizedFlows:   counter("oversized_flow_total", "Flows dropped for exceeding the BER element size cap."),
		EvictedFlows:     counter("evicted_flow_total", "Flows dropped by idle-flow LRU eviction."),

		FlowBufferBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flow_buffer_bytes",
			Help:      "Live carry-over bytes held across all flows, sampled periodically.",
		}, sourceLabels),
	}
}

// -------------------------------------------------------------------------
// Recording helpers
// -------------------------------------------------------------------------

// Every Observe*/Set* method below is a no-op on a nil *Collector, so
// callers that run without a configured registry (e.g. tests) can skip
// the nil check at each call site.

// ObservePacket increments the total packet counter for source.
func (c *Collector) ObservePacket(source string) {
	if c == nil {
		return
	}
	c.PacketsTotal.WithLabelValues(source).Inc()
}

// ObserveLdapMessage increments the LDAP message counter for source.
func (c *Collector) ObserveLdapMessage(source string) {
	if c == nil {
		return
	}
	c.LdapMessages.WithLabelValues(source).Inc()
}

// ObserveError increments the error counter for source.
func (c *Collector) ObserveError(source string) {
	if c == nil {
		return
	}
	c.Errors.WithLabelValues(source).Inc()
}

// ObserveSkippedTruncated increments the truncated-packet counter for source.
func (c *Collector) ObserveSkippedTruncated(source string) {
	if c == nil {
		return
	}
	c.SkippedTruncated.WithLabelValues(source).Inc()
}

// ObserveSkippedNonIPv4 increments the non-IPv4 skip counter for source.
func (c *Collector) ObserveSkippedNonIPv4(source string) {
	if c == nil {
		return
	}
	c.SkippedNonIPv4.WithLabelValues(source).Inc()
}

// ObserveSkippedNonTCP increments the non-TCP skip counter for source.
func (c *Collector) ObserveSkippedNonTCP(source string) {
	if c == nil {
		return
	}
	c.SkippedNonTCP.WithLabelValues(source).Inc()
}

// ObserveSkippedFiltered increments the filtered-flow skip counter for source.
func (c *Collector) ObserveSkippedFiltered(source string) {
	if c == nil {
		return
	}
	c.SkippedFiltered.WithLabelValues(source).Inc()
}

// ObserveSkippedNonLdap increments the non-LDAP-start skip counter for source.
func (c *Collector) ObserveSkippedNonLdap(source string) {
	if c == nil {
		return
	}
	c.SkippedNonLdap.WithLabelValues(source).Inc()
}

// ObserveOversizedFlow increments the oversized-flow counter for source.
func (c *Collector) ObserveOversizedFlow(source string) {
	if c == nil {
		return
	}
	c.OversizedFlows.WithLabelValues(source).Inc()
}

// ObserveEvictedFlow increments the evicted-flow counter for source.
func (c *Collector) ObserveEvictedFlow(source string) {
	if c == nil {
		return
	}
	c.EvictedFlows.WithLabelValues(source).Inc()
}

// SetFlowBufferBytes sets the flow-buffer-bytes gauge for source.
func (c *Collector) SetFlowBufferBytes(source string, n int) {
	if c == nil {
		return
	}
	c.FlowBufferBytes.WithLabelValues(source).Set(float64(n))
}
