// Package metrics exposes Prometheus metrics for the session server: active
// session count, UDP packet volume, and CDR record counts by action.
//
// Grounded directly on internal/metrics/collector.go's Collector -- same
// namespace-prefixed Gauge/CounterVec shape and
// NewCollector(reg)-with-nil-default construction -- adapted from BFD
// session/packet/auth metrics to this system's admission/CDR metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillidk/minipgw/internal/cdr"
	"github.com/kirillidk/minipgw/internal/eventbus"
)

const namespace = "minipgw"

const labelAction = "action"
const labelDirection = "direction"

// UDP packet directions for the direction label on UDPPackets.
const (
	DirectionRX      = "rx"
	DirectionTX      = "tx"
	DirectionDropped = "dropped"
)

// Collector holds all minipgw Prometheus metrics.
type Collector struct {
	// Sessions tracks the number of currently active sessions.
	Sessions prometheus.Gauge

	// CDRRecords counts CDR lines written, labeled by action
	// (created, deleted, rejected).
	CDRRecords *prometheus.CounterVec

	// UDPPackets counts UDP datagrams, labeled by direction
	// (rx, tx, dropped).
	UDPPackets *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.CDRRecords,
		c.UDPPackets,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active subscriber sessions.",
		}),

		CDRRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cdr_records_total",
			Help:      "Total CDR records written, by action.",
		}, []string{labelAction}),

		UDPPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_packets_total",
			Help:      "Total UDP datagrams, by direction.",
		}, []string{labelDirection}),
	}
}

// OnSessionCreated is the SessionCreated subscriber: increments the active
// sessions gauge.
func (c *Collector) OnSessionCreated(eventbus.SessionCreated) { c.Sessions.Inc() }

// OnSessionDeleted is the SessionDeleted subscriber: decrements the active
// sessions gauge.
func (c *Collector) OnSessionDeleted(eventbus.SessionDeleted) { c.Sessions.Dec() }

// OnCDRRecord increments the CDR record counter for the given action. Wired
// as cdr.Writer's OnRecordWritten callback.
func (c *Collector) OnCDRRecord(action cdr.Action) {
	c.CDRRecords.WithLabelValues(string(action)).Inc()
}

// IncPacketsReceived increments the received UDP datagram counter.
func (c *Collector) IncPacketsReceived() { c.UDPPackets.WithLabelValues(DirectionRX).Inc() }

// IncPacketsSent increments the sent UDP verdict counter.
func (c *Collector) IncPacketsSent() { c.UDPPackets.WithLabelValues(DirectionTX).Inc() }

// IncPacketsDropped increments the dropped UDP datagram counter.
func (c *Collector) IncPacketsDropped() { c.UDPPackets.WithLabelValues(DirectionDropped).Inc() }
