// Package metrics exposes Prometheus counters and gauges for the
// session and fetch subsystems, plus the health/metrics HTTP server
// that serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NodeMetrics is the process-wide metric set. A single instance is
// created at startup and registered against a private registry so it
// never collides with anything the default global registry might
// carry.
type NodeMetrics struct {
	ActiveSessions   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	SessionsReaped   prometheus.Counter
	AckQueueDepth    prometheus.Gauge
	ResendQueueDepth prometheus.Gauge
	Retransmits      prometheus.Counter

	SegmentsStarted  prometheus.Counter
	SegmentsDecoded  *prometheus.CounterVec
	SegmentErrors    *prometheus.CounterVec
	BlockFetches     *prometheus.CounterVec
	HealsQueued      prometheus.Counter
	DecodeLatency    prometheus.Histogram
}

// New builds a NodeMetrics with every collector created, but not yet
// registered against any registry.
func New() *NodeMetrics {
	return &NodeMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlaynode",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of peer sessions currently tracked by the session manager.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total number of peer sessions created.",
		}),
		SessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "session",
			Name:      "reaped_total",
			Help:      "Total number of peer sessions removed by idle cleanup.",
		}),
		AckQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlaynode",
			Subsystem: "session",
			Name:      "ack_queue_depth",
			Help:      "Sum of pending ack-queue entries across all sessions.",
		}),
		ResendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlaynode",
			Subsystem: "session",
			Name:      "resend_queue_depth",
			Help:      "Sum of pending resend-request entries across all sessions.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "session",
			Name:      "retransmits_total",
			Help:      "Total number of resend requests marked sent.",
		}),
		SegmentsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "fetch",
			Name:      "segments_started_total",
			Help:      "Total number of fetch segments scheduled.",
		}),
		SegmentsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "fetch",
			Name:      "segments_finished_total",
			Help:      "Total number of fetch segments that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		SegmentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "fetch",
			Name:      "block_errors_total",
			Help:      "Total number of per-block fetch errors, by error code.",
		}, []string{"code"}),
		BlockFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "fetch",
			Name:      "block_fetches_total",
			Help:      "Total number of block fetch outcomes, by kind (data/check) and result.",
		}, []string{"kind", "result"}),
		HealsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlaynode",
			Subsystem: "fetch",
			Name:      "heals_queued_total",
			Help:      "Total number of blocks queued for reinsertion by the heal pass.",
		}),
		DecodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overlaynode",
			Subsystem: "fetch",
			Name:      "decode_latency_seconds",
			Help:      "Time from quorum being reached to the decoded blob being published.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register adds every collector in m to reg. Call once at startup.
func (m *NodeMetrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.SessionsReaped,
		m.AckQueueDepth,
		m.ResendQueueDepth,
		m.Retransmits,
		m.SegmentsStarted,
		m.SegmentsDecoded,
		m.SegmentErrors,
		m.BlockFetches,
		m.HealsQueued,
		m.DecodeLatency,
	)
}
