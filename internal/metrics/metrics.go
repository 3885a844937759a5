// Package metrics defines the prometheus collectors exported by wifid.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wifid"

// Metrics holds every collector used by the control plane.
type Metrics struct {
	// Requests counts handled requests by command and result, where result
	// is "ok" or the error kind.
	Requests *prometheus.CounterVec

	// Latency observes request handling time by command.
	Latency *prometheus.HistogramVec

	// Notifications counts notifications published by multicast group.
	Notifications *prometheus.CounterVec

	// Dropped counts notifications discarded from full subscriber queues.
	Dropped *prometheus.CounterVec

	// Scans counts finished scans by outcome.
	Scans *prometheus.CounterVec

	// LateScanResults counts radio scan callbacks arriving after their scan
	// was already finished.
	LateScanResults prometheus.Counter

	// Interfaces is the number of virtual interfaces registered.
	Interfaces prometheus.Gauge

	// Sessions is the number of open control socket sessions.
	Sessions prometheus.Gauge
}

// New creates Metrics and registers them with reg. A nil reg leaves the
// collectors unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Control requests handled, by command and result.",
		}, []string{"command", "result"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Control request handling latency, by command.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"command"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications published, by multicast group.",
		}, []string{"group"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped from full subscriber queues, by multicast group.",
		}, []string{"group"}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans finished, by outcome.",
		}, []string{"outcome"}),
		LateScanResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_late_results_total",
			Help:      "Radio scan callbacks discarded because their scan had already finished.",
		}),
		Interfaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interfaces",
			Help:      "Virtual interfaces currently registered.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Open control socket sessions.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Requests,
			m.Latency,
			m.Notifications,
			m.Dropped,
			m.Scans,
			m.LateScanResults,
			m.Interfaces,
			m.Sessions,
		)
	}

	return m
}

// OrNew returns m, or unregistered Metrics when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}

	return New(nil)
}
