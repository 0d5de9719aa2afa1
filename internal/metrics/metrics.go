package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts scan payloads by outcome: matched, duplicate, unknown_tag, malformed.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "scans_total",
		Help:      "RFID scan payloads processed, by result.",
	}, []string{"result"})

	// Sessions counts finalized sessions by mode.
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "sessions_finalized_total",
		Help:      "Attendance sessions finalized, by mode.",
	}, []string{"mode"})

	// BroadcastFailures counts manual broadcasts that could not be published.
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "broadcast_failures_total",
		Help:      "Manual session broadcasts that failed or were skipped while disconnected.",
	})

	// PersistFailures counts failed writes per document key.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend",
		Name:      "persist_failures_total",
		Help:      "Failed writes of a persisted collection.",
	}, []string{"key"})

	// RosterSize tracks the number of registered students.
	RosterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "classattend",
		Name:      "roster_size",
		Help:      "Number of students in the roster.",
	})
)
