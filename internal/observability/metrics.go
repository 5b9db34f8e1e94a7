package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the DVR engine. Registered on the default
// registry; the control API exposes them on /metrics.
var (
	// EventsProcessed counts collaborator events drained by the workers,
	// labelled by kind (record, playback).
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dvrr",
		Name:      "events_processed_total",
		Help:      "Collaborator events processed by the engine workers.",
	}, []string{"kind"})

	// SessionsActive tracks open sessions by kind.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dvrr",
		Name:      "sessions_active",
		Help:      "Currently open record and playback sessions.",
	}, []string{"kind"})

	// SegmentsRolled counts segment rollovers triggered by the segment
	// size policy or PID updates.
	SegmentsRolled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dvrr",
		Name:      "segments_rolled_total",
		Help:      "Segments rolled over during recording.",
	})

	// SegmentsReclaimed counts segments removed by timeshift retention.
	SegmentsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dvrr",
		Name:      "segments_reclaimed_total",
		Help:      "Segments reclaimed by retention policies.",
	})

	// IndexEvents counts TS indexer events by type.
	IndexEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dvrr",
		Name:      "index_events_total",
		Help:      "Index events emitted by the TS indexer.",
	}, []string{"type"})
)
