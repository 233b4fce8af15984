package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "joules_active_connections",
		Help: "Number of open websocket connections",
	})
	ActiveCaptures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "joules_active_captures",
		Help: "Number of audio captures currently recording",
	})
)

// Counters
var (
	StageOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joules_stage_outcomes_total",
		Help: "Processing stage results by stage and outcome",
	}, []string{"stage", "outcome"})
	StaleResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joules_stale_results_total",
		Help: "Stage results discarded because their session was superseded",
	}, []string{"stage"})
	MeetingsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "joules_meetings_saved_total",
		Help: "Meetings committed to the store",
	})
	MeetingsDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joules_meetings_deleted_total",
		Help: "Meeting deletions by kind (single or clear)",
	}, []string{"kind"})
	DeviceFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "joules_device_failures_total",
		Help: "Capture device open failures",
	})
)

// Histograms
var (
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "joules_stage_duration_ms",
		Help:    "Backend call duration in milliseconds by stage",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
	}, []string{"stage"})
)

// Stage and outcome label values.
const (
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"

	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeUnreachable = "unreachable"
)
