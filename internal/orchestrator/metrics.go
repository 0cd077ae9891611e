package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chandra-edu/chandra/internal/script"
)

// Metrics holds the orchestrator's Prometheus metrics. All call sites
// are nil-safe (no-op when metrics are disabled).
type Metrics struct {
	ActiveSessions prometheus.Gauge
	LessonLoads    *prometheus.CounterVec
	EventsTotal    *prometheus.CounterVec
	HookFaults     prometheus.Counter
	AutoStops      prometheus.Counter
	TickDuration   prometheus.Histogram
}

// NewMetrics creates and registers orchestrator metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chandra",
			Subsystem: "orchestrator",
			Name:      "active_sessions",
			Help:      "Number of live lesson sessions.",
		}),
		LessonLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chandra",
			Subsystem: "orchestrator",
			Name:      "lesson_loads_total",
			Help:      "Total lesson load attempts.",
		}, []string{"status"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chandra",
			Subsystem: "orchestrator",
			Name:      "events_total",
			Help:      "Total events collected into the global log.",
		}, []string{"type"}),
		HookFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chandra",
			Subsystem: "orchestrator",
			Name:      "hook_faults_total",
			Help:      "Total hook faults absorbed across all sessions.",
		}),
		AutoStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chandra",
			Subsystem: "orchestrator",
			Name:      "auto_stops_total",
			Help:      "Total sessions stopped for exhausting their error budget.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chandra",
			Subsystem: "orchestrator",
			Name:      "tick_duration_seconds",
			Help:      "Duration of an effective tick across all sessions.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.LessonLoads,
		m.EventsTotal,
		m.HookFaults,
		m.AutoStops,
		m.TickDuration,
	)
	return m
}

// lifecycle event types get their own label value; author-emitted types
// collapse into "custom" to keep label cardinality bounded.
var lifecycleTypes = map[string]bool{
	script.EventLessonStarted:   true,
	script.EventLessonCompleted: true,
	script.EventGestureReceived: true,
	script.EventTick:            true,
	script.EventLog:             true,
	script.EventError:           true,
}

func metricEventType(eventType string) string {
	if lifecycleTypes[eventType] {
		return eventType
	}
	return "custom"
}
