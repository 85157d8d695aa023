package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	generationCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ikonga",
			Subsystem: "generation",
			Name:      "calls_total",
			Help:      "Calls made to the generative content service.",
		},
		[]string{"kind", "outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ikonga",
			Subsystem: "generation",
			Name:      "call_duration_seconds",
			Help:      "Duration of calls to the generative content service.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"kind"},
	)

	generationSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ikonga",
			Subsystem: "generation",
			Name:      "skipped_total",
			Help:      "Week generations short-circuited before calling the service.",
		},
		[]string{"reason"},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ikonga",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Day content resolutions by outcome.",
		},
		[]string{"status", "source"},
	)

	recipeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ikonga",
			Subsystem: "recipes",
			Name:      "lookups_total",
			Help:      "Recipe cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		generationCalls,
		generationDuration,
		generationSkips,
		resolutions,
		recipeLookups,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveGeneration records one call to the generative service.
// kind is "week" or "recipe"; outcome is "ok", "error" or "timeout".
func ObserveGeneration(kind, outcome string, d time.Duration) {
	generationCalls.WithLabelValues(kind, outcome).Inc()
	generationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveGenerationSkip records a week generation that never reached the service.
func ObserveGenerationSkip(reason string) {
	generationSkips.WithLabelValues(reason).Inc()
}

// ObserveResolution records the outcome of a day content resolution.
func ObserveResolution(status, source string) {
	resolutions.WithLabelValues(status, source).Inc()
}

// ObserveRecipeLookup records a recipe cache hit, miss or failure.
func ObserveRecipeLookup(result string) {
	recipeLookups.WithLabelValues(result).Inc()
}
