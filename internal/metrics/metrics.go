// Package metrics exposes Prometheus counters for the operator graph.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	eventsEmitted *prometheus.CounterVec
	sideQueries   *prometheus.CounterVec
	recomputes    *prometheus.CounterVec
	fallbacks     prometheus.Counter
	liveOperators *prometheus.GaugeVec
)

func init() {
	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pglive_events_emitted_total",
			Help: "Row events delivered to listeners, by operator kind and event kind",
		},
		[]string{"operator", "event"},
	)
	sideQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pglive_side_queries_total",
			Help: "Auxiliary store queries issued while handling events",
		},
		[]string{"operator"},
	)
	recomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pglive_recomputes_total",
			Help: "Full recompute or refetch queries issued by operators",
		},
		[]string{"operator"},
	)
	fallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pglive_compile_fallbacks_total",
		Help: "Queries compiled to the brute-force fallback operator",
	})
	liveOperators = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pglive_live_operators",
			Help: "Operators currently attached to the graph",
		},
		[]string{"operator"},
	)
}

func IncEvents(operator, event string) {
	eventsEmitted.WithLabelValues(operator, event).Inc()
}

func IncSideQueries(operator string) {
	sideQueries.WithLabelValues(operator).Inc()
}

func IncRecomputes(operator string) {
	recomputes.WithLabelValues(operator).Inc()
}

func IncFallbacks() { fallbacks.Inc() }

// OperatorAttached and OperatorReleased track the live graph size.
func OperatorAttached(operator string) { liveOperators.WithLabelValues(operator).Inc() }
func OperatorReleased(operator string) { liveOperators.WithLabelValues(operator).Dec() }

// LiveOperators reads the live graph size for one operator kind.
func LiveOperators(operator string) float64 {
	var m dto.Metric
	if err := liveOperators.WithLabelValues(operator).Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
