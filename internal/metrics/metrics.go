package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service's prometheus collectors. A nil *Registry is
// valid and records nothing.
type Registry struct {
	TrainingDuration    *prometheus.HistogramVec
	TrainingRuns        *prometheus.CounterVec
	Predictions         *prometheus.CounterVec
	ImputedFeatures     *prometheus.CounterVec
	PersistenceFailures prometheus.Counter
	ModelCache          *prometheus.CounterVec
	IngestedProperties  *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewRegistry() *Registry {
	r := &Registry{
		TrainingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "propval_training_duration_seconds",
				Help:    "Duration of model training including cross-validation",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind", "result"},
		),
		TrainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propval_training_runs_total",
				Help: "Training runs by model kind and result",
			},
			[]string{"kind", "result"},
		),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propval_predictions_total",
				Help: "Price predictions by model kind",
			},
			[]string{"kind"},
		),
		ImputedFeatures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propval_imputed_features_total",
				Help: "Features imputed at prediction time",
			},
			[]string{"feature"},
		),
		PersistenceFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "propval_model_persistence_failures_total",
				Help: "Model store writes that failed",
			},
		),
		ModelCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propval_model_cache_lookups_total",
				Help: "Model cache lookups by result",
			},
			[]string{"result"},
		),
		IngestedProperties: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propval_ingested_properties_total",
				Help: "Property records processed by the ingest pipeline",
			},
			[]string{"result"},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.TrainingDuration,
		r.TrainingRuns,
		r.Predictions,
		r.ImputedFeatures,
		r.PersistenceFailures,
		r.ModelCache,
		r.IngestedProperties,
	)
	return r
}

// Handler exposes the registry for scraping
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveTraining(kind, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.TrainingDuration.WithLabelValues(kind, result).Observe(d.Seconds())
	r.TrainingRuns.WithLabelValues(kind, result).Inc()
}

func (r *Registry) ObservePrediction(kind string, imputed []string) {
	if r == nil {
		return
	}
	r.Predictions.WithLabelValues(kind).Inc()
	for _, f := range imputed {
		r.ImputedFeatures.WithLabelValues(f).Inc()
	}
}

func (r *Registry) PersistenceFailed() {
	if r == nil {
		return
	}
	r.PersistenceFailures.Inc()
}

func (r *Registry) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.ModelCache.WithLabelValues("hit").Inc()
	} else {
		r.ModelCache.WithLabelValues("miss").Inc()
	}
}

func (r *Registry) Ingested(result string, n int) {
	if r == nil {
		return
	}
	r.IngestedProperties.WithLabelValues(result).Add(float64(n))
}
