package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "viirs_qc"

// Metrics holds the Prometheus counters, histograms, and gauges for the QC pipeline.
type Metrics struct {
	ScenesConsumed  prometheus.Counter
	ScenesAssessed  prometheus.Counter
	SceneFailures   *prometheus.CounterVec // labels: class={scene_unreadable,schema_mismatch,...}
	ReportsProduced prometheus.Counter
	NoUsableData    prometheus.Counter
	UsableFraction  prometheus.Histogram
	PipelineRunning prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ScenesConsumed,
		m.ScenesAssessed,
		m.SceneFailures,
		m.ReportsProduced,
		m.NoUsableData,
		m.UsableFraction,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ScenesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_consumed_total",
			Help:      "Total scene requests read from the source.",
		}),
		ScenesAssessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_assessed_total",
			Help:      "Total scenes that produced a quality report.",
		}),
		SceneFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scene_failures_total",
			Help:      "Scenes skipped because assessment failed, by error class.",
		}, []string{"class"}),
		ReportsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_produced_total",
			Help:      "Total reports written to the sink.",
		}),
		NoUsableData: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_usable_data_total",
			Help:      "Scenes whose usability mask kept no valid pixel.",
		}),
		UsableFraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usable_fraction",
			Help:      "Fraction of scene pixels passing every active criterion.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of scene requests per extracted batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-assess-load cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}
