package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streetlight_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL job.
type Metrics struct {
	// Feed reader metrics.
	PagesFetched   *prometheus.CounterVec   // labels: dataset
	RecordsFetched *prometheus.CounterVec   // labels: dataset
	FetchDuration  *prometheus.HistogramVec // labels: dataset

	// Cleaning and join metrics.
	RecordsDropped   *prometheus.CounterVec // labels: source={crimes,requests,buffers}, reason
	BuffersGenerated prometheus.Counter
	SpatialMatches   prometheus.Counter
	BucketCandidates *prometheus.CounterVec // labels: filter={coarse,exact}
	BucketRows       *prometheus.CounterVec // labels: bucket

	// Output metrics.
	RowsWritten     *prometheus.CounterVec // labels: mode
	EventsPublished prometheus.Counter

	StageDuration   *prometheus.HistogramVec // labels: stage
	PipelineRunning prometheus.Gauge
	LastRunSuccess  prometheus.Gauge
}

var stageBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PagesFetched,
		m.RecordsFetched,
		m.FetchDuration,
		m.RecordsDropped,
		m.BuffersGenerated,
		m.SpatialMatches,
		m.BucketCandidates,
		m.BucketRows,
		m.RowsWritten,
		m.EventsPublished,
		m.StageDuration,
		m.PipelineRunning,
		m.LastRunSuccess,
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
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socrata_pages_fetched_total",
			Help:      "Socrata pages fetched by dataset.",
		}, []string{"dataset"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socrata_records_fetched_total",
			Help:      "Socrata rows fetched by dataset.",
		}, []string{"dataset"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "socrata_page_duration_seconds",
			Help:      "Socrata page request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"dataset"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records excluded by the cleaning policy, by source and reason.",
		}, []string{"source", "reason"}),
		BuffersGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_total",
			Help:      "Request buffers generated or loaded.",
		}),
		SpatialMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spatial_matches_total",
			Help:      "Crime and buffer pairs produced by the spatial join.",
		}),
		BucketCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bucket_candidates_total",
			Help:      "Matches surviving the coarse and exact bucket filters.",
		}, []string{"filter"}),
		BucketRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bucket_rows_total",
			Help:      "Lag-bucket output rows by bucket index.",
		}, []string{"bucket"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Output rows by join mode.",
		}, []string{"mode"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Match events written to the sink topic.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the most recent run succeeded, 0 otherwise.",
		}),
	}
}
