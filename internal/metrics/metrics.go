package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcflow_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	// Ingest metrics
	MonitorObjectsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_monitor_objects_received_total",
			Help: "Total number of monitor objects received",
		},
		[]string{"source", "status"}, // status: accepted, rejected
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qcflow_ingest_batch_size",
			Help:    "Number of monitor objects per received batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	IngestValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_ingest_validation_errors_total",
			Help: "Total number of monitor object validation errors",
		},
		[]string{"error_type"},
	)

	// Runner metrics
	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qcflow_cycles_total",
			Help: "Total number of scheduling cycles",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qcflow_cycle_duration_seconds",
			Help:    "Time taken by one scheduling cycle",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	ChecksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_checks_executed_total",
			Help: "Number of times a check was ready and ran",
		},
		[]string{"check"},
	)

	ChecksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qcflow_checks_skipped_total",
			Help: "Number of times a check was not ready and was skipped",
		},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_verdicts_total",
			Help: "Verdicts produced by quality",
		},
		[]string{"check", "quality"},
	)

	GlobalRevision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcflow_global_revision",
			Help: "Current global revision counter",
		},
	)

	RevisionWraparounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qcflow_revision_wraparounds_total",
			Help: "Number of times the global revision counter wrapped",
		},
	)

	// Alarm metrics
	AlarmResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_alarm_results_total",
			Help: "Alarm evaluations by result",
		},
		[]string{"alarm", "result"},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcflow_worker_queue_size",
			Help: "Current size of the verdict publish queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qcflow_worker_queue_capacity",
			Help: "Capacity of the verdict publish queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qcflow_worker_processed_total",
			Help: "Total number of verdicts published by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qcflow_worker_failed_total",
			Help: "Total number of verdicts workers failed to publish",
		},
	)

	WorkerBatchPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qcflow_worker_batch_publish_duration_seconds",
			Help:    "Time taken to publish a batch of verdicts",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qcflow_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qcflow_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qcflow_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	KafkaConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_kafka_consumed_total",
			Help: "Total number of messages consumed from Kafka",
		},
		[]string{"status"}, // status: decoded, invalid
	)

	// Storage metrics
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qcflow_store_duration_seconds",
			Help:    "Time taken to persist objects",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"kind"}, // kind: quality, monitor_object, state
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qcflow_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
