package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the metadata harvester.
// Metrics are organized by subsystem: validation, retrieval, sources, queries,
// and storage. All counters and histograms are registered via promauto for
// automatic registration with the default Prometheus registry.
//
// All Record methods accept a nil receiver as a no-op, so components can hold
// a *Metrics unconditionally and callers decide whether collection is on.
type Metrics struct {
	// ValidationsTotal counts identifier validation attempts, labeled by kind.
	ValidationsTotal *prometheus.CounterVec

	// ValidationFailures counts identifiers rejected by validation, labeled by kind.
	ValidationFailures *prometheus.CounterVec

	// RetrievalsStarted counts the total number of retrieval batches initiated.
	RetrievalsStarted prometheus.Counter

	// RetrievalsCompleted counts the total number of retrieval batches that finished.
	RetrievalsCompleted prometheus.Counter

	// RetrievalsFailed counts the total number of retrieval batches that ended in failure.
	RetrievalsFailed prometheus.Counter

	// RetrievalDuration observes the end-to-end duration of retrieval batches in seconds.
	RetrievalDuration prometheus.Histogram

	// IdentifiersDropped counts identifiers dropped before retrieval, labeled by kind.
	IdentifiersDropped *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to source APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to source APIs, labeled by
	// source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from source APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// QueryPages counts result pages fetched by cursor queries, labeled by source.
	QueryPages *prometheus.CounterVec

	// QueryRetries counts query retries after transient failures or pagination
	// glitches, labeled by source.
	QueryRetries *prometheus.CounterVec

	// QueryAborts counts queries that aborted before completion, labeled by source.
	QueryAborts *prometheus.CounterVec

	// RecordsRetrieved counts metadata records retrieved, labeled by source.
	RecordsRetrieved *prometheus.CounterVec

	// RecordsPerQuery observes the distribution of records returned per query,
	// labeled by source.
	RecordsPerQuery *prometheus.HistogramVec

	// RecordsStored counts records written to storage, labeled by table.
	RecordsStored *prometheus.CounterVec

	// RecordsSkipped counts records skipped as already stored, labeled by table.
	RecordsSkipped *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Validation
		ValidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Total number of identifier validations by kind",
		}, []string{"kind"}),
		ValidationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Total number of identifiers rejected by validation by kind",
		}, []string{"kind"}),

		// Retrievals
		RetrievalsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_started_total",
			Help:      "Total number of retrieval batches started",
		}),
		RetrievalsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_completed_total",
			Help:      "Total number of retrieval batches completed successfully",
		}),
		RetrievalsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_failed_total",
			Help:      "Total number of retrieval batches that failed",
		}),
		RetrievalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of retrieval batches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
		IdentifiersDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identifiers_dropped_total",
			Help:      "Total number of identifiers dropped before retrieval by kind",
		}, []string{"kind"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to metadata sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to metadata sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to metadata sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from metadata sources",
		}, []string{"source"}),

		// Queries
		QueryPages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_pages_total",
			Help:      "Total number of result pages fetched by source",
		}, []string{"source"}),
		QueryRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_retries_total",
			Help:      "Total number of query retries by source",
		}, []string{"source"}),
		QueryAborts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_aborts_total",
			Help:      "Total number of queries aborted before completion by source",
		}, []string{"source"}),
		RecordsRetrieved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_retrieved_total",
			Help:      "Total number of metadata records retrieved by source",
		}, []string{"source"}),
		RecordsPerQuery: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "records_per_query",
			Help:      "Number of records returned per query by source",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		}, []string{"source"}),

		// Storage
		RecordsStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_stored_total",
			Help:      "Total number of records written to storage by table",
		}, []string{"table"}),
		RecordsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Total number of records skipped as already stored by table",
		}, []string{"table"}),
	}
}

// RecordValidation records a validation attempt and its outcome.
func (m *Metrics) RecordValidation(kind string, ok bool) {
	if m == nil {
		return
	}
	m.ValidationsTotal.WithLabelValues(kind).Inc()
	if !ok {
		m.ValidationFailures.WithLabelValues(kind).Inc()
	}
}

// RecordRetrievalStarted records that a retrieval batch has started.
func (m *Metrics) RecordRetrievalStarted() {
	if m == nil {
		return
	}
	m.RetrievalsStarted.Inc()
}

// RecordRetrievalCompleted records that a retrieval batch has completed.
func (m *Metrics) RecordRetrievalCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RetrievalsCompleted.Inc()
	m.RetrievalDuration.Observe(durationSeconds)
}

// RecordRetrievalFailed records that a retrieval batch has failed.
func (m *Metrics) RecordRetrievalFailed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RetrievalsFailed.Inc()
	m.RetrievalDuration.Observe(durationSeconds)
}

// RecordIdentifierDropped records an identifier dropped before retrieval.
func (m *Metrics) RecordIdentifierDropped(kind string) {
	if m == nil {
		return
	}
	m.IdentifiersDropped.WithLabelValues(kind).Inc()
}

// RecordSourceRequest records a request to a metadata source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a metadata source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordQueryPage records a result page fetched by a cursor query.
func (m *Metrics) RecordQueryPage(source string) {
	if m == nil {
		return
	}
	m.QueryPages.WithLabelValues(source).Inc()
}

// RecordQueryRetry records a query retry.
func (m *Metrics) RecordQueryRetry(source string) {
	if m == nil {
		return
	}
	m.QueryRetries.WithLabelValues(source).Inc()
}

// RecordQueryAbort records a query that aborted before completion.
func (m *Metrics) RecordQueryAbort(source string) {
	if m == nil {
		return
	}
	m.QueryAborts.WithLabelValues(source).Inc()
}

// RecordQueryCompleted records a query that ran to completion.
func (m *Metrics) RecordQueryCompleted(source string, recordCount int) {
	if m == nil {
		return
	}
	m.RecordsRetrieved.WithLabelValues(source).Add(float64(recordCount))
	m.RecordsPerQuery.WithLabelValues(source).Observe(float64(recordCount))
}

// RecordRecordsStored records records written to a storage table.
func (m *Metrics) RecordRecordsStored(table string, count int) {
	if m == nil {
		return
	}
	m.RecordsStored.WithLabelValues(table).Add(float64(count))
}

// RecordRecordsSkipped records records skipped as already stored.
func (m *Metrics) RecordRecordsSkipped(table string, count int) {
	if m == nil {
		return
	}
	m.RecordsSkipped.WithLabelValues(table).Add(float64(count))
}
