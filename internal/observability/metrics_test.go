package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	// Use unique namespace to avoid conflicts with other tests
	m := NewMetrics("test_harvester_new")

	assert.NotNil(t, m.ValidationsTotal)
	assert.NotNil(t, m.ValidationFailures)
	assert.NotNil(t, m.RetrievalsStarted)
	assert.NotNil(t, m.RetrievalsCompleted)
	assert.NotNil(t, m.RetrievalsFailed)
	assert.NotNil(t, m.RetrievalDuration)
	assert.NotNil(t, m.IdentifiersDropped)
	assert.NotNil(t, m.SourceRequestsTotal)
	assert.NotNil(t, m.SourceRequestsFailed)
	assert.NotNil(t, m.QueryPages)
	assert.NotNil(t, m.QueryRetries)
	assert.NotNil(t, m.QueryAborts)
	assert.NotNil(t, m.RecordsRetrieved)
	assert.NotNil(t, m.RecordsStored)
	assert.NotNil(t, m.RecordsSkipped)
}

func TestRecordValidation(t *testing.T) {
	m := NewMetrics("test_validation")

	m.RecordValidation("doi", true)
	m.RecordValidation("doi", false)
	m.RecordValidation("orcid", true)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("doi")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ValidationFailures.WithLabelValues("doi")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("orcid")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ValidationFailures.WithLabelValues("orcid")))
}

func TestRecordRetrievalStarted(t *testing.T) {
	m := NewMetrics("test_retrieval_started")

	initial := testutil.ToFloat64(m.RetrievalsStarted)
	m.RecordRetrievalStarted()
	assert.Equal(t, initial+1, testutil.ToFloat64(m.RetrievalsStarted))
}

func TestRecordRetrievalCompleted(t *testing.T) {
	m := NewMetrics("test_retrieval_completed")

	initial := testutil.ToFloat64(m.RetrievalsCompleted)
	m.RecordRetrievalCompleted(5.5)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.RetrievalsCompleted))

	// Check histogram
	histCount, err := getHistogramSampleCount(m.RetrievalDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordRetrievalFailed(t *testing.T) {
	m := NewMetrics("test_retrieval_failed")

	initial := testutil.ToFloat64(m.RetrievalsFailed)
	m.RecordRetrievalFailed(3.0)
	assert.Equal(t, initial+1, testutil.ToFloat64(m.RetrievalsFailed))
}

func TestRecordIdentifierDropped(t *testing.T) {
	m := NewMetrics("test_identifier_dropped")

	m.RecordIdentifierDropped("isbn")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IdentifiersDropped.WithLabelValues("isbn")))
}

func TestRecordSourceRequest(t *testing.T) {
	m := NewMetrics("test_source_request")

	m.RecordSourceRequest("OpenAlex", "works", 0.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("OpenAlex", "works")))
}

func TestRecordSourceRequestFailed(t *testing.T) {
	m := NewMetrics("test_source_request_failed")

	m.RecordSourceRequestFailed("Crossref", "works", "timeout")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("Crossref", "works", "timeout")))
}

func TestRecordSourceRateLimited(t *testing.T) {
	m := NewMetrics("test_source_rate_limited")

	m.RecordSourceRateLimited("PubMed")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("PubMed")))
}

func TestRecordQueryPage(t *testing.T) {
	m := NewMetrics("test_query_page")

	m.RecordQueryPage("OpenAlex")
	m.RecordQueryPage("OpenAlex")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.QueryPages.WithLabelValues("OpenAlex")))
}

func TestRecordQueryRetry(t *testing.T) {
	m := NewMetrics("test_query_retry")

	m.RecordQueryRetry("OpenAIRE")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueryRetries.WithLabelValues("OpenAIRE")))
}

func TestRecordQueryAbort(t *testing.T) {
	m := NewMetrics("test_query_abort")

	m.RecordQueryAbort("OpenAIRE")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueryAborts.WithLabelValues("OpenAIRE")))
}

func TestRecordQueryCompleted(t *testing.T) {
	m := NewMetrics("test_query_completed")

	m.RecordQueryCompleted("OpenAlex", 42)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.RecordsRetrieved.WithLabelValues("OpenAlex")))
}

func TestRecordRecordsStored(t *testing.T) {
	m := NewMetrics("test_records_stored")

	m.RecordRecordsStored("openalex_works", 25)
	assert.Equal(t, float64(25), testutil.ToFloat64(m.RecordsStored.WithLabelValues("openalex_works")))
}

func TestRecordRecordsSkipped(t *testing.T) {
	m := NewMetrics("test_records_skipped")

	m.RecordRecordsSkipped("openalex_works", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RecordsSkipped.WithLabelValues("openalex_works")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
