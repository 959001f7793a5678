package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/retriever"
	"github.com/bibworks/metadata-harvester/internal/sources"
	"github.com/bibworks/metadata-harvester/internal/storage"
)

// fakeConnector is a minimal in-memory connector for handler tests.
type fakeConnector struct {
	name    string
	kinds   map[domain.Kind]bool
	ids     []domain.NormalizedID
	respond func(id domain.NormalizedID) []domain.Record
}

func (c *fakeConnector) Setup() {}

func (c *fakeConnector) AddID(kind domain.Kind, value string) {
	if c.kinds[kind] {
		c.ids = append(c.ids, domain.NormalizedID{Kind: kind, Value: value})
	}
}

func (c *fakeConnector) Fetch(_ context.Context) map[string][]domain.Record {
	out := make(map[string][]domain.Record)
	for _, id := range c.ids {
		if recs := c.respond(id); len(recs) > 0 {
			out[id.Value] = recs
		}
	}
	return out
}

func (c *fakeConnector) FetchOne(_ context.Context, kind domain.Kind, value string) ([]domain.Record, error) {
	recs := c.respond(domain.NormalizedID{Kind: kind, Value: value})
	if len(recs) == 0 {
		return nil, domain.ErrNotFound
	}
	return recs, nil
}

func (c *fakeConnector) Name() string { return c.name }

// fakeSink records Store calls.
type fakeSink struct {
	tables  []string
	records []domain.Record
	err     error
}

func (s *fakeSink) Store(_ context.Context, table string, records []domain.Record) error {
	if s.err != nil {
		return s.err
	}
	s.tables = append(s.tables, table)
	s.records = append(s.records, records...)
	return nil
}

func doiRecord(doi string) []domain.Record {
	return []domain.Record{{
		NaturalID:   "W-" + doi,
		Source:      retriever.SourceOpenAlex,
		Entity:      "works",
		Payload:     map[string]any{"doi": doi},
		RetrievedAt: time.Now().UTC(),
	}}
}

func newTestRegistry() *retriever.Registry {
	registry := retriever.NewRegistry()
	registry.Register(retriever.SourceOpenAlex, func() sources.Connector {
		return &fakeConnector{
			name:  retriever.SourceOpenAlex,
			kinds: map[domain.Kind]bool{domain.KindDOI: true},
			respond: func(id domain.NormalizedID) []domain.Record {
				return doiRecord(id.Value)
			},
		}
	})
	return registry
}

func newTestServer(t *testing.T, sink *fakeSink, runs *storage.RunStore) *Server {
	t.Helper()
	var s sources.Sink
	if sink != nil {
		s = sink
	}
	return NewServer(Config{Address: "127.0.0.1:0"}, newTestRegistry(), s, runs, nil, nil, zerolog.Nop())
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestValidateIdentifiers(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/validate", map[string]any{
		"identifiers": []map[string]string{
			{"kind": "doi", "value": "https://doi.org/10.1234/ABC"},
			{"kind": "orcid", "value": "not-an-orcid"},
			{"kind": "custom_field", "value": "opaque-value"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)

	assert.True(t, resp.Results[0].Valid)
	assert.True(t, resp.Results[0].Validated)
	assert.Equal(t, "10.1234/abc", resp.Results[0].Canonical)

	assert.False(t, resp.Results[1].Valid)
	assert.True(t, resp.Results[1].Validated)
	assert.NotEmpty(t, resp.Results[1].Reason)

	// Unknown labels pass through unchanged.
	assert.True(t, resp.Results[2].Valid)
	assert.False(t, resp.Results[2].Validated)
	assert.Equal(t, "opaque-value", resp.Results[2].Canonical)

	assert.Equal(t, 2, resp.ValidCount)
	assert.Equal(t, 1, resp.InvalidCount)
}

func TestValidateIdentifiersRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	t.Run("empty batch", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/validate", map[string]any{
			"identifiers": []map[string]string{},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing value", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/validate", map[string]any{
			"identifiers": []map[string]string{{"kind": "doi"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/validate", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRetrieveMetadata(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/retrieve", map[string]any{
		"identifiers": []map[string]string{
			{"kind": "doi", "value": "doi:10.1234/ABC"},
			{"kind": "doi", "value": "garbage"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 2, resp.IdentifiersRequested)
	assert.Equal(t, 1, resp.IdentifiersResolved)
	assert.Equal(t, 1, resp.RecordsRetrieved)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "garbage", resp.Rejected[0].Value)

	// Results are keyed by the canonical identifier value.
	bySource, ok := resp.Results["10.1234/abc"]
	require.True(t, ok)
	records := bySource[retriever.SourceOpenAlex]
	require.Len(t, records, 1)
	assert.Equal(t, "W-10.1234/abc", records[0].NaturalID)
}

func TestRetrieveMetadataUnknownKindRejected(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/retrieve", map[string]any{
		"identifiers": []map[string]string{
			{"kind": "nonsense", "value": "whatever"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 0, resp.IdentifiersResolved)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "unknown identifier kind", resp.Rejected[0].Reason)
}

func TestRetrieveMetadataPersists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO harvest_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE harvest_runs`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	sink := &fakeSink{}
	runs := storage.NewRunStore(mock, zerolog.Nop())
	srv := newTestServer(t, sink, runs)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/retrieve", map[string]any{
		"identifiers": []map[string]string{
			{"kind": "doi", "value": "10.1234/abc"},
		},
		"persist": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())

	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)

	require.Len(t, sink.records, 1)
	assert.Equal(t, "W-10.1234/abc", sink.records[0].NaturalID)
}

// streamingConnector is a fakeConnector that stores its records through the
// injected sink during Fetch, like the cursor-query connectors do.
type streamingConnector struct {
	fakeConnector
	sink sources.Sink
}

func (c *streamingConnector) SetSink(sink sources.Sink) { c.sink = sink }

func (c *streamingConnector) Fetch(ctx context.Context) map[string][]domain.Record {
	out := c.fakeConnector.Fetch(ctx)
	if c.sink != nil {
		for _, recs := range out {
			_ = c.sink.Store(ctx, "works", recs)
		}
	}
	return out
}

func TestRetrieveMetadataStreamsToSink(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO harvest_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE harvest_runs`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	registry := retriever.NewRegistry()
	registry.Register(retriever.SourceOpenAlex, func() sources.Connector {
		return &streamingConnector{fakeConnector: fakeConnector{
			name:  retriever.SourceOpenAlex,
			kinds: map[domain.Kind]bool{domain.KindDOI: true},
			respond: func(id domain.NormalizedID) []domain.Record {
				return doiRecord(id.Value)
			},
		}}
	})

	sink := &fakeSink{}
	runs := storage.NewRunStore(mock, zerolog.Nop())
	srv := NewServer(Config{Address: "127.0.0.1:0"}, registry, sink, runs, nil, nil, zerolog.Nop())

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/retrieve", map[string]any{
		"identifiers": []map[string]string{
			{"kind": "doi", "value": "10.1234/abc"},
		},
		"persist": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Streamed during retrieval, then once more by the final store. The
	// attribution map must still carry the streamed records.
	require.GreaterOrEqual(t, len(sink.tables), 2)
	assert.Equal(t, "works", sink.tables[0])
	assert.Equal(t, 1, resp.RecordsRetrieved)
	assert.Contains(t, resp.Results, "10.1234/abc")
}

func TestGetRun(t *testing.T) {
	t.Run("persistence disabled", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/runs/7b0d3f4e-57a8-4f9e-9f27-1c2ad62f3a10", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("invalid run id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		srv := newTestServer(t, nil, storage.NewRunStore(mock, zerolog.Nop()))
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT id, status, identifiers_requested`).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "status", "identifiers_requested", "identifiers_resolved",
				"records_retrieved", "error_message", "started_at", "completed_at",
			}))

		srv := newTestServer(t, nil, storage.NewRunStore(mock, zerolog.Nop()))
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/runs/7b0d3f4e-57a8-4f9e-9f27-1c2ad62f3a10", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListRuns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, status, identifiers_requested`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "identifiers_requested", "identifiers_resolved",
			"records_retrieved", "error_message", "started_at", "completed_at",
		}).AddRow(
			uuid.New(), storage.RunStatusCompleted, 2, 2, 5, "", now, &now))

	srv := newTestServer(t, nil, storage.NewRunStore(mock, zerolog.Nop()))
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())

	var resp listRunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, string(storage.RunStatusCompleted), resp.Runs[0].Status)
}

func TestHealthzWithoutDatabase(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
