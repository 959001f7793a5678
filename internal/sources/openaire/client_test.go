package openaire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/sources"
)

func newTestClient(serverURL string) *Client {
	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Timeout:    5 * time.Second,
		RateLimit:  1000,
		BurstSize:  1000,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	return NewWithHTTPClient(Config{
		BaseURL: serverURL,
		Tuning:  sources.QueryTuning{RetryDelay: time.Millisecond},
		Logger:  zerolog.Nop(),
	}, httpClient)
}

func graphBody(total int, next string, ids ...string) string {
	results := ""
	for i, id := range ids {
		if i > 0 {
			results += ","
		}
		results += fmt.Sprintf(`{"id": %q, "mainTitle": "t"}`, id)
	}
	return fmt.Sprintf(`{"header": {"numFound": %d, "nextCursor": %q}, "results": [%s]}`, total, next, results)
}

func TestFetchOneDecodesResearchProducts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/researchProducts", r.URL.Path)
		assert.Equal(t, "10.1234/abc", r.URL.Query().Get("pid"))
		fmt.Fprint(w, graphBody(1, "", "openaire::p1"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	records, err := c.FetchOne(context.Background(), domain.KindDOI, "10.1234/abc")
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "openaire::p1", records[0].NaturalID)
	assert.Equal(t, "OpenAIRE", records[0].Source)
	assert.Equal(t, "researchProducts", records[0].Entity)
}

func TestFetchOnePaginates(t *testing.T) {
	pages := map[string]string{
		"*":  graphBody(3, "c2", "p1", "p2"),
		"c2": graphBody(3, "", "p3"),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Query().Get("cursor")]
		require.True(t, ok, "unexpected cursor %q", r.URL.Query().Get("cursor"))
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	records, err := c.FetchOne(context.Background(), domain.KindDOI, "10.1234/abc")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "p1", records[0].NaturalID)
	assert.Equal(t, "p3", records[2].NaturalID)
}

func TestFetchOneStripsIdentifierPrefixes(t *testing.T) {
	var pid, orcid string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.URL.Query().Get("pid"); v != "" {
			pid = v
		}
		if v := r.URL.Query().Get("authorOrcid"); v != "" {
			orcid = v
		}
		fmt.Fprint(w, graphBody(1, "", "p1"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.FetchOne(context.Background(), domain.KindArxiv, "arXiv:2101.00001")
	require.NoError(t, err)
	assert.Equal(t, "2101.00001", pid)

	_, err = c.FetchOne(context.Background(), domain.KindORCID, "https://orcid.org/0000-0002-1825-0097")
	require.NoError(t, err)
	assert.Equal(t, "0000-0002-1825-0097", orcid)
}

func TestFetchOneRejectsBadEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"header": {"numFound": 1}}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchOne(context.Background(), domain.KindDOI, "10.1234/abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchema)
}

func TestFetchOneUnsupportedKind(t *testing.T) {
	c := newTestClient("http://unused.invalid")
	_, err := c.FetchOne(context.Background(), domain.KindPure, "some-uuid")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnresolvedKind)
}

func TestFetchIsolatesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pid") == "10.1234/good" {
			fmt.Fprint(w, graphBody(1, "", "p-good"))
			return
		}
		fmt.Fprint(w, `{"not": "a graph response"}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.AddID(domain.KindDOI, "10.1234/good")
	c.AddID(domain.KindDOI, "10.1234/broken")

	out := c.Fetch(context.Background())
	require.Len(t, out, 1)
	assert.Contains(t, out, "10.1234/good")
}

func TestAddIDIgnoresOtherKinds(t *testing.T) {
	c := newTestClient("http://unused.invalid")
	c.AddID(domain.KindPure, "some-uuid")
	c.AddID(domain.KindISBN, "978-0-306-40615-7")

	out := c.Fetch(context.Background())
	assert.Empty(t, out)
}

type captureSink struct {
	mu     sync.Mutex
	stores int
	total  int
}

func (s *captureSink) Store(_ context.Context, _ string, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores++
	s.total += len(records)
	return nil
}

func TestSetSinkStreamsWithoutLosingResults(t *testing.T) {
	pages := map[string]string{
		"*":  graphBody(4, "c2", "p1", "p2"),
		"c2": graphBody(4, "", "p3", "p4"),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pages[r.URL.Query().Get("cursor")])
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.config.Tuning.FlushThreshold = 2
	sink := &captureSink{}
	c.SetSink(sink)

	records, err := c.FetchOne(context.Background(), domain.KindDOI, "10.1234/abc")
	require.NoError(t, err)

	// Every record reaches the sink exactly once, and Fetch attribution
	// still sees all of them.
	assert.Equal(t, 4, sink.total)
	assert.GreaterOrEqual(t, sink.stores, 2)
	require.Len(t, records, 4)
}
