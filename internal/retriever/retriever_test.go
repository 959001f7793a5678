package retriever

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/sources"
)

// fakeConnector records AddID calls and serves canned per-id responses.
type fakeConnector struct {
	mu       sync.Mutex
	name     string
	accepted map[domain.Kind]bool
	added    []domain.NormalizedID
	respond  func(value string) []domain.Record
	fail     bool
}

var _ sources.Connector = (*fakeConnector)(nil)

func (f *fakeConnector) Name() string { return f.name }
func (f *fakeConnector) Setup()       {}

func (f *fakeConnector) AddID(kind domain.Kind, value string) {
	if !f.accepted[kind] {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, domain.NormalizedID{Kind: kind, Value: value})
}

func (f *fakeConnector) Fetch(_ context.Context) map[string][]domain.Record {
	out := make(map[string][]domain.Record)
	if f.fail {
		return out
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.added {
		if records := f.respond(id.Value); len(records) > 0 {
			out[id.Value] = records
		}
	}
	return out
}

func (f *fakeConnector) FetchOne(_ context.Context, _ domain.Kind, value string) ([]domain.Record, error) {
	return f.respond(value), nil
}

func record(source, id string) []domain.Record {
	return []domain.Record{{
		NaturalID:   id,
		Source:      source,
		Entity:      "works",
		Payload:     map[string]any{"id": id},
		RetrievedAt: time.Now().UTC(),
	}}
}

func newFake(name string, kinds ...domain.Kind) *fakeConnector {
	accepted := make(map[domain.Kind]bool)
	for _, k := range kinds {
		accepted[k] = true
	}
	return &fakeConnector{
		name:     name,
		accepted: accepted,
		respond:  func(value string) []domain.Record { return record(name, value) },
	}
}

func testRegistry(fakes ...*fakeConnector) *Registry {
	registry := NewRegistry()
	for _, f := range fakes {
		f := f
		registry.Register(f.name, func() sources.Connector { return f })
	}
	return registry
}

func TestRetrieveDispatchesByCapability(t *testing.T) {
	openalex := newFake(SourceOpenAlex, domain.KindDOI, domain.KindPMID)
	crossref := newFake(SourceCrossref, domain.KindDOI)
	pubmed := newFake(SourcePubMed, domain.KindPMID)

	r := New(testRegistry(openalex, crossref, pubmed), zerolog.Nop())
	r.AddID(domain.NormalizedID{Kind: domain.KindDOI, Value: "10.1234/abc"})
	r.AddID(domain.NormalizedID{Kind: domain.KindPMID, Value: "123456"})

	result := r.Retrieve(context.Background())
	require.Len(t, result, 2)

	doiSources := result["10.1234/abc"]
	assert.Contains(t, doiSources, SourceOpenAlex)
	assert.Contains(t, doiSources, SourceCrossref)
	assert.NotContains(t, doiSources, SourcePubMed)

	pmidSources := result["123456"]
	assert.Contains(t, pmidSources, SourceOpenAlex)
	assert.Contains(t, pmidSources, SourcePubMed)
	assert.NotContains(t, pmidSources, SourceCrossref)
}

func TestRetrieveEmptyBatch(t *testing.T) {
	r := New(testRegistry(), zerolog.Nop())
	result := r.Retrieve(context.Background())
	require.NotNil(t, result)
	assert.Empty(t, result)
}

func TestRetrieveDropsUnresolvableKinds(t *testing.T) {
	openalex := newFake(SourceOpenAlex, domain.KindDOI)
	r := New(testRegistry(openalex), zerolog.Nop())

	r.AddID(domain.NormalizedID{Kind: domain.KindISBN, Value: "978-0-306-40615-7"})
	assert.Equal(t, 0, r.Len())

	r.AddID(domain.NormalizedID{Kind: domain.KindDOI, Value: "10.1234/abc"})
	assert.Equal(t, 1, r.Len())
}

func TestRetrieveIsolatesSourceFailure(t *testing.T) {
	openalex := newFake(SourceOpenAlex, domain.KindDOI)
	crossref := newFake(SourceCrossref, domain.KindDOI)
	crossref.fail = true

	r := New(testRegistry(openalex, crossref), zerolog.Nop())
	r.AddID(domain.NormalizedID{Kind: domain.KindDOI, Value: "10.1234/abc"})

	result := r.Retrieve(context.Background())
	require.Len(t, result, 1)

	bySource := result["10.1234/abc"]
	assert.Contains(t, bySource, SourceOpenAlex)
	assert.NotContains(t, bySource, SourceCrossref)
}

func TestRetrieveSkipsUnregisteredSources(t *testing.T) {
	// Only Crossref is registered even though DOIs map to five sources.
	crossref := newFake(SourceCrossref, domain.KindDOI)

	r := New(testRegistry(crossref), zerolog.Nop())
	r.AddID(domain.NormalizedID{Kind: domain.KindDOI, Value: "10.1234/abc"})

	result := r.Retrieve(context.Background())
	require.Len(t, result, 1)
	assert.Len(t, result["10.1234/abc"], 1)
}

// sinkAwareConnector is a fakeConnector that also accepts a sink.
type sinkAwareConnector struct {
	*fakeConnector
	sink sources.Sink
}

var _ sources.SinkAware = (*sinkAwareConnector)(nil)

func (s *sinkAwareConnector) SetSink(sink sources.Sink) { s.sink = sink }

type nopSink struct{}

func (nopSink) Store(context.Context, string, []domain.Record) error { return nil }

func TestRetrieveInjectsSink(t *testing.T) {
	streaming := &sinkAwareConnector{fakeConnector: newFake(SourceOpenAlex, domain.KindDOI)}
	plain := newFake(SourceCrossref, domain.KindDOI)

	registry := NewRegistry()
	registry.Register(streaming.name, func() sources.Connector { return streaming })
	registry.Register(plain.name, func() sources.Connector { return plain })

	sink := nopSink{}
	r := New(registry, zerolog.Nop())
	r.SetSink(sink)
	r.AddID(domain.NormalizedID{Kind: domain.KindDOI, Value: "10.1234/abc"})

	result := r.Retrieve(context.Background())
	require.Len(t, result, 1)
	assert.Equal(t, sink, streaming.sink)
}

func TestRetrieveWithoutSinkLeavesConnectorsAlone(t *testing.T) {
	streaming := &sinkAwareConnector{fakeConnector: newFake(SourceOpenAlex, domain.KindDOI)}

	registry := NewRegistry()
	registry.Register(streaming.name, func() sources.Connector { return streaming })

	r := New(registry, zerolog.Nop())
	r.AddID(domain.NormalizedID{Kind: domain.KindDOI, Value: "10.1234/abc"})
	r.Retrieve(context.Background())

	assert.Nil(t, streaming.sink)
}

func TestAddLabeled(t *testing.T) {
	openalex := newFake(SourceOpenAlex, domain.KindDOI)
	r := New(testRegistry(openalex), zerolog.Nop())

	r.AddLabeled("DOI", "10.1234/abc")
	r.AddLabeled("pubmed_id", "123456")
	r.AddLabeled("nonsense", "whatever")

	assert.Equal(t, 2, r.Len())
}

func TestCapabilityMap(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{SourceOpenAlex, SourceOpenAIRE, SourceCrossref, SourceDataCite, SourcePure},
		SourcesFor(domain.KindDOI))
	assert.ElementsMatch(t,
		[]string{SourceOpenAlex, SourceOpenAIRE, SourcePubMed},
		SourcesFor(domain.KindPMID))
	assert.ElementsMatch(t,
		[]string{SourceOpenAlex, SourceOpenAIRE},
		SourcesFor(domain.KindArxiv))
	assert.ElementsMatch(t, []string{SourceOpenAIRE}, SourcesFor(domain.KindOpenAIRE))
	assert.ElementsMatch(t, []string{SourcePure}, SourcesFor(domain.KindPure))
	assert.ElementsMatch(t,
		[]string{SourceOpenAlex, SourceOpenAIRE, SourceORCID},
		SourcesFor(domain.KindORCID))

	assert.False(t, CanResolve(domain.KindISBN))
	assert.False(t, CanResolve(domain.KindPatent))
	assert.True(t, CanResolve(domain.KindDOI))
}
