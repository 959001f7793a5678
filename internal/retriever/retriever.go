// Package retriever dispatches identifier batches across every external
// source capable of resolving them and assembles the per-identifier,
// per-source result map.
package retriever

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/sources"
)

// Registry holds the connector factories for every configured source.
// Connectors accumulate per-batch state, so the registry hands out a fresh
// instance per retrieval rather than sharing one.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() sources.Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() sources.Connector),
	}
}

// Register adds a connector factory under a source name. Registering the
// same name again replaces the factory. This method is thread-safe.
func (r *Registry) Register(name string, factory func() sources.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New returns a fresh connector for the named source, or nil when the
// source is not registered. This method is thread-safe.
func (r *Registry) New(name string) sources.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	if !ok {
		return nil
	}
	return factory()
}

// Names returns the registered source names. The slice is a snapshot.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Retriever accumulates validated identifiers and fans them out across all
// capable sources in one Retrieve call.
//
// A retriever is a single-batch object: create one, add identifiers, call
// Retrieve. It is not safe for concurrent use; the concurrency happens
// inside Retrieve, one goroutine per source.
type Retriever struct {
	registry *Registry
	logger   zerolog.Logger
	ids      []domain.NormalizedID
	sink     sources.Sink
}

// New creates a retriever for one batch of identifiers.
func New(registry *Registry, logger zerolog.Logger) *Retriever {
	return &Retriever{
		registry: registry,
		logger:   logger,
	}
}

// SetSink routes records to the given sink during retrieval. Connectors that
// implement sources.SinkAware flush to it at their threshold; records still
// appear in the Retrieve result map.
func (r *Retriever) SetSink(sink sources.Sink) {
	r.sink = sink
}

// AddID adds a validated identifier to the batch. Kinds no source can
// resolve are dropped with a warning, never an error; callers feed mixed
// batches and expect the resolvable part to proceed.
func (r *Retriever) AddID(id domain.NormalizedID) {
	if !CanResolve(id.Kind) {
		r.logger.Warn().
			Str("kind", string(id.Kind)).
			Str("id", id.Value).
			Msg("no source can resolve this identifier kind, dropping")
		return
	}
	r.ids = append(r.ids, id)
}

// AddLabeled resolves a free-text kind label and adds the identifier.
// Unknown labels are dropped with a warning, matching AddID semantics.
func (r *Retriever) AddLabeled(label, value string) {
	kind, ok := domain.ParseKind(label)
	if !ok {
		r.logger.Warn().
			Str("label", label).
			Str("id", value).
			Msg("unknown identifier label, dropping")
		return
	}
	r.AddID(domain.NormalizedID{Kind: kind, Value: value})
}

// Len returns the number of identifiers in the batch.
func (r *Retriever) Len() int {
	return len(r.ids)
}

// sourceResult carries one connector's output back to the merge loop.
type sourceResult struct {
	source  string
	records map[string][]domain.Record
}

// Retrieve fans the batch out over every capable source concurrently and
// assembles the nested result map: input identifier, then source name, then
// records. An empty batch yields an empty, non-nil map. A source failing
// wholesale contributes nothing; its identifiers may still resolve through
// other sources.
func (r *Retriever) Retrieve(ctx context.Context) domain.RetrievalResult {
	result := make(domain.RetrievalResult)
	if len(r.ids) == 0 {
		r.logger.Info().Msg("no identifiers in batch, nothing to retrieve")
		return result
	}

	connectors := r.buildConnectors()
	if len(connectors) == 0 {
		r.logger.Warn().Msg("no registered source can serve this batch")
		return result
	}

	resultChan := make(chan sourceResult, len(connectors))
	var wg sync.WaitGroup

	for _, connector := range connectors {
		wg.Add(1)
		go func(c sources.Connector) {
			defer wg.Done()
			resultChan <- sourceResult{
				source:  c.Name(),
				records: c.Fetch(ctx),
			}
		}(connector)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for res := range resultChan {
		for inputID, records := range res.records {
			if len(records) == 0 {
				continue
			}
			if result[inputID] == nil {
				result[inputID] = make(map[string][]domain.Record)
			}
			result[inputID][res.source] = records
		}
	}

	r.logger.Info().
		Int("identifiers", len(r.ids)).
		Int("sources", len(connectors)).
		Int("resolved", len(result)).
		Msg("retrieval complete")
	return result
}

// buildConnectors instantiates one connector per source that both appears in
// some identifier's capability list and is registered, and loads each with
// its share of the batch.
func (r *Retriever) buildConnectors() []sources.Connector {
	bySource := make(map[string]sources.Connector)
	var order []string

	for _, id := range r.ids {
		for _, name := range SourcesFor(id.Kind) {
			connector, ok := bySource[name]
			if !ok {
				connector = r.registry.New(name)
				if connector == nil {
					continue
				}
				connector.Setup()
				if r.sink != nil {
					if aware, ok := connector.(sources.SinkAware); ok {
						aware.SetSink(r.sink)
					}
				}
				bySource[name] = connector
				order = append(order, name)
			}
			connector.AddID(id.Kind, id.Value)
		}
	}

	connectors := make([]sources.Connector, 0, len(order))
	for _, name := range order {
		connectors = append(connectors, bySource[name])
	}
	return connectors
}
