// Package sources provides the connector abstraction for external metadata
// registries, plus the shared HTTP plumbing (rate limiting, retries) and the
// cursor-paginated query engine the connectors are built on.
//
// Each external registry (OpenAlex, OpenAIRE, Crossref, DataCite, PubMed,
// Pure, the ORCID registry) implements the Connector interface in its own
// subpackage, allowing the retriever to fan a batch of identifiers out over
// every source capable of resolving them.
package sources

import (
	"context"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

// Connector is the adapter contract for one external metadata source.
//
// A connector accumulates (kind, value) pairs via AddID and retrieves them
// all in one Fetch call. Fetch failures are isolated per identifier: one
// identifier failing must not abort retrieval for the rest of the batch.
// Failed identifiers are logged and omitted from the result map, never
// surfaced as errors.
type Connector interface {
	// Setup performs one-time, connector-specific initialization such as
	// politeness headers. It is idempotent and safe to call repeatedly.
	Setup()

	// AddID accumulates an identifier for the next Fetch. Identifiers of
	// kinds the connector cannot resolve are ignored.
	AddID(kind domain.Kind, value string)

	// Fetch retrieves records for every accumulated identifier and returns
	// a map from the literal identifier value to its records. An empty
	// accumulation yields an empty map. Identifiers that could not be
	// resolved are absent from the map.
	Fetch(ctx context.Context) map[string][]domain.Record

	// FetchOne retrieves records for a single identifier, ignoring any
	// accumulated state.
	FetchOne(ctx context.Context, kind domain.Kind, value string) ([]domain.Record, error)

	// Name returns the source name used in result maps, logs, and metrics.
	Name() string
}

// Sink is the storage destination a query flushes buffered records to.
// Store must be an idempotent upsert keyed by each record's natural id, so
// that re-delivery after a partial failure is safe.
type Sink interface {
	Store(ctx context.Context, table string, records []domain.Record) error
}

// SinkAware is implemented by connectors whose queries can stream records to
// a sink at the flush threshold instead of holding everything until the end
// of the batch. The retriever injects the sink per retrieval.
type SinkAware interface {
	SetSink(sink Sink)
}
