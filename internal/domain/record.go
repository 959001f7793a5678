package domain

import "time"

// Record is one payload retrieved from an external source for one identifier.
// NaturalID is the record's stable identity at the source (e.g. an OpenAlex
// work URL or a Crossref DOI) and is the upsert key at the storage sink.
type Record struct {
	// NaturalID is the source-assigned stable identifier of the record.
	NaturalID string

	// Source names the external registry the record came from.
	Source string

	// Entity is the entity/table the record belongs to (e.g. "work", "author").
	Entity string

	// Payload is the raw decoded JSON object returned by the source.
	Payload map[string]any

	// RetrievedAt is when the record was fetched.
	RetrievedAt time.Time
}

// RetrievalResult maps an input identifier value to the records each source
// returned for it. Identifiers with no applicable source, or for which every
// connector failed, are simply absent.
type RetrievalResult map[string]map[string][]Record
