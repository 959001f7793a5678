package retriever

import "github.com/bibworks/metadata-harvester/internal/domain"

// Source names as used in registries, result maps, and configuration.
const (
	SourceOpenAlex = "OpenAlex"
	SourceOpenAIRE = "OpenAIRE"
	SourceCrossref = "Crossref"
	SourceDataCite = "DataCite"
	SourcePubMed   = "PubMed"
	SourcePure     = "Pure"
	SourceORCID    = "ORCID"
)

// capabilities maps each identifier kind to the sources able to resolve it.
// Kinds absent from the map (ISBN, Scopus, patents, ...) validate fine but
// have no retrieval path yet.
var capabilities = map[domain.Kind][]string{
	domain.KindDOI: {
		SourceOpenAlex,
		SourceOpenAIRE,
		SourceCrossref,
		SourceDataCite,
		SourcePure,
	},
	domain.KindPMID: {
		SourceOpenAlex,
		SourceOpenAIRE,
		SourcePubMed,
	},
	domain.KindArxiv: {
		SourceOpenAlex,
		SourceOpenAIRE,
	},
	domain.KindOpenAIRE: {
		SourceOpenAIRE,
	},
	domain.KindPure: {
		SourcePure,
	},
	domain.KindORCID: {
		SourceOpenAlex,
		SourceOpenAIRE,
		SourceORCID,
	},
}

// SourcesFor returns the names of the sources capable of resolving a kind,
// in preference order. The returned slice must not be mutated.
func SourcesFor(kind domain.Kind) []string {
	return capabilities[kind]
}

// CanResolve reports whether at least one source can resolve the kind.
func CanResolve(kind domain.Kind) bool {
	return len(capabilities[kind]) > 0
}
