// Package domain defines the core types shared across the metadata harvester:
// identifier kinds, normalized identifiers, retrieved records, and the error
// taxonomy used at the validation and fetch boundaries.
package domain

import "strings"

// Kind is a closed enumeration of publication/entity identifier kinds.
// Values are fixed; adding a kind means adding a constant and registering
// it in the label table below.
type Kind string

// Supported identifier kinds.
const (
	KindDOI      Kind = "doi"
	KindISBN     Kind = "isbn"
	KindArxiv    Kind = "arxiv"
	KindPMID     Kind = "pmid"
	KindORCID    Kind = "orcid"
	KindScopus   Kind = "scopus"
	KindOpenAIRE Kind = "openaire"
	KindPure     Kind = "pure"
	KindPatent   Kind = "patent"
	KindEmail    Kind = "email"
	KindURL      Kind = "url"
	KindOpenAlex Kind = "openalex"
)

// kindLabels maps each kind to the set of free-text labels it answers to.
// Field names coming from callers are matched by membership, not exact
// equality, so both "doi" and a field literally named "doi" resolve the same.
var kindLabels = map[Kind][]string{
	KindDOI:      {"doi"},
	KindISBN:     {"isbn", "isbn10", "isbn13", "isbn-10", "isbn-13"},
	KindArxiv:    {"arxiv"},
	KindPMID:     {"pmid", "pubmed"},
	KindORCID:    {"orcid"},
	KindScopus:   {"scopus"},
	KindOpenAIRE: {"openaire"},
	KindPure:     {"pure"},
	KindPatent:   {"patent", "patent_number", "patentnumber"},
	KindEmail:    {"email", "mail"},
	KindURL:      {"url", "link", "website"},
	KindOpenAlex: {"openalex"},
}

// String returns the canonical label of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind resolves a free-text field label to an identifier kind.
// The label is lowercased and a trailing "_id" suffix is stripped before
// matching. Returns false when no kind applies; callers must treat unmapped
// labels as pass-through, not as failures.
func ParseKind(label string) (Kind, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.TrimSuffix(label, "_id")
	if label == "" {
		return "", false
	}
	for kind, labels := range kindLabels {
		for _, l := range labels {
			if label == l {
				return kind, true
			}
		}
	}
	return "", false
}

// NormalizedID is a (kind, canonical value) pair produced only by a
// successful validation. The value is a fixed point of its kind's
// validator: re-validating it yields the same string.
type NormalizedID struct {
	Kind  Kind
	Value string
}
