// Package identifier parses, normalizes, and validates scholarly identifiers.
//
// Each validator is a pure function from a raw input string to a canonical
// string form. Validators reject empty input, strip known prefixes, verify
// structure and checksums, and return a typed error naming the violated rule
// on failure. Canonical forms are fixed points: re-validating a validator's
// output returns it unchanged.
//
// Use ForLabel to resolve a validator from a free-text field name, or call
// the kind-specific function directly.
package identifier

import (
	"fmt"
	"strings"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

// Func validates a raw identifier string and returns its canonical form.
type Func func(raw string) (string, error)

// validators maps each identifier kind to its validation function.
// Built once at init; never mutated.
var validators = map[domain.Kind]Func{
	domain.KindDOI:      DOI,
	domain.KindISBN:     ISBN,
	domain.KindArxiv:    ArXiv,
	domain.KindPMID:     PMID,
	domain.KindORCID:    ORCID,
	domain.KindScopus:   ScopusID,
	domain.KindOpenAIRE: OpenAIREID,
	domain.KindPure:     PureID,
	domain.KindPatent:   PatentNumber,
	domain.KindEmail:    Email,
	domain.KindURL:      URL,
	domain.KindOpenAlex: OpenAlexID,
}

// ForKind returns the validator for an identifier kind.
// The second return value is false when the kind has no validator.
func ForKind(kind domain.Kind) (Func, bool) {
	fn, ok := validators[kind]
	return fn, ok
}

// ForLabel resolves a free-text field label (e.g. "doi", "Scopus_ID") to the
// matching validator. Returns false when no validator applies; "no validator"
// is an expected outcome, not an error, and callers must treat unmapped
// labels as pass-through.
func ForLabel(label string) (Func, bool) {
	kind, ok := domain.ParseKind(label)
	if !ok {
		return nil, false
	}
	return ForKind(kind)
}

// Validate runs the validator for the given kind against raw.
func Validate(kind domain.Kind, raw string) (domain.NormalizedID, error) {
	fn, ok := ForKind(kind)
	if !ok {
		return domain.NormalizedID{}, fmt.Errorf("%w: %s", domain.ErrUnresolvedKind, kind)
	}
	value, err := fn(raw)
	if err != nil {
		return domain.NormalizedID{}, err
	}
	return domain.NormalizedID{Kind: kind, Value: value}, nil
}

// requireInput rejects nil-equivalent input: empty or whitespace-only strings.
// Returns the trimmed input on success.
func requireInput(kind domain.Kind, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("invalid %s: %w", kind, domain.ErrEmptyInput)
	}
	return trimmed, nil
}

// stripPrefix lowercases and trims the input, then removes the first matching
// prefix from the ordered trial list. First match wins; remaining prefixes are
// not tried.
func stripPrefix(input string, prefixes []string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	for _, prefix := range prefixes {
		if strings.HasPrefix(input, prefix) {
			return strings.TrimSpace(input[len(prefix):])
		}
	}
	return input
}
