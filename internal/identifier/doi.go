package identifier

import (
	"regexp"
	"strings"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

var doiRegex = regexp.MustCompile(`(?i)^10\.\d{4,9}/[-._;()/:a-z0-9]+$`)

// doiPrefixes is the ordered prefix trial list for DOI normalization.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://dx.doi.org/",
	"https://dx.doi.org/",
	"doi:",
	"doi.org/",
}

// DOI validates a Digital Object Identifier and returns it in lowercase
// canonical form ("10.prefix/suffix", no scheme).
//
// Known URL and label prefixes are stripped first. Two common mangling
// patterns are repaired: a leading slash is dropped, and a leading "0."
// (lost "1" typo) is corrected to "10.". If the result still does not start
// with "10", recovery is attempted by taking the substring from the last
// occurrence of "10." onward.
func DOI(raw string) (string, error) {
	input, err := requireInput(domain.KindDOI, raw)
	if err != nil {
		return "", err
	}

	doi := stripPrefix(input, doiPrefixes)

	switch {
	case strings.HasPrefix(doi, "/"):
		doi = strings.TrimPrefix(doi, "/")
	case strings.HasPrefix(doi, "0."):
		doi = "1" + doi
	case !strings.HasPrefix(doi, "10"):
		if idx := strings.LastIndex(doi, "10."); idx >= 0 {
			doi = doi[idx:]
		}
	}

	if doi == "" {
		return "", domain.NewValidationError(domain.KindDOI, raw, "input not recognized as a DOI")
	}
	if !doiRegex.MatchString(doi) {
		return "", domain.NewValidationError(domain.KindDOI, raw,
			"does not match DOI pattern 10.NNNN/suffix (parsed: "+doi+")")
	}
	return doi, nil
}
