package identifier

import (
	"regexp"
	"strings"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	urlRegex   = regexp.MustCompile(`^(https?://)?(www\.)?[-a-zA-Z0-9@:%._\+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_\+.~#?&/=]*)$`)

	openAlexShortRegex = regexp.MustCompile(`[WAICFVPST]\d{2,}`)
	openAlexURLRegex   = regexp.MustCompile(`https?://openalex\.org/([waicfvpst]\d{2,})`)
	openAlexBareRegex  = regexp.MustCompile(`^([waicfvpst]\d{2,})`)
	openAlexLabelRegex = regexp.MustCompile(`openalex:[waicfvpst]\d{2,}`)
)

// Email validates an email address and returns it lowercased.
func Email(raw string) (string, error) {
	input, err := requireInput(domain.KindEmail, raw)
	if err != nil {
		return "", err
	}

	email := strings.ToLower(input)
	if !emailRegex.MatchString(email) {
		return "", domain.NewValidationError(domain.KindEmail, raw, "invalid email format")
	}
	return email, nil
}

// URL validates a web URL, prepending https:// when no scheme is present.
func URL(raw string) (string, error) {
	input, err := requireInput(domain.KindURL, raw)
	if err != nil {
		return "", err
	}

	u := input
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if !urlRegex.MatchString(u) {
		return "", domain.NewValidationError(domain.KindURL, raw, "invalid URL format")
	}
	return u, nil
}

// OpenAlexID validates an OpenAlex entity identifier and returns the short
// uppercase form (e.g. W2741809807). Accepts full openalex.org URLs, bare
// short ids, and "openalex:"-labeled ids.
func OpenAlexID(raw string) (string, error) {
	input, err := requireInput(domain.KindOpenAlex, raw)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(input)
	recognized := openAlexURLRegex.MatchString(lower) ||
		openAlexBareRegex.MatchString(lower) ||
		openAlexLabelRegex.MatchString(lower)
	if !recognized {
		return "", domain.NewValidationError(domain.KindOpenAlex, raw,
			"input not recognized as an OpenAlex ID")
	}

	match := openAlexShortRegex.FindString(strings.ToUpper(input))
	if match == "" {
		return "", domain.NewValidationError(domain.KindOpenAlex, raw,
			"input not recognized as an OpenAlex ID")
	}
	return match, nil
}
