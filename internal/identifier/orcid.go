package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

var orcidRegex = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[X0-9]$`)

// orcidPrefixes are stripped case-insensitively while preserving the case of
// the identifier itself (the check character X must stay uppercase).
var orcidPrefixes = []string{
	"https://orcid.org/",
	"http://orcid.org/",
	"orcid.org/",
	"orcid:",
}

// ORCID validates an ORCID iD and returns it in the canonical URL form
// https://orcid.org/xxxx-xxxx-xxxx-xxxx.
//
// A bare run of 16 digits is reformatted into four hyphen-separated groups.
// The final character is verified as an ISO/IEC 7064 MOD 11-2 check digit
// over the preceding 15 digits.
func ORCID(raw string) (string, error) {
	input, err := requireInput(domain.KindORCID, raw)
	if err != nil {
		return "", err
	}

	id := input
	lower := strings.ToLower(input)
	for _, prefix := range orcidPrefixes {
		if strings.HasPrefix(lower, prefix) {
			id = input[len(prefix):]
			break
		}
	}

	id = strings.NewReplacer(" ", "", "/", "", `\`, "").Replace(id)

	if len(id) == 16 && !strings.Contains(id, "-") {
		id = fmt.Sprintf("%s-%s-%s-%s", id[0:4], id[4:8], id[8:12], id[12:16])
	}

	if !orcidRegex.MatchString(id) {
		return "", domain.NewValidationError(domain.KindORCID, raw,
			"expected 4 hyphen-separated groups of 4 digits (X allowed as final check character)")
	}

	digits := strings.ReplaceAll(id, "-", "")
	total := 0
	for i := 0; i < 15; i++ {
		total = (total + int(digits[i]-'0')) * 2
	}
	got := 10
	if last := digits[15]; last != 'X' {
		got = int(last - '0')
	}
	want := (12 - (total % 11)) % 11
	if got != want {
		return "", domain.NewValidationError(domain.KindORCID, raw, "invalid ORCID checksum")
	}

	return "https://orcid.org/" + id, nil
}
