package identifier

import (
	"regexp"
	"strconv"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

var (
	// arxivLegacyRegex matches the pre-2015 shape YYMM.NNNN with an optional
	// version suffix. Inputs matching it are accepted as-is.
	arxivLegacyRegex = regexp.MustCompile(`^(\d{4}\.\d{4})(v\d+)?$`)

	// arxivModernRegex matches YYMM.NNNNN (5-digit sequence) with an optional
	// version suffix; the month and sequence length are validated separately.
	arxivModernRegex = regexp.MustCompile(`^(\d{2})(\d{2})\.(\d{4,5})(v\d+)?$`)
)

var arxivPrefixes = []string{
	"arxiv:",
	"https://arxiv.org/abs/",
	"http://arxiv.org/abs/",
	"arxiv.org/abs/",
}

// ArXiv validates an arXiv identifier and returns it with the canonical
// "arXiv:" prefix.
//
// The legacy 4-digit-sequence form is tried first and accepted without
// month checks. The modern form validates month 01-12 and enforces the
// sequence-length boundary at 1501: 4 digits before 2015-01, 5 digits from
// then on.
func ArXiv(raw string) (string, error) {
	input, err := requireInput(domain.KindArxiv, raw)
	if err != nil {
		return "", err
	}

	id := stripPrefix(input, arxivPrefixes)

	if m := arxivLegacyRegex.FindStringSubmatch(id); m != nil {
		return "arXiv:" + m[1] + m[2], nil
	}

	m := arxivModernRegex.FindStringSubmatch(id)
	if m == nil {
		return "", domain.NewValidationError(domain.KindArxiv, raw,
			"expected YYMM.number with optional version suffix")
	}
	year, month, number, version := m[1], m[2], m[3], m[4]

	y, _ := strconv.Atoi(year)
	if y < 7 {
		return "", domain.NewValidationError(domain.KindArxiv, raw, "invalid arXiv year")
	}
	mo, _ := strconv.Atoi(month)
	if mo < 1 || mo > 12 {
		return "", domain.NewValidationError(domain.KindArxiv, raw, "invalid arXiv month")
	}

	yearMonth, _ := strconv.Atoi(year + month)
	if yearMonth < 1501 {
		if len(number) != 4 {
			return "", domain.NewValidationError(domain.KindArxiv, raw,
				"expected a 4-digit sequence number for identifiers before 1501")
		}
	} else if len(number) != 5 {
		return "", domain.NewValidationError(domain.KindArxiv, raw,
			"expected a 5-digit sequence number for identifiers from 1501 onwards")
	}

	return "arXiv:" + year + month + "." + number + version, nil
}
