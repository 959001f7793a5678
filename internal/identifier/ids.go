package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

var (
	scopusRegex = regexp.MustCompile(`^\d{5,12}$`)
	pmidRegex   = regexp.MustCompile(`^\d{1,8}$`)
	md5Regex    = regexp.MustCompile(`^[0-9a-f]{32}$`)
	uuidRegex   = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	patentUSRegex = regexp.MustCompile(`(?i)^(US)?[,\d]{1,10}$`)
	patentEPRegex = regexp.MustCompile(`(?i)^EP\d{6,8}(?:\.\d)?$`)
	patentWORegex = regexp.MustCompile(`(?i)^WO\d{2,4}/\d{6}$`)
	patentJPRegex = regexp.MustCompile(`(?i)^JP\d{4}-\d{6}$`)

	whitespaceRegex = regexp.MustCompile(`\s`)
	digitRegex      = regexp.MustCompile(`\d`)
)

// openairePrefixLen is the namespace prefix length OpenAIRE assigns to data
// sources at registration time.
const openairePrefixLen = 12

// ScopusID validates a Scopus author/document identifier: 5 to 12 digits.
func ScopusID(raw string) (string, error) {
	input, err := requireInput(domain.KindScopus, raw)
	if err != nil {
		return "", err
	}

	id := stripPrefix(input, []string{"scopus:", "scopusid:", "scopus-id:", "scopus_id:"})
	if !scopusRegex.MatchString(id) {
		return "", domain.NewValidationError(domain.KindScopus, raw, "expected 5-12 digits")
	}
	return id, nil
}

// PMID validates a PubMed identifier: 1 to 8 digits in the range [1, 99999999].
func PMID(raw string) (string, error) {
	input, err := requireInput(domain.KindPMID, raw)
	if err != nil {
		return "", err
	}

	id := stripPrefix(input, []string{"pmid:", "pubmed:", "pubmed id:", "pubmedid:"})
	if !pmidRegex.MatchString(id) {
		return "", domain.NewValidationError(domain.KindPMID, raw, "expected 1-8 digits")
	}
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > 99999999 {
		return "", domain.NewValidationError(domain.KindPMID, raw, "PMID out of range (1-99999999)")
	}
	return id, nil
}

// OpenAIREID validates an OpenAIRE internal identifier of the form
// sourcePrefix::md5(localId): a 12-character namespace prefix and a
// 32-character hex MD5 hash. The hash is normalized to lowercase.
func OpenAIREID(raw string) (string, error) {
	input, err := requireInput(domain.KindOpenAIRE, raw)
	if err != nil {
		return "", err
	}

	parts := strings.Split(input, "::")
	if len(parts) != 2 {
		return "", domain.NewValidationError(domain.KindOpenAIRE, raw,
			"expected 'sourcePrefix::md5hash'")
	}
	prefix, hash := parts[0], strings.ToLower(parts[1])
	if len(prefix) != openairePrefixLen {
		return "", domain.NewValidationError(domain.KindOpenAIRE, raw,
			fmt.Sprintf("expected a 12-character source prefix, got %d characters", len(prefix)))
	}
	if !md5Regex.MatchString(hash) {
		return "", domain.NewValidationError(domain.KindOpenAIRE, raw, "invalid MD5 hash")
	}
	return prefix + "::" + hash, nil
}

// PureID validates a Pure identifier: either an all-digit internal id, or a
// UUID re-serialized to canonical form.
func PureID(raw string) (string, error) {
	input, err := requireInput(domain.KindPure, raw)
	if err != nil {
		return "", err
	}

	id := stripPrefix(input, []string{"pure:", "pureid:", "pure-id:", "pure_id:"})

	allDigits := id != ""
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return id, nil
	}

	if uuidRegex.MatchString(id) {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return "", domain.NewValidationError(domain.KindPure, raw, "invalid UUID")
		}
		return parsed.String(), nil
	}

	return "", domain.NewValidationError(domain.KindPure, raw, "expected an integer or a UUID")
}

// PatentNumber validates a patent number against US, EP, WO, and JP shapes,
// falling back to a permissive rule (contains a digit, at least 4 characters).
// The fallback over-accepts deliberately; patent numbering is too varied for
// a closed pattern set. Output is uppercased with whitespace removed.
func PatentNumber(raw string) (string, error) {
	input, err := requireInput(domain.KindPatent, raw)
	if err != nil {
		return "", err
	}

	patent := whitespaceRegex.ReplaceAllString(input, "")

	if patentUSRegex.MatchString(patent) {
		patent = strings.ReplaceAll(patent, ",", "")
		if !strings.HasPrefix(strings.ToUpper(patent), "US") {
			patent = "US" + patent
		}
		return strings.ToUpper(patent), nil
	}

	if patentEPRegex.MatchString(patent) ||
		patentWORegex.MatchString(patent) ||
		patentJPRegex.MatchString(patent) ||
		(digitRegex.MatchString(patent) && len(patent) >= 4) {
		return strings.ToUpper(patent), nil
	}

	return "", domain.NewValidationError(domain.KindPatent, raw, "unrecognized patent number format")
}
