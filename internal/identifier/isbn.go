package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

var (
	isbn10Regex    = regexp.MustCompile(`^\d{9}[\dxX]$`)
	isbnSeparators = regexp.MustCompile(`[- ]`)
)

var isbnPrefixes = []string{
	"isbn:",
	"isbn-10:",
	"isbn-13:",
	"isbn10:",
	"isbn13:",
}

// ISBN validates an ISBN-10 or ISBN-13 and returns it in canonical hyphenated
// form (1-868-97271-2 or 978-3-16148-410-0).
//
// ISBN-10 uses the weighted mod-11 checksum with X standing for 10 in the
// check position. ISBN-13 uses alternating 1/3 weights with an all-digit
// constraint. Any length other than 10 or 13 after stripping separators is
// rejected.
func ISBN(raw string) (string, error) {
	input, err := requireInput(domain.KindISBN, raw)
	if err != nil {
		return "", err
	}

	isbn := stripPrefix(input, isbnPrefixes)
	isbn = isbnSeparators.ReplaceAllString(isbn, "")

	switch len(isbn) {
	case 10:
		return validateISBN10(raw, isbn)
	case 13:
		return validateISBN13(raw, isbn)
	default:
		return "", domain.NewValidationError(domain.KindISBN, raw,
			fmt.Sprintf("invalid ISBN length (%d characters)", len(isbn)))
	}
}

func validateISBN10(raw, isbn string) (string, error) {
	if !isbn10Regex.MatchString(isbn) {
		return "", domain.NewValidationError(domain.KindISBN, raw, "invalid ISBN-10 format")
	}

	checksum := 0
	for i := 0; i < 9; i++ {
		checksum += int(isbn[i]-'0') * (10 - i)
	}
	checkDigit := 10
	if last := isbn[9]; last != 'x' && last != 'X' {
		checkDigit = int(last - '0')
	}
	if (checksum+checkDigit)%11 != 0 {
		return "", domain.NewValidationError(domain.KindISBN, raw, "invalid ISBN-10 checksum")
	}

	isbn = strings.ToUpper(isbn)
	return fmt.Sprintf("%s-%s-%s-%s", isbn[0:1], isbn[1:4], isbn[4:9], isbn[9:10]), nil
}

func validateISBN13(raw, isbn string) (string, error) {
	for i := 0; i < len(isbn); i++ {
		if isbn[i] < '0' || isbn[i] > '9' {
			return "", domain.NewValidationError(domain.KindISBN, raw, "invalid ISBN-13 format")
		}
	}

	checksum := 0
	for i := 0; i < 12; i++ {
		weight := 1
		if i%2 == 1 {
			weight = 3
		}
		checksum += int(isbn[i]-'0') * weight
	}
	checkDigit := (10 - (checksum % 10)) % 10
	if int(isbn[12]-'0') != checkDigit {
		return "", domain.NewValidationError(domain.KindISBN, raw, "invalid ISBN-13 checksum")
	}

	return fmt.Sprintf("%s-%s-%s-%s-%s", isbn[0:3], isbn[3:4], isbn[4:9], isbn[9:12], isbn[12:13]), nil
}
