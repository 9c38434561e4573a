// Package match ranks candidate texts against a query using string
// similarity algorithms, with text normalization tuned for merchant names.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Patterns for cleaning merchant text. Card processors prepend channel tags
// (SQ *, TST*, POS), statements append corporate suffixes and store numbers.
var (
	processorPrefix = regexp.MustCompile(`(?i)^(pos |eftpos |visa |mastercard |amex |debit |ach |sq \*|sq\*|tst\* ?|tst \*|pp\*|paypal \*|py \*)`)
	corporateSuffix = regexp.MustCompile(`(?i)[\s.,]+(inc|llc|ltd|corp|co|gmbh|pty|plc|sa)\.?$`)
	storeNumber     = regexp.MustCompile(`#\s*\d+`)
	longNumber      = regexp.MustCompile(`\d{5,}`)
	specialChars    = regexp.MustCompile(`[*#]+`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// Normalize produces the canonical comparison form of merchant or
// description text: lowercased, diacritics folded, processor prefixes,
// corporate suffixes, store numbers, and symbol noise stripped, whitespace
// collapsed.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = processorPrefix.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = foldDiacritics(s)
	s = storeNumber.ReplaceAllString(s, " ")
	s = longNumber.ReplaceAllString(s, " ")
	s = specialChars.ReplaceAllString(s, " ")
	s = corporateSuffix.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// foldDiacritics strips combining marks: "café" becomes "cafe". The
// transformer chain is built per call; chained transformers carry state and
// are not safe to share across goroutines.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
