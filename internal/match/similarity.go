package match

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Algorithm names a string-similarity function.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmJaroWinkler Algorithm = "jaro_winkler"
	AlgorithmLevenshtein Algorithm = "levenshtein"
	AlgorithmTrigram     Algorithm = "trigram"
	AlgorithmPhonetic    Algorithm = "phonetic"
)

// ValidAlgorithm reports whether a names a supported algorithm.
func ValidAlgorithm(a Algorithm) bool {
	switch a {
	case AlgorithmJaroWinkler, AlgorithmLevenshtein, AlgorithmTrigram, AlgorithmPhonetic:
		return true
	}
	return false
}

// Similarity computes the named algorithm's score for a and b in [0,1].
// Blank inputs score 0.0, except two empty strings which score 1.0.
func Similarity(a, b string, alg Algorithm) float64 {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	switch alg {
	case AlgorithmJaroWinkler:
		return jaroWinkler(a, b)
	case AlgorithmLevenshtein:
		return levenshteinRatio(a, b)
	case AlgorithmTrigram:
		return trigramJaccard(a, b)
	case AlgorithmPhonetic:
		return phonetic(a, b)
	}
	return 0.0
}

// unrelatedFloor is where raw Jaro-Winkler output lands for strings with no
// real relationship. Scores are rescaled so that band maps near zero.
const unrelatedFloor = 0.45

// jaroWinkler scores with matchr's Jaro-Winkler, then rescales the result.
// Raw Jaro-Winkler gives unrelated strings scores around 0.5 thanks to its
// prefix tolerance; rescaling keeps genuinely dissimilar inputs below 0.3 so
// downstream confidence thresholds stay meaningful.
func jaroWinkler(a, b string) float64 {
	raw := matchr.JaroWinkler(a, b, false)
	if raw <= unrelatedFloor {
		return 0.0
	}
	return (raw - unrelatedFloor) / (1.0 - unrelatedFloor)
}

// levenshteinRatio converts edit distance to a similarity ratio over the
// longer input's rune length.
func levenshteinRatio(a, b string) float64 {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	dist := matchr.Levenshtein(a, b)
	ratio := 1.0 - float64(dist)/float64(longest)
	if ratio < 0 {
		return 0.0
	}
	return ratio
}

// trigramJaccard computes Jaccard similarity over 3-rune shingles. Inputs
// shorter than one shingle degrade to exact equality.
func trigramJaccard(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		if a == b {
			return 1.0
		}
		return 0.0
	}

	intersection := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]struct{} {
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	grams := make(map[string]struct{}, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])] = struct{}{}
	}
	return grams
}

// phonetic is a binary sounds-alike check on Soundex codes.
func phonetic(a, b string) float64 {
	ca := matchr.Soundex(a)
	cb := matchr.Soundex(b)
	if ca == "" || cb == "" {
		return 0.0
	}
	if ca == cb {
		return 1.0
	}
	return 0.0
}

// combineScores reduces per-algorithm scores to one similarity using
// max-of-selected, so one weak algorithm cannot sink an otherwise strong
// match.
func combineScores(scores map[Algorithm]float64) float64 {
	best := 0.0
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	return best
}
