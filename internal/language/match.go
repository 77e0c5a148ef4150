package language

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// matcher picks the candidate most similar to an input name.
//
// Candidates whose Double Metaphone codes overlap the input's are preferred
// and need only the phonetic threshold; the rest need the stricter fuzzy
// threshold on Jaro-Winkler similarity alone.
type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

var defaultMatcher = matcher{
	phoneticThreshold: defaultPhoneticThreshold,
	fuzzyThreshold:    defaultFuzzyThreshold,
}

// match returns the best candidate for input, its score and whether it
// cleared the thresholds.
func (m matcher) match(input string, candidates []string) (string, float64, bool) {
	inputLower := strings.ToLower(strings.TrimSpace(input))
	if inputLower == "" || len(candidates) == 0 {
		return "", 0, false
	}
	inputTokens := strings.Fields(inputLower)
	inputCodes := codesForTokens(inputTokens)

	var (
		best      string
		bestScore float64
		phonetic  bool
	)
	for _, c := range candidates {
		cLower := strings.ToLower(c)
		cTokens := strings.Fields(cLower)
		score := bestJWScore(inputTokens, cTokens, inputLower, cLower)

		if codesOverlap(inputCodes, codesForTokens(cTokens)) {
			if score >= m.phoneticThreshold && (!phonetic || score > bestScore) {
				best, bestScore, phonetic = c, score, true
			}
		} else if !phonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore, best != ""
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the strings with spaces removed, and every token pair.
func bestJWScore(inputTokens, candTokens []string, inputFull, candFull string) float64 {
	score := matchr.JaroWinkler(inputFull, candFull, false)

	if len(inputTokens) > 1 || len(candTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(candTokens, ""), false); s > score {
			score = s
		}
	}
	for _, it := range inputTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
