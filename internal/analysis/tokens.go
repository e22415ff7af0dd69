package analysis

import "unicode"

// messageOverhead approximates the per-message framing tokens of chat APIs.
const messageOverhead = 4

// EstimateTokens returns a deterministic prompt size estimate. Han, kana and
// hangul runes count as one token each; other runes are grouped four to a token.
func EstimateTokens(system, user string) int {
	total := 0
	for _, s := range []string{system, user} {
		if s == "" {
			continue
		}
		total += messageOverhead + countText(s)
	}
	return total
}

func countText(s string) int {
	cjk, other := 0, 0
	for _, r := range s {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			cjk++
		default:
			other++
		}
	}
	return cjk + (other+3)/4
}

// EstimateCost converts a token count into dollars at pricePerMillion.
func EstimateCost(tokens int, pricePerMillion float64) float64 {
	return float64(tokens) / 1_000_000 * pricePerMillion
}
