// Package suggest provides near-miss suggestions for user supplied names,
// such as partition names or secret field names.
package suggest

import "github.com/agext/levenshtein"

// String returns the candidate closest to want, if it is close enough to be
// a likely typo. Closeness scales with the length of want, roughly one edit
// per five characters. An empty string is returned when no candidate
// qualifies.
func String(want string, candidates []string) string {
	limit := len(want) / 5
	if limit < 1 {
		limit = 1
	}

	best := ""
	bestDist := limit + 1
	for _, cand := range candidates {
		if cand == want {
			return cand
		}
		if d := levenshtein.Distance(want, cand, nil); d < bestDist {
			best = cand
			bestDist = d
		}
	}
	return best
}
