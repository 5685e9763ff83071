package memory

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// TextSimilarity is the normalized edit similarity of a and b in [0,1]:
// 1 - distance / longer length. Empty input scores 0.
func TextSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
