package malerr

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Suggest returns the candidate closest to target, or "" when nothing is
// close. Fuzzy subsequence matches win; otherwise the candidate with the
// smallest edit distance is used if it differs in at most two characters.
func Suggest(target string, candidates []string) string {
	if len(candidates) == 0 || target == "" {
		return ""
	}

	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	best, bestDist := "", 3
	for _, c := range candidates {
		if d := fuzzy.LevenshteinDistance(target, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
