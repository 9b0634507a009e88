// Package rank orders scored candidates for presentation. It is pure:
// no I/O, no allocation beyond the result slice, deterministic for a
// given input order.
package rank

import (
	"sort"

	"github.com/trovekb/trove/pkg/fn"
)

// Candidate is a scored record awaiting ranking.
type Candidate struct {
	ID    string
	Score float32
}

// Rank filters out candidates scoring below threshold, sorts the rest
// by score descending, and truncates to limit. The sort is stable so
// equal scores keep their input order, which keeps results
// reproducible across runs. A limit <= 0 means no truncation. An empty
// result is valid, not an error.
func Rank(candidates []Candidate, threshold float32, limit int) []Candidate {
	kept := fn.Filter(candidates, func(c Candidate) bool {
		return c.Score >= threshold
	})
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
