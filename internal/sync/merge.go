// Package sync reconciles message and conversation state arriving from two
// uncoordinated sources: paginated REST fetches and the push channel. Both
// converge through one merge function, so arrival order and duplicate
// delivery never matter; logical order is rebuilt from the data itself.
package sync

import (
	"sort"

	"github.com/nitelink/chatsync/internal/model"
)

// Merge combines existing and incoming into one set keyed by message id,
// last write wins on an identical id, projected back to a sequence sorted
// ascending by (CreatedAt, ID). Idempotent and commutative for batches
// without conflicting same-id content: applying a batch twice, or two
// overlapping batches in either order, yields the same result.
func Merge(existing, incoming []model.Message) []model.Message {
	out, _ := merge(existing, incoming)
	return out
}

func merge(existing, incoming []model.Message) ([]model.Message, int) {
	byID := make(map[string]model.Message, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.ID] = m
	}
	replaced := 0
	for _, m := range incoming {
		if _, ok := byID[m.ID]; ok {
			replaced++
		}
		byID[m.ID] = m
	}

	out := make([]model.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Before(&out[j])
	})
	return out, replaced
}
