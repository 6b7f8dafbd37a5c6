// Package matcher aligns the entities of two import generations by natural key.
package matcher

import (
	"context"
	"slices"

	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
)

// Entity is one row of a generation reduced to what matching needs.
type Entity struct {
	ID  int64  `json:"id"`
	Key string `json:"key"`
	// Data holds the comparable fields, with references replaced by natural keys.
	Data map[string]any `json:"data"`
}

type Result struct {
	// Matched maps destination ids to origin ids.
	Matched   map[int64]int64
	Unmatched []int64
	Orphaned  []int64
}

type Matcher interface {
	EntityName() string
	Load(ctx context.Context, repos *persistence.Repositories, historyID int64) ([]Entity, error)
	Match(origin, dest []Entity) Result
}

// MatchByKey pairs entities sharing a key. When several origin entities share
// a key they are consumed in id order.
func MatchByKey(origin, dest []Entity) Result {
	byKey := map[string][]int64{}
	for _, o := range sortedByID(origin) {
		byKey[o.Key] = append(byKey[o.Key], o.ID)
	}
	res := Result{Matched: map[int64]int64{}}
	used := map[int64]bool{}
	for _, d := range sortedByID(dest) {
		ids := byKey[d.Key]
		if len(ids) == 0 {
			res.Unmatched = append(res.Unmatched, d.ID)
			continue
		}
		res.Matched[d.ID] = ids[0]
		used[ids[0]] = true
		byKey[d.Key] = ids[1:]
	}
	for _, o := range sortedByID(origin) {
		if !used[o.ID] {
			res.Orphaned = append(res.Orphaned, o.ID)
		}
	}
	return res
}

func sortedByID(in []Entity) []Entity {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b Entity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
