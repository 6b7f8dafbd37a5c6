package matcher

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"

	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/composables"
)

// DataModelMatcher runs every registered matcher between an origin and a destination history.
type DataModelMatcher struct {
	repos         *persistence.Repositories
	originID      int64
	destinationID int64
	matchers      []Matcher

	origin  map[string][]Entity
	dest    map[string][]Entity
	results map[string]Result
}

func NewDataModelMatcher(repos *persistence.Repositories, originID, destinationID int64, matchers ...Matcher) *DataModelMatcher {
	if len(matchers) == 0 {
		matchers = Matchers()
	}
	return &DataModelMatcher{
		repos:         repos,
		originID:      originID,
		destinationID: destinationID,
		matchers:      matchers,
	}
}

func (m *DataModelMatcher) Run(ctx context.Context) error {
	m.origin = map[string][]Entity{}
	m.dest = map[string][]Entity{}
	m.results = map[string]Result{}
	for _, mt := range m.matchers {
		name := mt.EntityName()
		origin, err := mt.Load(ctx, m.repos, m.originID)
		if err != nil {
			return errors.Wrapf(err, "load origin %s", name)
		}
		dest, err := mt.Load(ctx, m.repos, m.destinationID)
		if err != nil {
			return errors.Wrapf(err, "load destination %s", name)
		}
		res := mt.Match(origin, dest)
		m.origin[name], m.dest[name], m.results[name] = origin, dest, res
		composables.UseLogger(ctx).WithFields(logrus.Fields{
			"entity":    name,
			"matched":   len(res.Matched),
			"unmatched": len(res.Unmatched),
			"orphaned":  len(res.Orphaned),
		}).Debug("entities matched")
	}
	return nil
}

// MatchedEntities maps, per entity, destination ids to origin ids.
func (m *DataModelMatcher) MatchedEntities() map[string]map[int64]int64 {
	out := make(map[string]map[int64]int64, len(m.results))
	for name, r := range m.results {
		out[name] = r.Matched
	}
	return out
}

// UnmatchedEntities lists destination ids with no origin counterpart.
func (m *DataModelMatcher) UnmatchedEntities() map[string][]int64 {
	out := make(map[string][]int64, len(m.results))
	for name, r := range m.results {
		out[name] = r.Unmatched
	}
	return out
}

// OrphanedEntities lists origin ids the destination dropped.
func (m *DataModelMatcher) OrphanedEntities() map[string][]int64 {
	out := make(map[string][]int64, len(m.results))
	for name, r := range m.results {
		out[name] = r.Orphaned
	}
	return out
}

func (m *DataModelMatcher) Origin(entity string) []Entity      { return m.origin[entity] }
func (m *DataModelMatcher) Destination(entity string) []Entity { return m.dest[entity] }

type Change struct {
	Entity        string         `json:"entity"`
	DestinationID int64          `json:"destination_id"`
	OriginID      int64          `json:"origin_id"`
	Patch         jsondiff.Patch `json:"patch"`
}

// Changes lists matched pairs whose fields differ, as JSON patches from origin to destination.
func (m *DataModelMatcher) Changes() ([]Change, error) {
	var out []Change
	for _, mt := range m.matchers {
		name := mt.EntityName()
		origin := index(m.origin[name])
		dest := index(m.dest[name])
		ids := make([]int64, 0, len(m.results[name].Matched))
		for d := range m.results[name].Matched {
			ids = append(ids, d)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, d := range ids {
			o := m.results[name].Matched[d]
			patch, err := Diff(origin[o], dest[d])
			if err != nil {
				return nil, err
			}
			if len(patch) > 0 {
				out = append(out, Change{Entity: name, DestinationID: d, OriginID: o, Patch: patch})
			}
		}
	}
	return out, nil
}

func Diff(origin, dest Entity) (jsondiff.Patch, error) {
	return jsondiff.Compare(origin.Data, dest.Data)
}

type Suggestion struct {
	Entity        string `json:"entity"`
	OriginID      int64  `json:"origin_id"`
	OriginKey     string `json:"origin_key"`
	DestinationID int64  `json:"destination_id"`
	Key           string `json:"key"`
	Distance      int    `json:"distance"`
}

// Suggest ranks unmatched destination entities that look like each orphan.
// Suggestions are never applied on their own.
func (m *DataModelMatcher) Suggest(limit int) []Suggestion {
	var out []Suggestion
	for _, mt := range m.matchers {
		name := mt.EntityName()
		res := m.results[name]
		if len(res.Orphaned) == 0 || len(res.Unmatched) == 0 {
			continue
		}
		origin := index(m.origin[name])
		dest := index(m.dest[name])
		keys := make([]string, len(res.Unmatched))
		for i, id := range res.Unmatched {
			keys[i] = dest[id].Key
		}
		for _, oid := range res.Orphaned {
			ranks := fuzzy.RankFindNormalizedFold(origin[oid].Key, keys)
			sort.Sort(ranks)
			for i, r := range ranks {
				if limit > 0 && i >= limit {
					break
				}
				out = append(out, Suggestion{
					Entity:        name,
					OriginID:      oid,
					OriginKey:     origin[oid].Key,
					DestinationID: res.Unmatched[r.OriginalIndex],
					Key:           r.Target,
					Distance:      r.Distance,
				})
			}
		}
	}
	return out
}

func index(in []Entity) map[int64]Entity {
	out := make(map[int64]Entity, len(in))
	for _, e := range in {
		out[e.ID] = e
	}
	return out
}
