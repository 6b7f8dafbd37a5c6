package matcher

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/history"
)

type keyMatcher struct {
	name string
	load func(ctx context.Context, repos *persistence.Repositories) ([]Entity, error)
}

func (m keyMatcher) EntityName() string { return m.name }

func (m keyMatcher) Match(origin, dest []Entity) Result { return MatchByKey(origin, dest) }

// Load reads the rows produced under historyID. References are resolved across
// generations since a row may point at the baseline.
func (m keyMatcher) Load(ctx context.Context, repos *persistence.Repositories, historyID int64) ([]Entity, error) {
	return history.WithinResult(ctx, history.Current(historyID, true), func(ctx context.Context) ([]Entity, error) {
		return m.load(ctx, repos)
	})
}

// Matchers returns the registered matchers, references first.
func Matchers() []Matcher {
	return []Matcher{
		keyMatcher{name: entities.TableEvalGrid, load: loadGrids},
		keyMatcher{name: entities.TableCriterion, load: loadCriteria},
		keyMatcher{name: entities.TableSituation, load: loadSituations},
		keyMatcher{name: entities.TableGroup, load: loadGroups},
		keyMatcher{name: entities.TablePlanning, load: loadPlannings},
	}
}

func Lookup(name string) (Matcher, bool) {
	for _, m := range Matchers() {
		if m.EntityName() == name {
			return m, true
		}
	}
	return nil, false
}

func anyScope(ctx context.Context) context.Context {
	return history.WithScope(ctx, history.Disabled())
}

func loadGrids(ctx context.Context, repos *persistence.Repositories) ([]Entity, error) {
	grids, err := repos.Grids.Find(ctx, persistence.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(grids))
	for _, g := range grids {
		out = append(out, Entity{ID: g.ID, Key: g.IDNumber, Data: map[string]any{
			"idnumber": g.IDNumber,
			"name":     g.Name,
		}})
	}
	return out, nil
}

func loadCriteria(ctx context.Context, repos *persistence.Repositories) ([]Entity, error) {
	crits, err := repos.Criteria.Find(ctx, persistence.Filter{})
	if err != nil {
		return nil, err
	}
	grids := map[int64]string{}
	parents := map[int64]string{}
	out := make([]Entity, 0, len(crits))
	for _, c := range crits {
		grid, err := cached(grids, c.EvalGridID, func() (string, error) {
			g, err := repos.Grids.Get(anyScope(ctx), c.EvalGridID)
			return g.IDNumber, err
		})
		if err != nil {
			return nil, err
		}
		parent, err := cached(parents, c.ParentID, func() (string, error) {
			p, err := repos.Criteria.Get(anyScope(ctx), c.ParentID)
			return p.IDNumber, err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, Entity{ID: c.ID, Key: grid + "/" + c.IDNumber, Data: map[string]any{
			"evalgrid": grid,
			"idnumber": c.IDNumber,
			"parent":   parent,
			"label":    c.Label,
			"sort":     c.Sort,
		}})
	}
	return out, nil
}

func loadSituations(ctx context.Context, repos *persistence.Repositories) ([]Entity, error) {
	sits, err := repos.Situations.Find(ctx, persistence.Filter{})
	if err != nil {
		return nil, err
	}
	grids := map[int64]string{}
	out := make([]Entity, 0, len(sits))
	for _, s := range sits {
		grid, err := cached(grids, s.EvalGridID, func() (string, error) {
			g, err := repos.Grids.Get(anyScope(ctx), s.EvalGridID)
			return g.IDNumber, err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, Entity{ID: s.ID, Key: s.IDNumber, Data: map[string]any{
			"idnumber":        s.IDNumber,
			"title":           s.Title,
			"description":     s.Description,
			"expectedevalsnb": s.ExpectedEvalsNb,
			"evalgrid":        grid,
		}})
	}
	return out, nil
}

func loadGroups(ctx context.Context, repos *persistence.Repositories) ([]Entity, error) {
	groups, err := repos.Groups.Find(ctx, persistence.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(groups))
	for _, g := range groups {
		out = append(out, Entity{ID: g.ID, Key: g.Name, Data: map[string]any{"name": g.Name}})
	}
	return out, nil
}

func loadPlannings(ctx context.Context, repos *persistence.Repositories) ([]Entity, error) {
	plans, err := repos.Plannings.Find(ctx, persistence.Filter{})
	if err != nil {
		return nil, err
	}
	groups := map[int64]string{}
	sits := map[int64]string{}
	out := make([]Entity, 0, len(plans))
	for _, p := range plans {
		group, err := cached(groups, p.GroupID, func() (string, error) {
			g, err := repos.Groups.Get(anyScope(ctx), p.GroupID)
			return g.Name, err
		})
		if err != nil {
			return nil, err
		}
		sit, err := cached(sits, p.SituationID, func() (string, error) {
			s, err := repos.Situations.Get(anyScope(ctx), p.SituationID)
			return s.IDNumber, err
		})
		if err != nil {
			return nil, err
		}
		start, end := p.StartTime.UTC().Format(time.RFC3339), p.EndTime.UTC().Format(time.RFC3339)
		out = append(out, Entity{
			ID:  p.ID,
			Key: strings.Join([]string{group, sit, start, end}, "|"),
			Data: map[string]any{
				"group":     group,
				"situation": sit,
				"starttime": start,
				"endtime":   end,
			},
		})
	}
	return out, nil
}

// cached resolves id once; id 0 is the empty reference.
func cached(cache map[int64]string, id int64, resolve func() (string, error)) (string, error) {
	if id == 0 {
		return "", nil
	}
	if v, ok := cache[id]; ok {
		return v, nil
	}
	v, err := resolve()
	if err != nil {
		return "", errors.Wrapf(err, "resolve reference %d", id)
	}
	cache[id] = v
	return v, nil
}
