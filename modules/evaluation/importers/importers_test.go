package importers

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/history"
)

type fixture struct {
	repos    *persistence.Repositories
	deps     Deps
	recorder *eventbus.Recorder
	history  *services.HistoryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := persistence.NewRepositories(persistence.NewMemoryStore())
	users := services.NewUserService(repos)
	for _, email := range []string{
		"obs1@example.com", "obs2@example.com",
		"etu1@example.com", "etu2@example.com", "etu3@example.com", "etu4@example.com", "etu5@example.com",
	} {
		_, err := users.Ensure(ctx, email, "", "")
		require.NoError(t, err)
	}
	bus := eventbus.NewEventPublisher(nil)
	rec := &eventbus.Recorder{}
	bus.Subscribe(eventbus.Wildcard, rec.Handle)
	hs := services.NewHistoryService(repos, bus)
	return &fixture{
		repos:    repos,
		recorder: rec,
		history:  hs,
		deps: Deps{
			Repos:     repos,
			Users:     users,
			Cleaner:   hs,
			Publisher: bus,
			Location:  time.UTC,
		},
	}
}

func (f *fixture) importFile(t *testing.T, kind Kind, path string, historyID int64, opts dataimport.ImportOptions) *dataimport.Result {
	t.Helper()
	imp, err := New(kind, f.deps)
	require.NoError(t, err)
	src := dataimport.NewCSVSource(path, DefaultDelimiter(kind), "")
	p := dataimport.NewProcessor(src, imp,
		dataimport.WithHistory(historyID),
		dataimport.WithTransactor(f.repos.Store),
	)
	return p.Import(context.Background(), opts)
}

func (f *fixture) importAll(t *testing.T, historyID int64) {
	t.Helper()
	for _, step := range []struct {
		kind Kind
		file string
	}{
		{KindEvaluationGrid, "evaluation_grid.csv"},
		{KindSituation, "situations.csv"},
		{KindGrouping, "grouping.csv"},
		{KindPlanning, "planning.csv"},
	} {
		res := f.importFile(t, step.kind, filepath.Join("testdata", step.file), historyID, dataimport.ImportOptions{})
		require.NoError(t, res.Err, "%s: %v", step.kind, res.Violations)
	}
}

func all(ctx context.Context) context.Context {
	return history.WithScope(ctx, history.Disabled())
}

// slot is a planning by natural key.
type slot struct {
	Group     string
	Situation string
	Start     time.Time
	End       time.Time
}

func (f *fixture) slots(t *testing.T, ctx context.Context) []slot {
	t.Helper()
	plans, err := f.repos.Plannings.Find(ctx, persistence.Filter{})
	require.NoError(t, err)
	out := make([]slot, 0, len(plans))
	for _, p := range plans {
		g, err := f.repos.Groups.Get(ctx, p.GroupID)
		require.NoError(t, err)
		sit, err := f.repos.Situations.Get(ctx, p.SituationID)
		require.NoError(t, err)
		out = append(out, slot{g.Name, sit.IDNumber, p.StartTime.UTC(), p.EndTime.UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func (f *fixture) assignmentPairs(t *testing.T, ctx context.Context) [][2]string {
	t.Helper()
	assignments, err := f.repos.Assignments.Find(ctx, persistence.Filter{})
	require.NoError(t, err)
	out := make([][2]string, 0, len(assignments))
	for _, a := range assignments {
		u, err := f.repos.Users.Get(ctx, a.StudentID)
		require.NoError(t, err)
		g, err := f.repos.Groups.Get(ctx, a.GroupID)
		require.NoError(t, err)
		out = append(out, [2]string{u.Email, g.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func TestRegistry(t *testing.T) {
	k, err := ParseKind(" Planning ")
	require.NoError(t, err)
	require.Equal(t, KindPlanning, k)

	_, err = ParseKind("users")
	require.ErrorIs(t, err, ErrUnknownKind)

	require.Equal(t,
		[]Kind{KindEvaluationGrid, KindSituation, KindGrouping, KindPlanning},
		Order([]Kind{KindPlanning, KindGrouping, KindEvaluationGrid, KindSituation}),
	)
	require.Equal(t, ',', DefaultDelimiter(KindEvaluationGrid))
	require.Equal(t, ';', DefaultDelimiter(KindPlanning))
}

func TestSituationImporter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.importFile(t, KindEvaluationGrid, "testdata/evaluation_grid.csv", 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err)
	res = f.importFile(t, KindSituation, "testdata/situations.csv", 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err, res.Violations)
	require.Equal(t, 3, res.Imported)

	grid, ok, err := f.repos.Grids.FindOne(ctx, persistence.Filter{"idnumber": "GRID01"})
	require.NoError(t, err)
	require.True(t, ok)

	tmg, ok, err := f.repos.Situations.FindOne(ctx, persistence.Filter{"idnumber": "TMG"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), tmg.ExpectedEvalsNb)
	require.Equal(t, grid.ID, tmg.EvalGridID)

	tmi, _, err := f.repos.Situations.FindOne(ctx, persistence.Filter{"idnumber": "TMI"})
	require.NoError(t, err)
	require.Equal(t, int64(1), tmi.ExpectedEvalsNb, "empty count defaults to one")

	tus, ok, err := f.repos.Situations.FindOne(ctx, persistence.Filter{"idnumber": "TUS"})
	require.NoError(t, err)
	require.True(t, ok, "idnumbers are upper-cased")
	def, ok, err := f.repos.Grids.FindOne(ctx, persistence.Filter{"idnumber": entities.DefaultGridIDNumber})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, def.ID, tus.EvalGridID)

	roles, err := f.repos.Roles.Find(ctx, persistence.Filter{})
	require.NoError(t, err)
	require.Len(t, roles, 4)

	failed := f.recorder.Events(events.NameRoleImportationFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "ghost@example.com", failed[0].(events.RoleImportationFailed).Email)

	t.Run("re-import updates in place", func(t *testing.T) {
		res := f.importFile(t, KindSituation, "testdata/situations_updated.csv", 0, dataimport.ImportOptions{})
		require.NoError(t, res.Err)

		n, err := f.repos.Situations.Count(ctx, persistence.Filter{})
		require.NoError(t, err)
		require.Equal(t, 3, n)

		tmg2, _, err := f.repos.Situations.FindOne(ctx, persistence.Filter{"idnumber": "TMG"})
		require.NoError(t, err)
		require.Equal(t, tmg.ID, tmg2.ID)
		require.Equal(t, int64(3), tmg2.ExpectedEvalsNb)
		require.Equal(t, "Médecine générale (révisée)", tmg2.Title)

		roles, err := f.repos.Roles.Find(ctx, persistence.Filter{})
		require.NoError(t, err)
		require.Len(t, roles, 4, "existing roles are not duplicated")
	})
}

func TestEvaluationGridImporter_Sort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.importFile(t, KindEvaluationGrid, "testdata/evaluation_grid.csv", 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err, res.Violations)
	require.Equal(t, 5, res.Imported)

	sorts := func() map[string]int64 {
		crits, err := f.repos.Criteria.Find(ctx, persistence.Filter{})
		require.NoError(t, err)
		out := map[string]int64{}
		for _, c := range crits {
			out[c.IDNumber] = c.Sort
		}
		return out
	}
	require.Equal(t, map[string]int64{"Q001": 1, "Q002": 1, "Q003": 2, "Q004": 2, "Q005": 1}, sorts())

	links, err := f.repos.CriterionGrids.Find(ctx, persistence.Filter{})
	require.NoError(t, err)
	require.Len(t, links, 5)
	var linkSorts []int
	for _, l := range links {
		linkSorts = append(linkSorts, int(l.Sort))
	}
	sort.Ints(linkSorts)
	require.Equal(t, []int{1, 2, 3, 4, 5}, linkSorts)

	moved := filepath.Join(t.TempDir(), "moved.csv")
	require.NoError(t, os.WriteFile(moved, []byte("evalgridid,idnumber,parentidnumber,label\nGRID01,Q002,Q004,Respect des horaires\n"), 0o644))
	res = f.importFile(t, KindEvaluationGrid, moved, 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err, res.Violations)

	require.Equal(t, map[string]int64{"Q001": 1, "Q002": 2, "Q003": 1, "Q004": 2, "Q005": 1}, sorts(),
		"siblings stay densely numbered after a move")
}

func TestEvaluationGridImporter_UnknownParentRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.importFile(t, KindEvaluationGrid, "testdata/evaluation_grid_badparent.csv", 0, dataimport.ImportOptions{})
	require.Error(t, res.Err)
	require.Len(t, res.Violations, 1)
	require.Equal(t, CodeParentNotFound, res.Violations[0].Code)
	require.Equal(t, 3, res.Violations[0].Line)
	require.Equal(t, "Q999", res.Violations[0].Info)

	n, err := f.repos.Criteria.Count(all(ctx), persistence.Filter{})
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = f.repos.Grids.Count(all(ctx), persistence.Filter{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestGroupingImporter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.importFile(t, KindGrouping, "testdata/grouping.csv", 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err, res.Violations)
	require.Equal(t, 6, res.Total)
	require.Equal(t, 5, res.Imported)
	require.Equal(t, 1, res.Skipped)

	groups, err := f.repos.Groups.Find(ctx, persistence.Filter{})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	byGroup := map[string]int{}
	for _, g := range groups {
		n, err := f.repos.Assignments.Count(ctx, persistence.Filter{"groupid": g.ID})
		require.NoError(t, err)
		byGroup[g.Name] = n
	}
	require.Equal(t, map[string]int{"Groupe A": 2, "Groupe B": 3}, byGroup)
	require.Equal(t, [][2]string{
		{"etu1@example.com", "Groupe A"},
		{"etu2@example.com", "Groupe A"},
		{"etu3@example.com", "Groupe B"},
		{"etu4@example.com", "Groupe B"},
		{"etu5@example.com", "Groupe B"},
	}, f.assignmentPairs(t, ctx))

	skipped := f.recorder.Events(events.NameGroupingRowSkipped)
	require.Len(t, skipped, 1)
	require.Equal(t, 4, skipped[0].(events.GroupingRowSkipped).Line)

	res = f.importFile(t, KindGrouping, "testdata/grouping.csv", 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err)
	n, err := f.repos.Assignments.Count(ctx, persistence.Filter{})
	require.NoError(t, err)
	require.Equal(t, 5, n, "re-import is idempotent")
}

func TestPlanningImporter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.importAll(t, 0)

	plans, err := f.repos.Plannings.Find(ctx, persistence.Filter{})
	require.NoError(t, err)
	require.Len(t, plans, 12)

	day := func(d, m int) time.Time { return time.Date(2024, time.Month(m), d, 0, 0, 0, 0, time.UTC) }
	eod := func(d, m int) time.Time { return time.Date(2024, time.Month(m), d, 23, 59, 59, 0, time.UTC) }
	want := []slot{
		{"Groupe A", "TMG", day(1, 3), eod(7, 3)},
		{"Groupe A", "TMI", day(8, 3), eod(14, 3)},
		{"Groupe A", "TUS", day(15, 3), eod(21, 3)},
		{"Groupe A", "TMG", day(22, 3), eod(28, 3)},
		{"Groupe A", "TMI", day(29, 3), eod(4, 4)},
		{"Groupe A", "TUS", day(5, 4), eod(11, 4)},
		{"Groupe B", "TMI", day(1, 3), eod(7, 3)},
		{"Groupe B", "TMG", day(8, 3), eod(14, 3)},
		{"Groupe B", "TMG", day(15, 3), eod(21, 3)},
		{"Groupe B", "TUS", day(22, 3), eod(28, 3)},
		{"Groupe B", "TUS", day(29, 3), eod(4, 4)},
		{"Groupe B", "TMI", day(5, 4), eod(11, 4)},
	}
	require.Equal(t, want, f.slots(t, ctx))

	groupA, _, err := f.repos.Groups.FindOne(ctx, persistence.Filter{"name": "Groupe A"})
	require.NoError(t, err)
	tmg, _, err := f.repos.Situations.FindOne(ctx, persistence.Filter{"idnumber": "TMG"})
	require.NoError(t, err)
	first, ok, err := f.repos.Plannings.FindOne(ctx, persistence.Filter{"groupid": groupA.ID, "clsituationid": tmg.ID})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), first.StartTime.UTC())
	require.Equal(t, time.Date(2024, 3, 7, 23, 59, 59, 0, time.UTC), first.EndTime.UTC())

	res := f.importFile(t, KindPlanning, "testdata/planning.csv", 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err, res.Violations)
	n, err := f.repos.Plannings.Count(ctx, persistence.Filter{})
	require.NoError(t, err)
	require.Equal(t, 12, n, "identical slots are not duplicated")
}

func TestPlanningImporter_Errors(t *testing.T) {
	f := newFixture(t)
	for _, file := range []string{"evaluation_grid.csv", "situations.csv"} {
		kind := KindSituation
		if file == "evaluation_grid.csv" {
			kind = KindEvaluationGrid
		}
		res := f.importFile(t, kind, filepath.Join("testdata", file), 0, dataimport.ImportOptions{})
		require.NoError(t, res.Err)
	}

	t.Run("overlap", func(t *testing.T) {
		res := f.importFile(t, KindPlanning, "testdata/planning_overlap.csv", 0, dataimport.ImportOptions{})
		require.Error(t, res.Err)
		require.Len(t, res.Violations, 1)
		v := res.Violations[0]
		require.Equal(t, CodeDateOverlaps, v.Code)
		require.Equal(t, 3, v.Line)
		require.Equal(t, "line 3 (08/03/2024 00:00-14/03/2024 23:59) overlaps line 2 (01/03/2024 00:00-10/03/2024 23:59)", v.Info)

		n, err := f.repos.Plannings.Count(all(context.Background()), persistence.Filter{})
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("unknown situation", func(t *testing.T) {
		res := f.importFile(t, KindPlanning, "testdata/planning_unknown_situation.csv", 0, dataimport.ImportOptions{})
		require.Error(t, res.Err)
		require.Len(t, res.Violations, 1)
		require.Equal(t, CodeSituationNotFound, res.Violations[0].Code)
		require.Equal(t, "Groupe A", res.Violations[0].Field)
		require.Equal(t, "XYZ", res.Violations[0].Info)
	})

	t.Run("end before start", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dates.csv")
		require.NoError(t, os.WriteFile(path, []byte("Date début;Date fin;Groupe A\n10/03/2024 10:00;09/03/2024 10:00;TMG\n"), 0o644))
		f.deps.DateLayouts = []string{"02/01/2006 15:04", "02/01/2006"}
		defer func() { f.deps.DateLayouts = nil }()
		res := f.importFile(t, KindPlanning, path, 0, dataimport.ImportOptions{})
		require.Error(t, res.Err)
		require.Equal(t, CodeInvalidDates, res.Violations[0].Code)
	})
}

func TestImport_HistoryScopingAndCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	h1, err := f.history.Create(ctx, "2024-S1", "")
	require.NoError(t, err)
	h2, err := f.history.Create(ctx, "2024-S2", "")
	require.NoError(t, err)
	f.importAll(t, h1.ID)

	in := func(id int64) context.Context { return history.WithScope(ctx, history.Current(id, true)) }
	n, err := f.repos.Plannings.Count(in(h1.ID), persistence.Filter{})
	require.NoError(t, err)
	require.Equal(t, 12, n)
	n, err = f.repos.Plannings.Count(in(h2.ID), persistence.Filter{})
	require.NoError(t, err)
	require.Zero(t, n)

	f.importAll(t, h2.ID)
	n, err = f.repos.Situations.Count(all(ctx), persistence.Filter{})
	require.NoError(t, err)
	require.Equal(t, 6, n, "each history holds its own generation")

	res := f.importFile(t, KindPlanning, "testdata/planning.csv", h1.ID, dataimport.ImportOptions{Cleanup: true})
	require.NoError(t, res.Err, res.Violations)
	n, err = f.repos.Plannings.Count(in(h1.ID), persistence.Filter{})
	require.NoError(t, err)
	require.Equal(t, 12, n, "cleanup then import rebuilds the same plannings")
	n, err = f.repos.Plannings.Count(all(ctx), persistence.Filter{})
	require.NoError(t, err)
	require.Equal(t, 24, n, "the other history is untouched")
}

func TestImport_BaselineCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.importAll(t, history.Baseline)

	shifted := filepath.Join(t.TempDir(), "planning_shifted.csv")
	require.NoError(t, os.WriteFile(shifted, []byte("Date début;Date fin;Groupe A;Groupe B\n02/03/2024;08/03/2024;TMG;TMI\n"), 0o644))

	res := f.importFile(t, KindPlanning, shifted, history.Baseline, dataimport.ImportOptions{Cleanup: true})
	require.NoError(t, res.Err, res.Violations)
	require.Equal(t, 2, res.Imported)

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	eod := func(d int) time.Time { return time.Date(2024, 3, d, 23, 59, 59, 0, time.UTC) }
	require.Equal(t, []slot{
		{"Groupe A", "TMG", day(2), eod(8)},
		{"Groupe B", "TMI", day(2), eod(8)},
	}, f.slots(t, all(ctx)))

	cleaned := f.recorder.Events(events.NameHistoryCleaned)
	require.Len(t, cleaned, 1)
	require.Equal(t, 12, cleaned[0].(events.HistoryCleaned).Rows)

	n, err := f.repos.Situations.Count(all(ctx), persistence.Filter{})
	require.NoError(t, err)
	require.Equal(t, 3, n, "only the planning table is cleaned")
}

func TestImport_RollbackDropsDomainEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.importFile(t, KindEvaluationGrid, "testdata/evaluation_grid.csv", 0, dataimport.ImportOptions{})
	require.NoError(t, res.Err)

	// The unknown observer on line 2 would publish a role failure; line 3 then breaks the file.
	path := filepath.Join(t.TempDir(), "situations_bad.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"Nom;Description;Nom court;Appreciations;GrilleEval;Evaluateurs;Observateurs\n"+
			"Consultation;;TMG;2;GRID01;obs1@example.com;ghost@example.com\n"+
			"Urgences;;TUS;deux;;;\n"), 0o644))

	res = f.importFile(t, KindSituation, path, 0, dataimport.ImportOptions{Cleanup: true})
	require.Error(t, res.Err)
	require.Zero(t, res.Imported)
	require.Empty(t, f.recorder.Events(events.NameRoleImportationFailed))
	require.Empty(t, f.recorder.Events(events.NameHistoryCleaned))

	n, err := f.repos.Situations.Count(all(ctx), persistence.Filter{})
	require.NoError(t, err)
	require.Zero(t, n)
}
