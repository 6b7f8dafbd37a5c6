package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/modules/evaluation/matcher"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/itf"
)

func newEnv(t *testing.T) (*itf.TestEnvironment, int64) {
	t.Helper()
	env := itf.NewTestContext().WithUsers(
		"obs1@example.com", "obs2@example.com",
		"etu1@example.com", "etu2@example.com", "etu3@example.com", "etu4@example.com", "etu5@example.com",
	).Build(t)
	h := env.NewHistory(t, "2024-S1")
	env.MustImport(t, h.ID, map[importers.Kind]string{
		importers.KindEvaluationGrid: "../importers/testdata/evaluation_grid.csv",
		importers.KindSituation:      "../importers/testdata/situations.csv",
		importers.KindGrouping:       "../importers/testdata/grouping.csv",
		importers.KindPlanning:       "../importers/testdata/planning.csv",
	})
	return env, h.ID
}

func requireIdentical(t *testing.T, env *itf.TestEnvironment, origin, dest int64) {
	t.Helper()
	m := matcher.NewDataModelMatcher(env.Repos, origin, dest)
	require.NoError(t, m.Run(env.Ctx))
	for name, ids := range m.UnmatchedEntities() {
		assert.Empty(t, ids, "unmatched %s", name)
	}
	for name, ids := range m.OrphanedEntities() {
		assert.Empty(t, ids, "orphaned %s", name)
	}
	changes, err := m.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestExport_Tables(t *testing.T) {
	env, h := newEnv(t)
	tables, err := NewExporter(env.Repos, nil).Export(env.Ctx, h)
	require.NoError(t, err)
	require.Len(t, tables, 4)

	var kinds []importers.Kind
	for _, tb := range tables {
		kinds = append(kinds, tb.Kind)
	}
	assert.Equal(t, importers.Kinds(), kinds)

	grid := tables[0]
	require.Len(t, grid.Rows, 5)
	assert.Equal(t, []string{"GRID01", "Q001", "", "Savoir être"}, grid.Rows[0])
	assert.Equal(t, []string{"GRID01", "Q002", "Q001", "Respect des horaires"}, grid.Rows[1])

	planning := tables[3]
	assert.Equal(t, []string{"Date début", "Date fin", "Groupe A", "Groupe B"}, planning.Header)
	require.Len(t, planning.Rows, 6)
	assert.Equal(t, []string{"01/03/2024", "07/03/2024", "TMG", "TMI"}, planning.Rows[0])

	for _, row := range tables[1].Rows {
		if row[2] == "TUS" {
			assert.Empty(t, row[4], "the default grid is implied")
		}
	}
}

func TestExport_CSVRoundTrip(t *testing.T) {
	env, h1 := newEnv(t)
	tables, err := NewExporter(env.Repos, nil).Export(env.Ctx, h1)
	require.NoError(t, err)

	dir := t.TempDir()
	paths, err := WriteCSVDir(dir, tables)
	require.NoError(t, err)
	require.Len(t, paths, 4)

	raw, err := os.ReadFile(filepath.Join(dir, "planning.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "Date début;Date fin;"))

	h2 := env.NewHistory(t, "2024-S2")
	files := map[importers.Kind]string{}
	for _, p := range paths {
		files[importers.Kind(strings.TrimSuffix(filepath.Base(p), ".csv"))] = p
	}
	env.MustImport(t, h2.ID, files)
	requireIdentical(t, env, h1, h2.ID)
}

func TestExport_XLSXRoundTrip(t *testing.T) {
	env, h1 := newEnv(t)
	tables, err := NewExporter(env.Repos, nil).Export(env.Ctx, h1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, tables))
	path := filepath.Join(t.TempDir(), "model.xlsx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	h2 := env.NewHistory(t, "2024-S2")
	for _, kind := range importers.Kinds() {
		imp, err := importers.New(kind, env.Deps())
		require.NoError(t, err)
		res := dataimport.NewProcessor(
			dataimport.NewXLSXSource(path, string(kind)), imp,
			dataimport.WithHistory(h2.ID),
			dataimport.WithTransactor(env.Store),
		).Import(env.Ctx, dataimport.ImportOptions{})
		require.NoError(t, res.Err, "%s: %v", kind, res.Violations)
	}
	requireIdentical(t, env, h1, h2.ID)
}
