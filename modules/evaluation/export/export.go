// Package export writes a history back to the four import formats.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/history"
)

type Table struct {
	Kind   importers.Kind
	Header []string
	Rows   [][]string
}

type builder func(e *Exporter, ctx context.Context) (Table, error)

var builders = map[importers.Kind]builder{
	importers.KindEvaluationGrid: (*Exporter).evaluationGrids,
	importers.KindSituation:      (*Exporter).situations,
	importers.KindGrouping:       (*Exporter).groupings,
	importers.KindPlanning:       (*Exporter).plannings,
}

type Exporter struct {
	repos    *persistence.Repositories
	location *time.Location
}

func NewExporter(repos *persistence.Repositories, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{repos: repos, location: loc}
}

// Export builds the tables of historyID in dependency order. No kinds means all of them.
func (e *Exporter) Export(ctx context.Context, historyID int64, kinds ...importers.Kind) ([]Table, error) {
	if len(kinds) == 0 {
		kinds = importers.Kinds()
	}
	return history.WithinResult(ctx, history.Current(historyID, true), func(ctx context.Context) ([]Table, error) {
		out := make([]Table, 0, len(kinds))
		for _, kind := range importers.Order(kinds) {
			build, ok := builders[kind]
			if !ok {
				return nil, errors.Wrap(importers.ErrUnknownKind, string(kind))
			}
			t, err := build(e, ctx)
			if err != nil {
				return nil, errors.Wrapf(err, "export %s", kind)
			}
			out = append(out, t)
		}
		return out, nil
	})
}

func anyScope(ctx context.Context) context.Context {
	return history.WithScope(ctx, history.Disabled())
}

func (e *Exporter) evaluationGrids(ctx context.Context) (Table, error) {
	t := Table{
		Kind:   importers.KindEvaluationGrid,
		Header: []string{importers.ColGridIDNumber, importers.ColCriterionID, importers.ColCriterionPID, importers.ColCriterionLabel},
	}
	grids, err := e.repos.Grids.Find(ctx, persistence.Filter{})
	if err != nil {
		return t, err
	}
	for _, g := range grids {
		crits, err := e.repos.Criteria.Find(ctx, persistence.Filter{"evalgridid": g.ID})
		if err != nil {
			return t, err
		}
		children := map[int64][]entities.Criterion{}
		idnumbers := map[int64]string{}
		for _, c := range crits {
			children[c.ParentID] = append(children[c.ParentID], c)
			idnumbers[c.ID] = c.IDNumber
		}
		// Parents are written before their children so the file re-imports.
		var walk func(parent int64)
		walk = func(parent int64) {
			kids := children[parent]
			sort.SliceStable(kids, func(i, j int) bool { return kids[i].Sort < kids[j].Sort })
			for _, c := range kids {
				t.Rows = append(t.Rows, []string{g.IDNumber, c.IDNumber, idnumbers[c.ParentID], c.Label})
				walk(c.ID)
			}
		}
		walk(0)
	}
	return t, nil
}

func (e *Exporter) situations(ctx context.Context) (Table, error) {
	t := Table{
		Kind: importers.KindSituation,
		Header: []string{
			importers.ColSituationTitle, importers.ColSituationDescription, importers.ColSituationIDNumber,
			importers.ColSituationExpected, importers.ColSituationGrid,
			importers.ColSituationAssessors, importers.ColSituationAppraisers,
		},
	}
	sits, err := e.repos.Situations.Find(ctx, persistence.Filter{})
	if err != nil {
		return t, err
	}
	emails := map[int64]string{}
	for _, s := range sits {
		grid := ""
		if s.EvalGridID != 0 {
			g, err := e.repos.Grids.Get(anyScope(ctx), s.EvalGridID)
			if err != nil {
				return t, err
			}
			if g.IDNumber != entities.DefaultGridIDNumber {
				grid = g.IDNumber
			}
		}
		roles, err := e.repos.Roles.Find(ctx, persistence.Filter{"clsituationid": s.ID})
		if err != nil {
			return t, err
		}
		var assessors, appraisers []string
		for _, r := range roles {
			email, err := e.email(ctx, emails, r.UserID)
			if err != nil {
				return t, err
			}
			switch r.Type {
			case entities.RoleAssessor:
				assessors = append(assessors, email)
			case entities.RoleAppraiser:
				appraisers = append(appraisers, email)
			}
		}
		t.Rows = append(t.Rows, []string{
			s.Title, s.Description, s.IDNumber, fmt.Sprint(s.ExpectedEvalsNb), grid,
			strings.Join(assessors, ","), strings.Join(appraisers, ","),
		})
	}
	return t, nil
}

func (e *Exporter) email(ctx context.Context, cache map[int64]string, id int64) (string, error) {
	if v, ok := cache[id]; ok {
		return v, nil
	}
	u, err := e.repos.Users.Get(ctx, id)
	if err != nil {
		return "", err
	}
	cache[id] = u.Email
	return u.Email, nil
}

func (e *Exporter) groupings(ctx context.Context) (Table, error) {
	t := Table{Kind: importers.KindGrouping}
	assignments, err := e.repos.Assignments.Find(ctx, persistence.Filter{})
	if err != nil {
		return t, err
	}
	groups := map[int64]string{}
	var students []int64
	byStudent := map[int64][]string{}
	for _, a := range assignments {
		name, ok := groups[a.GroupID]
		if !ok {
			g, err := e.repos.Groups.Get(anyScope(ctx), a.GroupID)
			if err != nil {
				return t, err
			}
			name, groups[a.GroupID] = g.Name, g.Name
		}
		if _, seen := byStudent[a.StudentID]; !seen {
			students = append(students, a.StudentID)
		}
		byStudent[a.StudentID] = append(byStudent[a.StudentID], name)
	}
	width := 1
	for _, names := range byStudent {
		width = max(width, len(names))
	}
	t.Header = []string{importers.ColGroupingEmail, importers.ColGroupingLastname, importers.ColGroupingFirstname}
	for i := 1; i <= width; i++ {
		t.Header = append(t.Header, fmt.Sprintf("Groupement %d", i))
	}
	for _, id := range students {
		u, err := e.repos.Users.Get(ctx, id)
		if err != nil {
			return t, err
		}
		row := []string{u.Email, u.LastName, u.FirstName}
		row = append(row, byStudent[id]...)
		for len(row) < len(t.Header) {
			row = append(row, "")
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

type slot struct {
	start, end time.Time
}

func (e *Exporter) plannings(ctx context.Context) (Table, error) {
	t := Table{Kind: importers.KindPlanning, Header: []string{importers.ColPlanningStart, importers.ColPlanningEnd}}
	plans, err := e.repos.Plannings.Find(ctx, persistence.Filter{})
	if err != nil {
		return t, err
	}
	groups, err := e.repos.Groups.Find(ctx, persistence.Filter{})
	if err != nil {
		return t, err
	}
	names := map[int64]string{}
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	situations := map[int64]string{}
	cells := map[slot]map[string]string{}
	var slots []slot
	for _, p := range plans {
		name, ok := names[p.GroupID]
		if !ok {
			g, err := e.repos.Groups.Get(anyScope(ctx), p.GroupID)
			if err != nil {
				return t, err
			}
			name, names[p.GroupID] = g.Name, g.Name
			groups = append(groups, g)
		}
		sit, ok := situations[p.SituationID]
		if !ok {
			s, err := e.repos.Situations.Get(anyScope(ctx), p.SituationID)
			if err != nil {
				return t, err
			}
			sit, situations[p.SituationID] = s.IDNumber, s.IDNumber
		}
		k := slot{start: p.StartTime, end: p.EndTime}
		if cells[k] == nil {
			cells[k] = map[string]string{}
			slots = append(slots, k)
		}
		cells[k][name] = sit
	}
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].start.Equal(slots[j].start) {
			return slots[i].start.Before(slots[j].start)
		}
		return slots[i].end.Before(slots[j].end)
	})

	var columns []string
	for _, g := range groups {
		if !slices.Contains(columns, g.Name) {
			columns = append(columns, g.Name)
		}
	}
	sort.Strings(columns)
	t.Header = append(t.Header, columns...)
	for _, s := range slots {
		row := []string{e.formatStart(s.start), e.formatEnd(s.end)}
		for _, c := range columns {
			row = append(row, cells[s][c])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Dates without a time of day are written the way operators type them.
func (e *Exporter) formatStart(t time.Time) string {
	t = t.In(e.location)
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("02/01/2006")
	}
	return t.Format(time.RFC3339)
}

func (e *Exporter) formatEnd(t time.Time) string {
	t = t.In(e.location)
	if t.Hour() == 23 && t.Minute() == 59 && t.Second() == 59 {
		return t.Format("02/01/2006")
	}
	return t.Format(time.RFC3339)
}

func WriteCSV(w io.Writer, t Table, delimiter rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delimiter
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSVDir writes one <kind>.csv per table with the kind's default delimiter.
func WriteCSVDir(dir string, tables []Table) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		path := filepath.Join(dir, string(t.Kind)+".csv")
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		err = WriteCSV(f, t, importers.DefaultDelimiter(t.Kind))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, errors.Wrapf(err, "write %s", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteXLSX writes a workbook with one sheet per table, named after the kind.
func WriteXLSX(w io.Writer, tables []Table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, t := range tables {
		sheet := string(t.Kind)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		for r, row := range append([][]string{t.Header}, t.Rows...) {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			values := make([]any, len(row))
			for c, v := range row {
				values[c] = v
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return err
			}
		}
	}
	_, err := f.WriteTo(w)
	return err
}
