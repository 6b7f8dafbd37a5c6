package importers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/history"
)

const (
	ColPlanningStart = "Date début"
	ColPlanningEnd   = "Date fin"

	CodeInvalidDates      = "planning:invaliddates"
	CodeSituationNotFound = "planning:situationnotfound"
	CodeDateOverlaps      = "planning:dateoverlaps"
)

var planningColumn = regexp.MustCompile(`(?i)^groupe`)

// PlanningImporter reads one row per time slot; every "Groupe X" column holds
// the situation idnumber the group rotates on during that slot.
type PlanningImporter struct {
	deps   Deps
	groups map[string]int64
	order  []string
	// lines remembers which line created a planning, for overlap messages.
	lines map[int64]int
}

func NewPlanningImporter(deps Deps) *PlanningImporter {
	return &PlanningImporter{deps: deps}
}

func (i *PlanningImporter) Kind() string { return string(KindPlanning) }

// Prepare creates the groups named by the header so they exist even for empty columns.
func (i *PlanningImporter) Prepare(ctx context.Context, columns []string) (dataimport.Plan, error) {
	i.order = dynamicColumns(columns, planningColumn)
	i.groups = make(map[string]int64, len(i.order))
	i.lines = map[int64]int{}

	strict := history.Strict(ctx)
	for _, col := range i.order {
		name := strings.TrimSpace(col)
		group, _, err := i.deps.Repos.Groups.GetOrCreate(strict, persistence.Filter{"name": name}, func() entities.Group {
			return entities.Group{Name: name}
		})
		if err != nil {
			return dataimport.Plan{}, err
		}
		i.groups[col] = group.ID
	}

	toTime := dataimport.ToTimestamp(i.deps.location(), i.deps.layouts()...)
	defs := dataimport.Definitions{
		{Name: "starttime", Type: dataimport.TypeTimestamp, Required: true},
		{Name: "endtime", Type: dataimport.TypeTimestamp, Required: true},
	}
	mapping := map[string][]dataimport.FieldMapping{
		ColPlanningStart: {{To: "starttime", Convert: toTime}},
		ColPlanningEnd:   {{To: "endtime", Convert: toTime}},
	}
	for _, col := range i.order {
		defs = append(defs, dataimport.FieldDefinition{Name: col, Type: dataimport.TypeIDNumber})
		mapping[col] = []dataimport.FieldMapping{{To: col, Convert: dataimport.Upper}}
	}
	return dataimport.Plan{Definitions: defs, Transformer: dataimport.NewTransformer(mapping)}, nil
}

func (i *PlanningImporter) ImportRow(ctx context.Context, rec dataimport.Record) (dataimport.Outcome, error) {
	strict := history.Strict(ctx)

	start, _ := rec.Values["starttime"].(time.Time)
	end, _ := rec.Values["endtime"].(time.Time)
	end = endOfDay(end)
	if end.Before(start) {
		return dataimport.OutcomeImported, dataimport.NewImportError(rec.Line, CodeInvalidDates, ColPlanningEnd,
			fmt.Sprintf("%s < %s", formatSlot(end), formatSlot(start)))
	}

	for _, col := range i.order {
		idnumber := rec.String(col)
		if idnumber == "" {
			continue
		}
		// Situations may come from the baseline, so the lookup is not strict.
		sit, ok, err := i.deps.Repos.Situations.FindOne(ctx, persistence.Filter{"idnumber": idnumber})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		if !ok {
			return dataimport.OutcomeImported, dataimport.NewImportError(rec.Line, CodeSituationNotFound, col, idnumber)
		}

		slot := entities.Planning{GroupID: i.groups[col], SituationID: sit.ID, StartTime: start, EndTime: end}
		existing, err := i.deps.Repos.Plannings.Find(strict, persistence.Filter{"groupid": slot.GroupID})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		duplicate := false
		for _, p := range existing {
			if p.SituationID == slot.SituationID && p.StartTime.Equal(start) && p.EndTime.Equal(end) {
				duplicate = true
				break
			}
			if p.Overlaps(slot) {
				return dataimport.OutcomeImported, dataimport.NewImportError(rec.Line, CodeDateOverlaps, col,
					fmt.Sprintf("line %d (%s-%s) overlaps %s (%s-%s)",
						rec.Line, formatSlot(start), formatSlot(end), i.origin(p), formatSlot(p.StartTime), formatSlot(p.EndTime)))
			}
		}
		if duplicate {
			continue
		}
		created, err := i.deps.Repos.Plannings.Create(strict, slot)
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		i.lines[created.ID] = rec.Line
	}
	return dataimport.OutcomeImported, nil
}

func (i *PlanningImporter) origin(p entities.Planning) string {
	if line, ok := i.lines[p.ID]; ok {
		return fmt.Sprintf("line %d", line)
	}
	return fmt.Sprintf("planning %d", p.ID)
}

func (i *PlanningImporter) Cleanup(ctx context.Context, historyID int64) error {
	return i.deps.cleanup(ctx, historyID, entities.TablePlanning)
}

// endOfDay moves a date given without a time to the last second of that day.
func endOfDay(t time.Time) time.Time {
	if t.IsZero() || t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

func formatSlot(t time.Time) string {
	return t.Format("02/01/2006 15:04")
}
