package importers

import (
	"context"
	"regexp"
	"strings"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/history"
)

const (
	ColGroupingEmail     = "Identifiant"
	ColGroupingLastname  = "Nom"
	ColGroupingFirstname = "Prénom"
)

var groupingColumn = regexp.MustCompile(`(?i)^groupement`)

// GroupingImporter assigns students to the groups named in the "Groupement N" columns.
type GroupingImporter struct {
	deps   Deps
	groups []string
}

func NewGroupingImporter(deps Deps) *GroupingImporter {
	return &GroupingImporter{deps: deps}
}

func (i *GroupingImporter) Kind() string { return string(KindGrouping) }

func (i *GroupingImporter) Prepare(_ context.Context, columns []string) (dataimport.Plan, error) {
	i.groups = dynamicColumns(columns, groupingColumn)

	defs := dataimport.Definitions{
		{Name: "email", Type: dataimport.TypeEmail, Required: true},
		{Name: "lastname", Type: dataimport.TypeText},
		{Name: "firstname", Type: dataimport.TypeText},
	}
	mapping := map[string][]dataimport.FieldMapping{
		ColGroupingEmail:     {{To: "email", Convert: dataimport.Trim}},
		ColGroupingLastname:  {{To: "lastname", Convert: dataimport.Trim}},
		ColGroupingFirstname: {{To: "firstname", Convert: dataimport.Trim}},
	}
	for _, col := range i.groups {
		defs = append(defs, dataimport.FieldDefinition{Name: col, Type: dataimport.TypeText})
		mapping[col] = []dataimport.FieldMapping{{To: col, Convert: dataimport.Trim}}
	}
	return dataimport.Plan{Definitions: defs, Transformer: dataimport.NewTransformer(mapping)}, nil
}

// ImportRow skips students that do not exist; the rest of the file still imports.
func (i *GroupingImporter) ImportRow(ctx context.Context, rec dataimport.Record) (dataimport.Outcome, error) {
	repos := i.deps.Repos
	ctx = history.Strict(ctx)

	email := rec.String("email")
	student, ok, err := i.deps.Users.FindByEmail(ctx, email)
	if err != nil {
		return dataimport.OutcomeImported, err
	}
	if !ok {
		composables.UseLogger(ctx).WithField("email", email).WithField("line", rec.Line).
			Info("grouping row skipped: unknown student")
		i.deps.publish(ctx, events.GroupingRowSkipped{Email: email, Line: rec.Line})
		return dataimport.OutcomeSkipped, nil
	}

	for _, col := range i.groups {
		name := strings.TrimSpace(rec.String(col))
		if name == "" {
			continue
		}
		group, _, err := repos.Groups.GetOrCreate(ctx, persistence.Filter{"name": name}, func() entities.Group {
			return entities.Group{Name: name}
		})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		_, _, err = repos.Assignments.GetOrCreate(ctx, persistence.Filter{
			"studentid": student.ID,
			"groupid":   group.ID,
		}, func() entities.GroupAssignment {
			return entities.GroupAssignment{StudentID: student.ID, GroupID: group.ID}
		})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
	}
	return dataimport.OutcomeImported, nil
}

func (i *GroupingImporter) Cleanup(ctx context.Context, historyID int64) error {
	return i.deps.cleanup(ctx, historyID, entities.TableGroupAssignment)
}
