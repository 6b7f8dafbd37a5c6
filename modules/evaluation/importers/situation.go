package importers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/history"
)

const (
	ColSituationTitle       = "Nom"
	ColSituationDescription = "Description"
	ColSituationIDNumber    = "Nom court"
	ColSituationExpected    = "Appreciations"
	ColSituationGrid        = "GrilleEval"
	ColSituationAssessors   = "Evaluateurs"
	ColSituationAppraisers  = "Observateurs"
)

var situationDefinitions = dataimport.Definitions{
	{Name: "title", Type: dataimport.TypeText, Required: true},
	{Name: "description", Type: dataimport.TypeText},
	{Name: "idnumber", Type: dataimport.TypeIDNumber, Required: true},
	{Name: "expectedevalsnb", Type: dataimport.TypeInt},
	{Name: "evalgridid", Type: dataimport.TypeForeignKey},
	{Name: "assessors", Type: dataimport.TypeEmailList},
	{Name: "appraisers", Type: dataimport.TypeEmailList},
}

type SituationImporter struct {
	deps Deps
}

func NewSituationImporter(deps Deps) *SituationImporter {
	return &SituationImporter{deps: deps}
}

func (i *SituationImporter) Kind() string { return string(KindSituation) }

func (i *SituationImporter) Prepare(_ context.Context, _ []string) (dataimport.Plan, error) {
	gridByIDNumber := dataimport.Lookup(func(ctx context.Context, idnumber string) (int64, error) {
		g, ok, err := i.deps.Repos.Grids.FindOne(ctx, persistence.Filter{"idnumber": idnumber})
		if err != nil || !ok {
			return 0, err
		}
		return g.ID, nil
	}, entities.NormalizeIDNumber)

	return dataimport.Plan{
		Definitions: situationDefinitions,
		Transformer: dataimport.NewTransformer(map[string][]dataimport.FieldMapping{
			ColSituationTitle:       {{To: "title", Convert: dataimport.Trim}},
			ColSituationDescription: {{To: "description", Convert: dataimport.Trim}},
			ColSituationIDNumber:    {{To: "idnumber", Convert: dataimport.Upper}},
			ColSituationExpected:    {{To: "expectedevalsnb", Convert: dataimport.ToInt}},
			ColSituationGrid:        {{To: "evalgridid", Convert: gridByIDNumber}},
			ColSituationAssessors:   {{To: "assessors", Convert: dataimport.SplitList}},
			ColSituationAppraisers:  {{To: "appraisers", Convert: dataimport.SplitList}},
		}),
	}, nil
}

// ImportRow upserts the situation by idnumber within the current history,
// then attaches assessors and appraisers.
func (i *SituationImporter) ImportRow(ctx context.Context, rec dataimport.Record) (dataimport.Outcome, error) {
	repos := i.deps.Repos
	strict := history.Strict(ctx)

	gridID := rec.Int("evalgridid")
	if gridID == 0 {
		grid, _, err := repos.Grids.GetOrCreate(ctx, persistence.Filter{"idnumber": entities.DefaultGridIDNumber},
			func() entities.EvalGrid {
				return entities.EvalGrid{Name: entities.DefaultGridIDNumber, IDNumber: entities.DefaultGridIDNumber}
			})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		gridID = grid.ID
	}
	expected := rec.Int("expectedevalsnb")
	if rec.Raw["expectedevalsnb"] == "" {
		expected = 1
	}

	// Assessor and appraiser lists are helper fields; only these columns are persisted.
	values := entities.Situation{
		Title:           rec.String("title"),
		Description:     rec.String("description"),
		IDNumber:        rec.String("idnumber"),
		ExpectedEvalsNb: expected,
		EvalGridID:      gridID,
	}

	sit, found, err := repos.Situations.FindOne(strict, persistence.Filter{"idnumber": values.IDNumber})
	if err != nil {
		return dataimport.OutcomeImported, err
	}
	if found {
		values.ID, values.HistoryID, values.DescriptionFormat = sit.ID, sit.HistoryID, sit.DescriptionFormat
		if err := repos.Situations.Update(strict, sit.ID, values); err != nil {
			return dataimport.OutcomeImported, err
		}
		sit = values
	} else {
		if sit, err = repos.Situations.Create(strict, values); err != nil {
			return dataimport.OutcomeImported, err
		}
	}

	for _, r := range []struct {
		emails []string
		typ    entities.RoleType
	}{
		{rec.Strings("assessors"), entities.RoleAssessor},
		{rec.Strings("appraisers"), entities.RoleAppraiser},
	} {
		for _, email := range r.emails {
			if err := i.attachRole(strict, sit, email, r.typ, rec.Line); err != nil {
				return dataimport.OutcomeImported, err
			}
		}
	}
	return dataimport.OutcomeImported, nil
}

func (i *SituationImporter) attachRole(ctx context.Context, sit entities.Situation, email string, typ entities.RoleType, line int) error {
	user, ok, err := i.deps.Users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		composables.UseLogger(ctx).WithFields(logrus.Fields{
			"email":     email,
			"situation": sit.IDNumber,
			"role":      typ.String(),
			"line":      line,
		}).Warn("role importation failed: unknown user")
		i.deps.publish(ctx, events.RoleImportationFailed{
			Email:             email,
			SituationIDNumber: sit.IDNumber,
			Type:              typ,
			Line:              line,
		})
		return nil
	}
	_, _, err = i.deps.Repos.Roles.GetOrCreate(ctx, persistence.Filter{
		"userid":        user.ID,
		"clsituationid": sit.ID,
		"type":          int64(typ),
	}, func() entities.Role {
		return entities.Role{UserID: user.ID, SituationID: sit.ID, Type: typ}
	})
	return err
}

func (i *SituationImporter) Cleanup(ctx context.Context, historyID int64) error {
	return i.deps.cleanup(ctx, historyID, entities.TableRole, entities.TableSituation)
}
