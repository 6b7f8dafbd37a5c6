package importers

import (
	"context"
	"sort"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/history"
)

const (
	ColGridIDNumber   = "evalgridid"
	ColCriterionID    = "idnumber"
	ColCriterionPID   = "parentidnumber"
	ColCriterionLabel = "label"

	CodeParentNotFound = "evaluationgrid:parentnotfound"
)

var evaluationGridDefinitions = dataimport.Definitions{
	{Name: "evalgrid", Type: dataimport.TypeIDNumber, Required: true},
	{Name: "idnumber", Type: dataimport.TypeIDNumber, Required: true},
	{Name: "parentidnumber", Type: dataimport.TypeIDNumber},
	{Name: "label", Type: dataimport.TypeText, Required: true},
}

type EvaluationGridImporter struct {
	deps Deps
}

func NewEvaluationGridImporter(deps Deps) *EvaluationGridImporter {
	return &EvaluationGridImporter{deps: deps}
}

func (i *EvaluationGridImporter) Kind() string { return string(KindEvaluationGrid) }

func (i *EvaluationGridImporter) Prepare(_ context.Context, _ []string) (dataimport.Plan, error) {
	return dataimport.Plan{
		Definitions: evaluationGridDefinitions,
		Transformer: dataimport.NewTransformer(map[string][]dataimport.FieldMapping{
			ColGridIDNumber:   {{To: "evalgrid", Convert: dataimport.Upper}},
			ColCriterionID:    {{To: "idnumber", Convert: dataimport.Upper}},
			ColCriterionPID:   {{To: "parentidnumber", Convert: dataimport.Upper}},
			ColCriterionLabel: {{To: "label", Convert: dataimport.Trim}},
		}),
	}, nil
}

func (i *EvaluationGridImporter) ImportRow(ctx context.Context, rec dataimport.Record) (dataimport.Outcome, error) {
	repos := i.deps.Repos
	ctx = history.Strict(ctx)

	gridIDNumber := rec.String("evalgrid")
	grid, _, err := repos.Grids.GetOrCreate(ctx, persistence.Filter{"idnumber": gridIDNumber}, func() entities.EvalGrid {
		return entities.EvalGrid{Name: gridIDNumber, IDNumber: gridIDNumber}
	})
	if err != nil {
		return dataimport.OutcomeImported, err
	}

	var parentID int64
	if parent := rec.String("parentidnumber"); parent != "" {
		p, ok, err := repos.Criteria.FindOne(ctx, persistence.Filter{"idnumber": parent, "evalgridid": grid.ID})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		if !ok {
			return dataimport.OutcomeImported, dataimport.NewImportError(rec.Line, CodeParentNotFound, "parentidnumber", parent)
		}
		parentID = p.ID
	}

	idnumber := rec.String("idnumber")
	crit, found, err := repos.Criteria.FindOne(ctx, persistence.Filter{"idnumber": idnumber, "evalgridid": grid.ID})
	if err != nil {
		return dataimport.OutcomeImported, err
	}
	switch {
	case !found:
		n, err := repos.Criteria.Count(ctx, persistence.Filter{"evalgridid": grid.ID, "parentid": parentID})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		crit, err = repos.Criteria.Create(ctx, entities.Criterion{
			Label:      rec.String("label"),
			IDNumber:   idnumber,
			ParentID:   parentID,
			EvalGridID: grid.ID,
			Sort:       int64(n) + 1,
		})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
	case crit.ParentID != parentID:
		oldParent := crit.ParentID
		n, err := repos.Criteria.Count(ctx, persistence.Filter{"evalgridid": grid.ID, "parentid": parentID})
		if err != nil {
			return dataimport.OutcomeImported, err
		}
		crit.Label, crit.ParentID, crit.Sort = rec.String("label"), parentID, int64(n)+1
		if err := repos.Criteria.Update(ctx, crit.ID, crit); err != nil {
			return dataimport.OutcomeImported, err
		}
		if err := i.resequence(ctx, grid.ID, oldParent); err != nil {
			return dataimport.OutcomeImported, err
		}
	default:
		crit.Label = rec.String("label")
		if err := repos.Criteria.Update(ctx, crit.ID, crit); err != nil {
			return dataimport.OutcomeImported, err
		}
	}

	_, ok, err := repos.CriterionGrids.FindOne(ctx, persistence.Filter{"criterionid": crit.ID, "evalgridid": grid.ID})
	if err != nil || ok {
		return dataimport.OutcomeImported, err
	}
	n, err := repos.CriterionGrids.Count(ctx, persistence.Filter{"evalgridid": grid.ID})
	if err != nil {
		return dataimport.OutcomeImported, err
	}
	_, err = repos.CriterionGrids.Create(ctx, entities.CriterionEvalGrid{
		CriterionID: crit.ID,
		EvalGridID:  grid.ID,
		Sort:        int64(n) + 1,
	})
	return dataimport.OutcomeImported, err
}

// resequence renumbers the siblings under parentID as 1..k keeping their order.
func (i *EvaluationGridImporter) resequence(ctx context.Context, gridID, parentID int64) error {
	siblings, err := i.deps.Repos.Criteria.Find(ctx, persistence.Filter{"evalgridid": gridID, "parentid": parentID})
	if err != nil {
		return err
	}
	sort.SliceStable(siblings, func(a, b int) bool { return siblings[a].Sort < siblings[b].Sort })
	for idx, c := range siblings {
		if c.Sort == int64(idx+1) {
			continue
		}
		c.Sort = int64(idx + 1)
		if err := i.deps.Repos.Criteria.Update(ctx, c.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (i *EvaluationGridImporter) Cleanup(ctx context.Context, historyID int64) error {
	return i.deps.cleanup(ctx, historyID,
		entities.TableCriterionEvalGrid, entities.TableCriterion, entities.TableEvalGrid)
}
