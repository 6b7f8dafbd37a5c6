package services

import (
	"context"
	"fmt"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/history"
)

// Guard refuses changes to model entities that user data already points at.
type Guard struct {
	repos *persistence.Repositories
}

func NewGuard(repos *persistence.Repositories) *Guard {
	return &Guard{repos: repos}
}

func (g *Guard) CanDelete(ctx context.Context, table string, id int64) (bool, error) {
	used, err := g.inUse(ctx, table, id)
	return !used, err
}

func (g *Guard) CanEdit(ctx context.Context, table string, id int64) (bool, error) {
	return g.CanDelete(ctx, table, id)
}

// Check returns an ENTITY_IN_USE error when the entity is referenced.
func (g *Guard) Check(ctx context.Context, table string, id int64) error {
	used, err := g.inUse(ctx, table, id)
	if err != nil {
		return err
	}
	if used {
		return NewServiceError(CodeEntityInUse, fmt.Sprintf("%s %d is referenced by evaluations", table, id), nil)
	}
	return nil
}

func (g *Guard) inUse(ctx context.Context, table string, id int64) (bool, error) {
	ctx = history.WithScope(ctx, history.Disabled())
	switch table {
	case entities.TablePlanning:
		return g.planningsUsed(ctx, []int64{id})
	case entities.TableSituation:
		return g.plannedWith(ctx, persistence.Filter{"clsituationid": id})
	case entities.TableGroup:
		return g.plannedWith(ctx, persistence.Filter{"groupid": id})
	case entities.TableCriterion:
		n, err := g.repos.AppraisalCriteria.Count(ctx, persistence.Filter{"criterionid": id})
		return n > 0, err
	case entities.TableRole:
		return g.roleUsed(ctx, id)
	default:
		return false, NewServiceError(CodeUnknownEntity, fmt.Sprintf("no guard rule for %s", table), nil)
	}
}

func (g *Guard) plannedWith(ctx context.Context, filter persistence.Filter) (bool, error) {
	plannings, err := g.repos.Plannings.Find(ctx, filter)
	if err != nil || len(plannings) == 0 {
		return false, err
	}
	ids := make([]int64, len(plannings))
	for i, p := range plannings {
		ids[i] = p.ID
	}
	return g.planningsUsed(ctx, ids)
}

func (g *Guard) planningsUsed(ctx context.Context, ids []int64) (bool, error) {
	n, err := g.repos.Appraisals.Count(ctx, persistence.Filter{"evalplanid": ids})
	if err != nil || n > 0 {
		return n > 0, err
	}
	n, err = g.repos.FinalEvaluations.Count(ctx, persistence.Filter{"evalplanid": ids})
	return n > 0, err
}

func (g *Guard) roleUsed(ctx context.Context, id int64) (bool, error) {
	role, err := g.repos.Roles.Get(ctx, id)
	if err != nil {
		return false, err
	}
	plannings, err := g.repos.Plannings.Find(ctx, persistence.Filter{"clsituationid": role.SituationID})
	if err != nil || len(plannings) == 0 {
		return false, err
	}
	ids := make([]int64, len(plannings))
	for i, p := range plannings {
		ids[i] = p.ID
	}
	var n int
	switch role.Type {
	case entities.RoleAppraiser:
		n, err = g.repos.Appraisals.Count(ctx, persistence.Filter{"evalplanid": ids, "appraiserid": role.UserID})
	case entities.RoleAssessor:
		n, err = g.repos.FinalEvaluations.Count(ctx, persistence.Filter{"evalplanid": ids, "assessorid": role.UserID})
	default:
		n, err = g.repos.Appraisals.Count(ctx, persistence.Filter{"evalplanid": ids, "studentid": role.UserID})
	}
	return n > 0, err
}
