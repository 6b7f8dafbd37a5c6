// Package migration carries user data (appraisals, grades) from one import generation to the next.
package migration

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/history"
	"github.com/iota-uz/cveteval/pkg/metrics"
)

// Mapping gives, per entity, the destination id of each origin id. A
// destination of 0 means the origin entity is not carried over. In JSON the
// origin ids are object keys: {"evalplan": {"12": 40, "13": 0}}.
type Mapping map[string]map[int64]int64

// MappingFromMatches inverts the matcher output and adds orphans with no destination.
func MappingFromMatches(matched map[string]map[int64]int64, orphaned map[string][]int64) Mapping {
	out := Mapping{}
	for entity, pairs := range matched {
		m := make(map[int64]int64, len(pairs))
		for dest, origin := range pairs {
			m[origin] = dest
		}
		out[entity] = m
	}
	for entity, ids := range orphaned {
		if out[entity] == nil {
			out[entity] = map[int64]int64{}
		}
		for _, id := range ids {
			out[entity][id] = 0
		}
	}
	return out
}

// Target returns the destination of origin and whether the entity is mapped at all.
func (m Mapping) Target(entity string, origin int64) (int64, bool) {
	dest, ok := m[entity][origin]
	return dest, ok
}

type Report struct {
	OriginID      int64          `json:"origin_id"`
	DestinationID int64          `json:"destination_id"`
	Cloned        map[string]int `json:"cloned"`
	Skipped       map[string]int `json:"skipped"`
}

type Migrator struct {
	repos  *persistence.Repositories
	bus    eventbus.EventBus
	tracer trace.Tracer
}

func NewMigrator(repos *persistence.Repositories, bus eventbus.EventBus) *Migrator {
	return &Migrator{repos: repos, bus: bus, tracer: otel.Tracer("cveteval/migration")}
}

// Migrate clones the appraisals, their criteria and the final evaluations of
// every mapped origin planning onto its destination. Originals are kept and
// running twice clones twice.
func (m *Migrator) Migrate(ctx context.Context, originID, destinationID int64, mapping Mapping) (*Report, error) {
	ctx, span := m.tracer.Start(ctx, "migration.Migrate", trace.WithAttributes(
		attribute.Int64("migration.origin_id", originID),
		attribute.Int64("migration.destination_id", destinationID),
	))
	defer span.End()

	report := &Report{
		OriginID:      originID,
		DestinationID: destinationID,
		Cloned:        map[string]int{},
		Skipped:       map[string]int{},
	}
	// Cloned rows are keyed to plannings of another generation.
	ctx = history.WithScope(ctx, history.Disabled())
	err := m.repos.Store.InTx(ctx, func(ctx context.Context) error {
		for origin, dest := range mapping[entities.TablePlanning] {
			if dest == 0 {
				report.Skipped[entities.TablePlanning]++
				continue
			}
			if err := m.clonePlanning(ctx, origin, dest, mapping, report); err != nil {
				return errors.Wrapf(err, "planning %d", origin)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for table, n := range report.Cloned {
		metrics.ObserveClonedRows(table, n)
	}
	composables.UseLogger(ctx).WithFields(logrus.Fields{
		"origin_id":      originID,
		"destination_id": destinationID,
		"cloned":         report.Cloned,
	}).Info("user data migrated")
	if m.bus != nil {
		m.bus.Publish(ctx, events.UserDataMigrated{
			OriginID:      originID,
			DestinationID: destinationID,
			Cloned:        report.Cloned,
		})
	}
	return report, nil
}

func (m *Migrator) clonePlanning(ctx context.Context, origin, dest int64, mapping Mapping, report *Report) error {
	appraisals, err := m.repos.Appraisals.Find(ctx, persistence.Filter{"evalplanid": origin})
	if err != nil {
		return err
	}
	for _, a := range appraisals {
		oldID := a.ID
		a.ID, a.PlanningID = 0, dest
		clone, err := m.repos.Appraisals.Create(ctx, a)
		if err != nil {
			return err
		}
		report.Cloned[entities.TableAppraisal]++

		crits, err := m.repos.AppraisalCriteria.Find(ctx, persistence.Filter{"appraisalid": oldID})
		if err != nil {
			return err
		}
		for _, c := range crits {
			// Criteria absent from the mapping are shared by both generations.
			if target, ok := mapping.Target(entities.TableCriterion, c.CriterionID); ok {
				if target == 0 {
					report.Skipped[entities.TableAppraisalCriteria]++
					continue
				}
				c.CriterionID = target
			}
			c.ID, c.AppraisalID = 0, clone.ID
			if _, err := m.repos.AppraisalCriteria.Create(ctx, c); err != nil {
				return err
			}
			report.Cloned[entities.TableAppraisalCriteria]++
		}
	}

	finals, err := m.repos.FinalEvaluations.Find(ctx, persistence.Filter{"evalplanid": origin})
	if err != nil {
		return err
	}
	for _, f := range finals {
		f.ID, f.PlanningID = 0, dest
		if _, err := m.repos.FinalEvaluations.Create(ctx, f); err != nil {
			return err
		}
		report.Cloned[entities.TableFinalEvaluation]++
	}
	return nil
}
