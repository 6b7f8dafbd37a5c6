package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/eventbus"
)

type HistoryService struct {
	repos     *persistence.Repositories
	publisher eventbus.EventBus
	now       func() time.Time
}

func NewHistoryService(repos *persistence.Repositories, publisher eventbus.EventBus) *HistoryService {
	return &HistoryService{repos: repos, publisher: publisher, now: time.Now}
}

// Create starts a new import generation. An empty idnumber gets a time based one.
func (s *HistoryService) Create(ctx context.Context, idnumber, comments string) (entities.History, error) {
	idnumber = strings.TrimSpace(idnumber)
	if idnumber == "" {
		idnumber = "import-" + s.now().UTC().Format("20060102T150405.000")
	}
	if _, ok, err := s.repos.Histories.FindOne(ctx, persistence.Filter{"idnumber": idnumber}); err != nil {
		return entities.History{}, err
	} else if ok {
		return entities.History{}, NewServiceError(CodeHistoryExists, fmt.Sprintf("history %q already exists", idnumber), nil)
	}
	h, err := s.repos.Histories.Create(ctx, entities.History{IDNumber: idnumber, Comments: comments, IsActive: true})
	if err != nil {
		return entities.History{}, errors.Wrap(err, "create history")
	}
	s.publish(ctx, events.HistoryCreated{History: h})
	return h, nil
}

func (s *HistoryService) List(ctx context.Context) ([]entities.History, error) {
	return s.repos.Histories.Find(ctx, persistence.Filter{})
}

func (s *HistoryService) Get(ctx context.Context, id int64) (entities.History, error) {
	h, err := s.repos.Histories.Get(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return h, NewServiceError(CodeHistoryNotFound, fmt.Sprintf("history %d not found", id), err)
	}
	return h, err
}

func (s *HistoryService) GetByIDNumber(ctx context.Context, idnumber string) (entities.History, error) {
	h, ok, err := s.repos.Histories.FindOne(ctx, persistence.Filter{"idnumber": strings.TrimSpace(idnumber)})
	if err != nil {
		return h, err
	}
	if !ok {
		return h, NewServiceError(CodeHistoryNotFound, fmt.Sprintf("history %q not found", idnumber), nil)
	}
	return h, nil
}

func (s *HistoryService) SetActive(ctx context.Context, id int64, active bool) error {
	h, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	h.IsActive = active
	return s.repos.Histories.Update(ctx, id, h)
}

// Cleanup deletes every row tagged with the history, optionally only in tables.
// It returns the number of deleted rows.
func (s *HistoryService) Cleanup(ctx context.Context, id int64, tables ...string) (int, error) {
	filter := persistence.Filter{"historyid": id}
	if len(tables) > 0 {
		filter["tablename"] = tables
	}
	deleted := 0
	err := s.repos.Store.InTx(ctx, func(ctx context.Context) error {
		models, err := s.repos.HistoryModels.Find(ctx, filter)
		if err != nil {
			return err
		}
		for _, m := range models {
			err := s.repos.Store.Delete(ctx, m.TableName, m.TableID)
			switch {
			case err == nil:
				deleted++
			case errors.Is(err, persistence.ErrNotFound):
				// Stale index row.
				if err := s.repos.HistoryModels.Delete(ctx, m.ID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
					return err
				}
			default:
				return errors.Wrapf(err, "delete %s %d", m.TableName, m.TableID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	composables.UseLogger(ctx).WithField("history_id", id).WithField("rows", deleted).Info("history cleaned up")
	cleaned := slices.Clone(tables)
	s.publish(ctx, events.HistoryCleaned{HistoryID: id, Tables: cleaned, Rows: deleted})
	return deleted, nil
}

// Delete removes the history and every row it produced.
func (s *HistoryService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repos.Store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.Cleanup(ctx, id); err != nil {
			return err
		}
		return s.repos.Histories.Delete(ctx, id)
	})
}

func (s *HistoryService) publish(ctx context.Context, e eventbus.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, e)
	}
}
