package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/history"
)

func newRepos() *persistence.Repositories {
	return persistence.NewRepositories(persistence.NewMemoryStore())
}

func TestHistoryService_CreateAndCleanup(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()
	bus := eventbus.NewEventPublisher(nil)
	rec := &eventbus.Recorder{}
	bus.Subscribe(eventbus.Wildcard, rec.Handle)
	svc := NewHistoryService(repos, bus)

	h, err := svc.Create(ctx, "2024-S1", "first import")
	require.NoError(t, err)
	require.True(t, h.IsActive)

	_, err = svc.Create(ctx, "2024-S1", "")
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, CodeHistoryExists, serr.Code)

	scoped := history.WithScope(ctx, history.Current(h.ID, false))
	_, err = repos.Groups.Create(scoped, entities.Group{Name: "A"})
	require.NoError(t, err)
	_, err = repos.Situations.Create(scoped, entities.Situation{IDNumber: "TMG"})
	require.NoError(t, err)
	_, err = repos.Situations.Create(ctx, entities.Situation{IDNumber: "BASE"})
	require.NoError(t, err)

	n, err := svc.Cleanup(ctx, h.ID, entities.TableGroup)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = svc.Cleanup(ctx, h.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	left, err := repos.Situations.Find(history.WithScope(ctx, history.Disabled()), persistence.Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1, "baseline rows are never cleaned")

	require.Len(t, rec.Events(events.NameHistoryCleaned), 2)
	require.Len(t, rec.Events(events.NameHistoryCreated), 1)
}

func TestHistoryService_DeleteAndSetActive(t *testing.T) {
	ctx := context.Background()
	repos := newRepos()
	svc := NewHistoryService(repos, nil)
	svc.now = func() time.Time { return time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC) }

	h, err := svc.Create(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, "import-20240901T100000.000", h.IDNumber)

	require.NoError(t, svc.SetActive(ctx, h.ID, false))
	got, err := svc.Get(ctx, h.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	require.NoError(t, svc.Delete(ctx, h.ID))
	_, err = svc.Get(ctx, h.ID)
	var serr *ServiceError
	require.True(t, errors.As(err, &serr))
	require.Equal(t, CodeHistoryNotFound, serr.Code)
}

func TestUserService(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newRepos())

	u, err := svc.Ensure(ctx, " Etu1@Example.com ", "Etu", "Un")
	require.NoError(t, err)
	again, err := svc.Ensure(ctx, "etu1@example.com", "", "")
	require.NoError(t, err)
	require.Equal(t, u.ID, again.ID)

	found, ok, err := svc.FindByEmail(ctx, "ETU1@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Etu", found.FirstName)

	_, ok, err = svc.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGuard(t *testing.T) {
	ctx := history.WithScope(context.Background(), history.Current(1, false))
	repos := newRepos()
	guard := NewGuard(repos)

	sit, err := repos.Situations.Create(ctx, entities.Situation{IDNumber: "TMG"})
	require.NoError(t, err)
	grp, err := repos.Groups.Create(ctx, entities.Group{Name: "A"})
	require.NoError(t, err)
	other, err := repos.Groups.Create(ctx, entities.Group{Name: "B"})
	require.NoError(t, err)
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	plan, err := repos.Plannings.Create(ctx, entities.Planning{
		GroupID: grp.ID, SituationID: sit.ID, StartTime: start, EndTime: start.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	role, err := repos.Roles.Create(ctx, entities.Role{UserID: 42, SituationID: sit.ID, Type: entities.RoleAppraiser})
	require.NoError(t, err)

	ok, err := guard.CanDelete(ctx, entities.TablePlanning, plan.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repos.Appraisals.Create(ctx, entities.Appraisal{StudentID: 7, AppraiserID: 42, PlanningID: plan.ID})
	require.NoError(t, err)

	for _, tc := range []struct {
		table string
		id    int64
		want  bool
	}{
		{entities.TablePlanning, plan.ID, false},
		{entities.TableSituation, sit.ID, false},
		{entities.TableGroup, grp.ID, false},
		{entities.TableGroup, other.ID, true},
		{entities.TableRole, role.ID, false},
	} {
		ok, err := guard.CanEdit(ctx, tc.table, tc.id)
		require.NoError(t, err)
		require.Equal(t, tc.want, ok, "%s %d", tc.table, tc.id)
	}

	err = guard.Check(ctx, entities.TableSituation, sit.ID)
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, CodeEntityInUse, serr.Code)

	_, err = guard.CanDelete(ctx, entities.TableHistory, 1)
	require.ErrorAs(t, err, &serr)
}
