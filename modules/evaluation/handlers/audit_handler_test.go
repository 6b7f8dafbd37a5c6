package handlers

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/eventbus"
)

func TestAuditHandler_LogsEvents(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bus := eventbus.NewEventPublisher(logger)
	RegisterEventHandlers(bus, logger)
	ctx := context.Background()

	bus.Publish(ctx, events.RoleImportationFailed{
		Email:             "ghost@example.com",
		SituationIDNumber: "TMG",
		Type:              entities.RoleAssessor,
		Line:              2,
	})
	last := hook.LastEntry()
	require.NotNil(t, last)
	require.Equal(t, logrus.WarnLevel, last.Level)
	require.Equal(t, "ghost@example.com", last.Data["email"])
	require.Equal(t, "audit", last.Data["component"])

	bus.Publish(ctx, dataimport.Imported{Kind: "planning", Filename: "planning.csv", Error: "line 3: overlap"})
	require.Equal(t, "import failed", hook.LastEntry().Message)

	bus.Publish(ctx, events.HistoryCleaned{HistoryID: 4, Tables: []string{"evalplan"}, Rows: 12})
	require.Equal(t, "history cleaned", hook.LastEntry().Message)
	require.Equal(t, 12, hook.LastEntry().Data["rows"])
}

func TestAuditHandler_IgnoresForeignPayloads(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := NewAuditHandler(logger)
	require.NoError(t, h.onImported(context.Background(), events.HistoryCreated{}))
	require.Empty(t, hook.AllEntries())
}
