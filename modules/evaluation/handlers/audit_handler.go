// Package handlers turns domain events into audit log lines.
package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/events"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/eventbus"
)

type AuditHandler struct {
	logger *logrus.Entry
}

func NewAuditHandler(logger *logrus.Logger) *AuditHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuditHandler{logger: logger.WithField("component", "audit")}
}

// RegisterEventHandlers subscribes the audit handler to every evaluation event.
func RegisterEventHandlers(bus eventbus.EventBus, logger *logrus.Logger) *AuditHandler {
	h := NewAuditHandler(logger)
	bus.Subscribe(dataimport.EventImported, h.onImported)
	bus.Subscribe(events.NameRoleImportationFailed, h.onRoleImportationFailed)
	bus.Subscribe(events.NameGroupingRowSkipped, h.onGroupingRowSkipped)
	bus.Subscribe(events.NameHistoryCreated, h.onHistoryCreated)
	bus.Subscribe(events.NameHistoryCleaned, h.onHistoryCleaned)
	bus.Subscribe(events.NameUserDataMigrated, h.onUserDataMigrated)
	return h
}

func (h *AuditHandler) onImported(_ context.Context, e eventbus.Event) error {
	ev, ok := e.(dataimport.Imported)
	if !ok {
		return nil
	}
	entry := h.logger.WithFields(logrus.Fields{
		"run_id":   ev.RunID,
		"kind":     ev.Kind,
		"filename": ev.Filename,
		"history":  ev.HistoryID,
	})
	if ev.Error != "" {
		entry.WithField("error", ev.Error).Warn("import failed")
		return nil
	}
	entry.Info("import done")
	return nil
}

func (h *AuditHandler) onRoleImportationFailed(_ context.Context, e eventbus.Event) error {
	ev, ok := e.(events.RoleImportationFailed)
	if !ok {
		return nil
	}
	h.logger.WithFields(logrus.Fields{
		"email":     ev.Email,
		"situation": ev.SituationIDNumber,
		"role":      ev.Type,
		"line":      ev.Line,
	}).Warn("role not imported: unknown user")
	return nil
}

func (h *AuditHandler) onGroupingRowSkipped(_ context.Context, e eventbus.Event) error {
	ev, ok := e.(events.GroupingRowSkipped)
	if !ok {
		return nil
	}
	h.logger.WithFields(logrus.Fields{"email": ev.Email, "line": ev.Line}).Info("grouping row skipped")
	return nil
}

func (h *AuditHandler) onHistoryCreated(_ context.Context, e eventbus.Event) error {
	if ev, ok := e.(events.HistoryCreated); ok {
		h.logger.WithFields(logrus.Fields{"history": ev.History.ID, "idnumber": ev.History.IDNumber}).Info("history created")
	}
	return nil
}

func (h *AuditHandler) onHistoryCleaned(_ context.Context, e eventbus.Event) error {
	if ev, ok := e.(events.HistoryCleaned); ok {
		h.logger.WithFields(logrus.Fields{
			"history": ev.HistoryID,
			"tables":  ev.Tables,
			"rows":    ev.Rows,
		}).Info("history cleaned")
	}
	return nil
}

func (h *AuditHandler) onUserDataMigrated(_ context.Context, e eventbus.Event) error {
	if ev, ok := e.(events.UserDataMigrated); ok {
		h.logger.WithFields(logrus.Fields{
			"origin":      ev.OriginID,
			"destination": ev.DestinationID,
			"cloned":      ev.Cloned,
		}).Info("user data migrated")
	}
	return nil
}
