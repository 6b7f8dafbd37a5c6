package events

import (
	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
)

const (
	NameRoleImportationFailed = "evaluation.role_importation_failed"
	NameGroupingRowSkipped    = "evaluation.grouping_row_skipped"
	NameHistoryCreated        = "evaluation.history_created"
	NameHistoryCleaned        = "evaluation.history_cleaned"
	NameUserDataMigrated      = "evaluation.user_data_migrated"
)

// RoleImportationFailed is raised when a situation names an unknown user.
type RoleImportationFailed struct {
	Email             string
	SituationIDNumber string
	Type              entities.RoleType
	Line              int
}

func (RoleImportationFailed) EventName() string { return NameRoleImportationFailed }

type GroupingRowSkipped struct {
	Email string
	Line  int
}

func (GroupingRowSkipped) EventName() string { return NameGroupingRowSkipped }

type HistoryCreated struct {
	History entities.History
}

func (HistoryCreated) EventName() string { return NameHistoryCreated }

type HistoryCleaned struct {
	HistoryID int64
	Tables    []string
	Rows      int
}

func (HistoryCleaned) EventName() string { return NameHistoryCleaned }

type UserDataMigrated struct {
	OriginID      int64
	DestinationID int64
	Cloned        map[string]int
}

func (UserDataMigrated) EventName() string { return NameUserDataMigrated }
