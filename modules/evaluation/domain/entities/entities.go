package entities

import (
	"strings"
	"time"
)

type RoleType int

const (
	RoleStudent   RoleType = 0
	RoleAppraiser RoleType = 1
	RoleAssessor  RoleType = 2
)

func (r RoleType) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleAppraiser:
		return "appraiser"
	case RoleAssessor:
		return "assessor"
	default:
		return "unknown"
	}
}

// DefaultGridIDNumber names the grid situations fall back to when none is given.
const DefaultGridIDNumber = "DEFAULTGRID"

// NormalizeIDNumber is the case normalisation of business keys.
func NormalizeIDNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

type History struct {
	ID           int64
	IDNumber     string
	Comments     string
	IsActive     bool
	TimeCreated  time.Time
	TimeModified time.Time
}

type HistoryModel struct {
	ID        int64
	TableName string
	TableID   int64
	HistoryID int64
}

type User struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
}

type Situation struct {
	ID                int64
	Title             string
	Description       string
	DescriptionFormat int64
	IDNumber          string
	ExpectedEvalsNb   int64
	EvalGridID        int64
	HistoryID         int64
}

type EvalGrid struct {
	ID        int64
	Name      string
	IDNumber  string
	HistoryID int64
}

type Criterion struct {
	ID         int64
	Label      string
	IDNumber   string
	ParentID   int64
	EvalGridID int64
	Sort       int64
	HistoryID  int64
}

type CriterionEvalGrid struct {
	ID          int64
	CriterionID int64
	EvalGridID  int64
	Sort        int64
	HistoryID   int64
}

type Group struct {
	ID        int64
	Name      string
	HistoryID int64
}

type GroupAssignment struct {
	ID        int64
	StudentID int64
	GroupID   int64
	HistoryID int64
}

type Planning struct {
	ID          int64
	GroupID     int64
	SituationID int64
	StartTime   time.Time
	EndTime     time.Time
	HistoryID   int64
}

// Overlaps reports whether the two slots share any instant.
func (p Planning) Overlaps(other Planning) bool {
	return p.StartTime.Before(other.EndTime) && other.StartTime.Before(p.EndTime)
}

type Role struct {
	ID          int64
	UserID      int64
	SituationID int64
	Type        RoleType
	HistoryID   int64
}

type Appraisal struct {
	ID            int64
	StudentID     int64
	AppraiserID   int64
	PlanningID    int64
	Context       string
	ContextFormat int64
	Comment       string
	CommentFormat int64
	TimeCreated   time.Time
	TimeModified  time.Time
}

type AppraisalCriterion struct {
	ID            int64
	AppraisalID   int64
	CriterionID   int64
	Grade         int64
	Comment       string
	CommentFormat int64
	TimeCreated   time.Time
	TimeModified  time.Time
}

type FinalEvaluation struct {
	ID            int64
	StudentID     int64
	AssessorID    int64
	PlanningID    int64
	Grade         int64
	Comment       string
	CommentFormat int64
	TimeCreated   time.Time
	TimeModified  time.Time
}
