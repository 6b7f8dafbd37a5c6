package entities

// Table names of the evaluation model. Stores may prefix them physically.
const (
	TableHistory           = "history"
	TableHistoryModel      = "history_mdl"
	TableUser              = "user"
	TableSituation         = "situation"
	TableEvalGrid          = "evalgrid"
	TableCriterion         = "criterion"
	TableCriterionEvalGrid = "criterion_evalgrid"
	TableGroup             = "group"
	TableGroupAssignment   = "group_assign"
	TablePlanning          = "evalplan"
	TableRole              = "role"
	TableAppraisal         = "appraisal"
	TableAppraisalCriteria = "appr_crit"
	TableFinalEvaluation   = "finalevl"
)

type TableInfo struct {
	Name string
	// HistoryScoped tables carry a historyid column honoured by reads.
	HistoryScoped bool
	Columns       []string
}

// Tables lists every table with its columns, id excluded.
var Tables = map[string]TableInfo{
	TableHistory: {
		Name:    TableHistory,
		Columns: []string{"idnumber", "comments", "isactive", "timecreated", "timemodified"},
	},
	TableHistoryModel: {
		Name:    TableHistoryModel,
		Columns: []string{"tablename", "tableid", "historyid"},
	},
	TableUser: {
		Name:    TableUser,
		Columns: []string{"email", "firstname", "lastname"},
	},
	TableSituation: {
		Name:          TableSituation,
		HistoryScoped: true,
		Columns: []string{
			"title", "description", "descriptionformat", "idnumber", "expectedevalsnb", "evalgridid",
			"historyid", "timecreated", "timemodified",
		},
	},
	TableEvalGrid: {
		Name:          TableEvalGrid,
		HistoryScoped: true,
		Columns:       []string{"name", "idnumber", "historyid", "timecreated", "timemodified"},
	},
	TableCriterion: {
		Name:          TableCriterion,
		HistoryScoped: true,
		Columns: []string{
			"label", "idnumber", "parentid", "evalgridid", "sort", "historyid", "timecreated", "timemodified",
		},
	},
	TableCriterionEvalGrid: {
		Name:          TableCriterionEvalGrid,
		HistoryScoped: true,
		Columns:       []string{"criterionid", "evalgridid", "sort", "historyid", "timecreated", "timemodified"},
	},
	TableGroup: {
		Name:          TableGroup,
		HistoryScoped: true,
		Columns:       []string{"name", "historyid", "timecreated", "timemodified"},
	},
	TableGroupAssignment: {
		Name:          TableGroupAssignment,
		HistoryScoped: true,
		Columns:       []string{"studentid", "groupid", "historyid", "timecreated", "timemodified"},
	},
	TablePlanning: {
		Name:          TablePlanning,
		HistoryScoped: true,
		Columns: []string{
			"groupid", "clsituationid", "starttime", "endtime", "historyid", "timecreated", "timemodified",
		},
	},
	TableRole: {
		Name:          TableRole,
		HistoryScoped: true,
		Columns:       []string{"userid", "clsituationid", "type", "historyid", "timecreated", "timemodified"},
	},
	TableAppraisal: {
		Name: TableAppraisal,
		Columns: []string{
			"studentid", "appraiserid", "evalplanid", "context", "contextformat", "comment", "commentformat",
			"timecreated", "timemodified",
		},
	},
	TableAppraisalCriteria: {
		Name: TableAppraisalCriteria,
		Columns: []string{
			"appraisalid", "criterionid", "grade", "comment", "commentformat", "timecreated", "timemodified",
		},
	},
	TableFinalEvaluation: {
		Name: TableFinalEvaluation,
		Columns: []string{
			"studentid", "assessorid", "evalplanid", "grade", "comment", "commentformat",
			"timecreated", "timemodified",
		},
	},
}

// HasTimestamps reports whether table maintains timecreated/timemodified.
func (t TableInfo) HasTimestamps() bool {
	for _, c := range t.Columns {
		if c == "timemodified" {
			return true
		}
	}
	return false
}
