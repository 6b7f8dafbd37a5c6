package persistence

import (
	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
)

var HistoryMapper = Mapper[entities.History]{
	Table: entities.TableHistory,
	To: func(h entities.History) Record {
		rec := Record{"idnumber": h.IDNumber, "comments": h.Comments, "isactive": h.IsActive}
		if !h.TimeCreated.IsZero() {
			rec["timecreated"] = h.TimeCreated
		}
		return rec
	},
	From: func(r Record) entities.History {
		return entities.History{
			ID:           r.ID(),
			IDNumber:     r.String("idnumber"),
			Comments:     r.String("comments"),
			IsActive:     r.Bool("isactive"),
			TimeCreated:  r.Time("timecreated"),
			TimeModified: r.Time("timemodified"),
		}
	},
}

var HistoryModelMapper = Mapper[entities.HistoryModel]{
	Table: entities.TableHistoryModel,
	To: func(m entities.HistoryModel) Record {
		return Record{"tablename": m.TableName, "tableid": m.TableID, "historyid": m.HistoryID}
	},
	From: func(r Record) entities.HistoryModel {
		return entities.HistoryModel{
			ID:        r.ID(),
			TableName: r.String("tablename"),
			TableID:   r.Int("tableid"),
			HistoryID: r.Int("historyid"),
		}
	},
}

var UserMapper = Mapper[entities.User]{
	Table: entities.TableUser,
	To: func(u entities.User) Record {
		return Record{"email": u.Email, "firstname": u.FirstName, "lastname": u.LastName}
	},
	From: func(r Record) entities.User {
		return entities.User{
			ID:        r.ID(),
			Email:     r.String("email"),
			FirstName: r.String("firstname"),
			LastName:  r.String("lastname"),
		}
	},
}

var SituationMapper = Mapper[entities.Situation]{
	Table: entities.TableSituation,
	To: func(s entities.Situation) Record {
		return Record{
			"title":             s.Title,
			"description":       s.Description,
			"descriptionformat": s.DescriptionFormat,
			"idnumber":          s.IDNumber,
			"expectedevalsnb":   s.ExpectedEvalsNb,
			"evalgridid":        s.EvalGridID,
			"historyid":         s.HistoryID,
		}
	},
	From: func(r Record) entities.Situation {
		return entities.Situation{
			ID:                r.ID(),
			Title:             r.String("title"),
			Description:       r.String("description"),
			DescriptionFormat: r.Int("descriptionformat"),
			IDNumber:          r.String("idnumber"),
			ExpectedEvalsNb:   r.Int("expectedevalsnb"),
			EvalGridID:        r.Int("evalgridid"),
			HistoryID:         r.Int("historyid"),
		}
	},
}

var EvalGridMapper = Mapper[entities.EvalGrid]{
	Table: entities.TableEvalGrid,
	To: func(g entities.EvalGrid) Record {
		return Record{"name": g.Name, "idnumber": g.IDNumber, "historyid": g.HistoryID}
	},
	From: func(r Record) entities.EvalGrid {
		return entities.EvalGrid{
			ID:        r.ID(),
			Name:      r.String("name"),
			IDNumber:  r.String("idnumber"),
			HistoryID: r.Int("historyid"),
		}
	},
}

var CriterionMapper = Mapper[entities.Criterion]{
	Table: entities.TableCriterion,
	To: func(c entities.Criterion) Record {
		return Record{
			"label":      c.Label,
			"idnumber":   c.IDNumber,
			"parentid":   c.ParentID,
			"evalgridid": c.EvalGridID,
			"sort":       c.Sort,
			"historyid":  c.HistoryID,
		}
	},
	From: func(r Record) entities.Criterion {
		return entities.Criterion{
			ID:         r.ID(),
			Label:      r.String("label"),
			IDNumber:   r.String("idnumber"),
			ParentID:   r.Int("parentid"),
			EvalGridID: r.Int("evalgridid"),
			Sort:       r.Int("sort"),
			HistoryID:  r.Int("historyid"),
		}
	},
}

var CriterionEvalGridMapper = Mapper[entities.CriterionEvalGrid]{
	Table: entities.TableCriterionEvalGrid,
	To: func(c entities.CriterionEvalGrid) Record {
		return Record{
			"criterionid": c.CriterionID,
			"evalgridid":  c.EvalGridID,
			"sort":        c.Sort,
			"historyid":   c.HistoryID,
		}
	},
	From: func(r Record) entities.CriterionEvalGrid {
		return entities.CriterionEvalGrid{
			ID:          r.ID(),
			CriterionID: r.Int("criterionid"),
			EvalGridID:  r.Int("evalgridid"),
			Sort:        r.Int("sort"),
			HistoryID:   r.Int("historyid"),
		}
	},
}

var GroupMapper = Mapper[entities.Group]{
	Table: entities.TableGroup,
	To: func(g entities.Group) Record {
		return Record{"name": g.Name, "historyid": g.HistoryID}
	},
	From: func(r Record) entities.Group {
		return entities.Group{ID: r.ID(), Name: r.String("name"), HistoryID: r.Int("historyid")}
	},
}

var GroupAssignmentMapper = Mapper[entities.GroupAssignment]{
	Table: entities.TableGroupAssignment,
	To: func(a entities.GroupAssignment) Record {
		return Record{"studentid": a.StudentID, "groupid": a.GroupID, "historyid": a.HistoryID}
	},
	From: func(r Record) entities.GroupAssignment {
		return entities.GroupAssignment{
			ID:        r.ID(),
			StudentID: r.Int("studentid"),
			GroupID:   r.Int("groupid"),
			HistoryID: r.Int("historyid"),
		}
	},
}

var PlanningMapper = Mapper[entities.Planning]{
	Table: entities.TablePlanning,
	To: func(p entities.Planning) Record {
		return Record{
			"groupid":       p.GroupID,
			"clsituationid": p.SituationID,
			"starttime":     p.StartTime,
			"endtime":       p.EndTime,
			"historyid":     p.HistoryID,
		}
	},
	From: func(r Record) entities.Planning {
		return entities.Planning{
			ID:          r.ID(),
			GroupID:     r.Int("groupid"),
			SituationID: r.Int("clsituationid"),
			StartTime:   r.Time("starttime"),
			EndTime:     r.Time("endtime"),
			HistoryID:   r.Int("historyid"),
		}
	},
}

var RoleMapper = Mapper[entities.Role]{
	Table: entities.TableRole,
	To: func(r entities.Role) Record {
		return Record{
			"userid":        r.UserID,
			"clsituationid": r.SituationID,
			"type":          int64(r.Type),
			"historyid":     r.HistoryID,
		}
	},
	From: func(r Record) entities.Role {
		return entities.Role{
			ID:          r.ID(),
			UserID:      r.Int("userid"),
			SituationID: r.Int("clsituationid"),
			Type:        entities.RoleType(r.Int("type")),
			HistoryID:   r.Int("historyid"),
		}
	},
}

var AppraisalMapper = Mapper[entities.Appraisal]{
	Table: entities.TableAppraisal,
	To: func(a entities.Appraisal) Record {
		rec := Record{
			"studentid":     a.StudentID,
			"appraiserid":   a.AppraiserID,
			"evalplanid":    a.PlanningID,
			"context":       a.Context,
			"contextformat": a.ContextFormat,
			"comment":       a.Comment,
			"commentformat": a.CommentFormat,
		}
		if !a.TimeCreated.IsZero() {
			rec["timecreated"] = a.TimeCreated
		}
		return rec
	},
	From: func(r Record) entities.Appraisal {
		return entities.Appraisal{
			ID:            r.ID(),
			StudentID:     r.Int("studentid"),
			AppraiserID:   r.Int("appraiserid"),
			PlanningID:    r.Int("evalplanid"),
			Context:       r.String("context"),
			ContextFormat: r.Int("contextformat"),
			Comment:       r.String("comment"),
			CommentFormat: r.Int("commentformat"),
			TimeCreated:   r.Time("timecreated"),
			TimeModified:  r.Time("timemodified"),
		}
	},
}

var AppraisalCriterionMapper = Mapper[entities.AppraisalCriterion]{
	Table: entities.TableAppraisalCriteria,
	To: func(a entities.AppraisalCriterion) Record {
		rec := Record{
			"appraisalid":   a.AppraisalID,
			"criterionid":   a.CriterionID,
			"grade":         a.Grade,
			"comment":       a.Comment,
			"commentformat": a.CommentFormat,
		}
		if !a.TimeCreated.IsZero() {
			rec["timecreated"] = a.TimeCreated
		}
		return rec
	},
	From: func(r Record) entities.AppraisalCriterion {
		return entities.AppraisalCriterion{
			ID:            r.ID(),
			AppraisalID:   r.Int("appraisalid"),
			CriterionID:   r.Int("criterionid"),
			Grade:         r.Int("grade"),
			Comment:       r.String("comment"),
			CommentFormat: r.Int("commentformat"),
			TimeCreated:   r.Time("timecreated"),
			TimeModified:  r.Time("timemodified"),
		}
	},
}

var FinalEvaluationMapper = Mapper[entities.FinalEvaluation]{
	Table: entities.TableFinalEvaluation,
	To: func(f entities.FinalEvaluation) Record {
		rec := Record{
			"studentid":     f.StudentID,
			"assessorid":    f.AssessorID,
			"evalplanid":    f.PlanningID,
			"grade":         f.Grade,
			"comment":       f.Comment,
			"commentformat": f.CommentFormat,
		}
		if !f.TimeCreated.IsZero() {
			rec["timecreated"] = f.TimeCreated
		}
		return rec
	},
	From: func(r Record) entities.FinalEvaluation {
		return entities.FinalEvaluation{
			ID:            r.ID(),
			StudentID:     r.Int("studentid"),
			AssessorID:    r.Int("assessorid"),
			PlanningID:    r.Int("evalplanid"),
			Grade:         r.Int("grade"),
			Comment:       r.String("comment"),
			CommentFormat: r.Int("commentformat"),
			TimeCreated:   r.Time("timecreated"),
			TimeModified:  r.Time("timemodified"),
		}
	},
}

// Repositories bundles a typed repository per table of the evaluation model.
type Repositories struct {
	Store             Store
	Histories         *Repository[entities.History]
	HistoryModels     *Repository[entities.HistoryModel]
	Users             *Repository[entities.User]
	Situations        *Repository[entities.Situation]
	Grids             *Repository[entities.EvalGrid]
	Criteria          *Repository[entities.Criterion]
	CriterionGrids    *Repository[entities.CriterionEvalGrid]
	Groups            *Repository[entities.Group]
	Assignments       *Repository[entities.GroupAssignment]
	Plannings         *Repository[entities.Planning]
	Roles             *Repository[entities.Role]
	Appraisals        *Repository[entities.Appraisal]
	AppraisalCriteria *Repository[entities.AppraisalCriterion]
	FinalEvaluations  *Repository[entities.FinalEvaluation]
}

func NewRepositories(store Store) *Repositories {
	return &Repositories{
		Store:             store,
		Histories:         NewRepository(store, HistoryMapper),
		HistoryModels:     NewRepository(store, HistoryModelMapper),
		Users:             NewRepository(store, UserMapper),
		Situations:        NewRepository(store, SituationMapper),
		Grids:             NewRepository(store, EvalGridMapper),
		Criteria:          NewRepository(store, CriterionMapper),
		CriterionGrids:    NewRepository(store, CriterionEvalGridMapper),
		Groups:            NewRepository(store, GroupMapper),
		Assignments:       NewRepository(store, GroupAssignmentMapper),
		Plannings:         NewRepository(store, PlanningMapper),
		Roles:             NewRepository(store, RoleMapper),
		Appraisals:        NewRepository(store, AppraisalMapper),
		AppraisalCriteria: NewRepository(store, AppraisalCriterionMapper),
		FinalEvaluations:  NewRepository(store, FinalEvaluationMapper),
	}
}
