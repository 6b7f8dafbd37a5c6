package main

import (
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/pkg/dataimport"
)

type importAllOutput struct {
	HistoryID int64                `json:"history_id"`
	History   string               `json:"history"`
	Runs      []*dataimport.Result `json:"runs"`
}

func newImportAllCmd(c *cli) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "import-all",
		Short: "Import every file of a plan into one history, in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlan(planPath)
			if err != nil {
				return withCode(exitUsage, err)
			}
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			h, err := s.planHistory(plan)
			if err != nil {
				return err
			}
			out := importAllOutput{HistoryID: h.ID, History: h.IDNumber}
			var runErr error
			for _, kind := range plan.Kinds() {
				p, err := s.processor(kind, plan.File(kind), h.ID, sourceFlags{
					delimiter: plan.Delimiter,
					encoding:  plan.Encoding,
				})
				if err != nil {
					return err
				}
				res := p.Import(s.ctx, dataimport.ImportOptions{Cleanup: plan.Cleanup, EchoErrors: true})
				out.Runs = append(out.Runs, res)
				if runErr = resultError(res); runErr != nil {
					s.logger.WithFields(logrus.Fields{"kind": kind, "history": h.IDNumber}).
						Error("import-all stopped")
					if dataimport.IsViolation(res.Err) {
						_ = writeTable(cmd.ErrOrStderr(), dataimport.ViolationTable(res.Violations))
					}
					break
				}
			}
			if err := writeJSONLine(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "YAML plan file (required)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

// planHistory creates the plan's history, or reuses it when the plan says so.
func (s *session) planHistory(plan *importPlan) (entities.History, error) {
	if plan.Reuse && plan.History != "" {
		h, err := s.svc.Histories.GetByIDNumber(s.ctx, plan.History)
		if err == nil {
			return h, nil
		}
	}
	h, err := s.svc.Histories.Create(s.ctx, plan.History, plan.Comments)
	if err != nil {
		return h, withCode(serviceExit(err, exitDBWrite), errors.Wrap(err, "create history"))
	}
	return h, nil
}
