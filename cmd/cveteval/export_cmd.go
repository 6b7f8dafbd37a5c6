package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules/evaluation/export"
	"github.com/iota-uz/cveteval/modules/evaluation/importers"
)

func newExportCmd(c *cli) *cobra.Command {
	var (
		history string
		format  string
		output  string
		kinds   []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a history back to the import formats",
		Long:  "csv writes one <kind>.csv per kind into --output (a directory); xlsx writes one workbook with a sheet per kind.",
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "csv" && format != "xlsx" {
				return withCode(exitUsage, errors.Errorf("invalid --format %q (expected csv or xlsx)", format))
			}
			var selected []importers.Kind
			for _, raw := range kinds {
				kind, err := importers.ParseKind(raw)
				if err != nil {
					return withCode(exitUsage, err)
				}
				selected = append(selected, kind)
			}

			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id, err := s.resolveHistory(history)
			if err != nil {
				return err
			}
			tables, err := s.svc.Exporter.Export(s.ctx, id, selected...)
			if err != nil {
				return withCode(exitDB, err)
			}

			var written []string
			switch format {
			case "csv":
				if written, err = export.WriteCSVDir(output, tables); err != nil {
					return withCode(exitUsage, err)
				}
			case "xlsx":
				if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
					return withCode(exitUsage, err)
				}
				f, err := os.Create(output)
				if err != nil {
					return withCode(exitUsage, err)
				}
				err = export.WriteXLSX(f, tables)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return withCode(exitUsage, err)
				}
				written = []string{output}
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"history": id, "files": written})
		},
	}
	cmd.Flags().StringVar(&history, "history", "", "History id or idnumber (default baseline)")
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (csv) or file (xlsx) (required)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Restrict to these kinds (repeatable)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
