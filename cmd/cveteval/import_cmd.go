package main

import (
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/pkg/dataimport"
)

type sourceFlags struct {
	kind      string
	input     string
	delimiter string
	encoding  string
	sheet     string
}

func (f *sourceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "type", "", "Import kind, instead of the first argument")
	cmd.Flags().StringVar(&f.input, "input", "", "Input file, instead of the second argument")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", "", "CSV delimiter (default depends on the kind)")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "Input encoding (default IMPORT_ENCODING)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Sheet name for .xlsx files (default first sheet)")
}

// target reads the kind and file either from the arguments or from --type and --input.
func (f *sourceFlags) target(args []string) (importers.Kind, string, error) {
	kind, input := f.kind, f.input
	switch len(args) {
	case 2:
		kind, input = args[0], args[1]
	case 1:
		if kind == "" {
			kind = args[0]
		} else {
			input = args[0]
		}
	}
	if kind == "" || input == "" {
		return "", "", withCode(exitUsage, errors.New("need a kind and a file (<kind> <file> or --type and --input)"))
	}
	k, err := importers.ParseKind(kind)
	if err != nil {
		return "", "", withCode(exitUsage, err)
	}
	return k, input, nil
}

func (s *session) processor(kind importers.Kind, path string, historyID int64, f sourceFlags) (*dataimport.Processor, error) {
	delimiter := importers.DefaultDelimiter(kind)
	switch {
	case f.delimiter != "":
		delimiter = []rune(f.delimiter)[0]
	case s.conf.Import.Delimiter != "":
		delimiter = []rune(s.conf.Import.Delimiter)[0]
	}
	encoding := f.encoding
	if encoding == "" {
		encoding = s.conf.Import.Encoding
	}
	src, err := dataimport.OpenSource(path, dataimport.SourceOptions{
		Delimiter: delimiter,
		Encoding:  encoding,
		Sheet:     f.sheet,
	})
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	imp, err := importers.New(kind, s.svc.Deps)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return dataimport.NewProcessor(src, imp,
		dataimport.WithHistory(historyID),
		dataimport.WithTransactor(s.svc.Store),
		dataimport.WithEventBus(s.bus),
		dataimport.WithLogger(s.logger),
		dataimport.WithProgress(dataimport.NewLogProgress(s.logger.WithField("kind", kind), 500)),
		dataimport.WithManifestDir(s.conf.Import.ManifestsDir),
	), nil
}

// resultError classifies a failed run for the exit code.
func resultError(res *dataimport.Result) error {
	if res.OK() {
		return nil
	}
	if dataimport.IsViolation(res.Err) {
		return withCode(exitValidation, res.Err)
	}
	if errors.Is(res.Err, dataimport.ErrFileNotFound) || errors.Is(res.Err, dataimport.ErrUnknownFormat) {
		return withCode(exitUsage, res.Err)
	}
	return withCode(exitDBWrite, res.Err)
}

func newImportCmd(c *cli) *cobra.Command {
	var (
		src     sourceFlags
		history string
		cleanup bool
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "import <kind> <file>",
		Short: "Import one CSV or XLSX file in a single transaction",
		Long:  "Kinds: evaluation_grid, situation, grouping, planning.",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, path, err := src.target(args)
			if err != nil {
				return err
			}
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			historyID, err := s.resolveHistory(history)
			if err != nil {
				return err
			}
			p, err := s.processor(kind, path, historyID, src)
			if err != nil {
				return err
			}
			res := p.Import(s.ctx, dataimport.ImportOptions{Cleanup: cleanup, EchoErrors: !quiet})
			if dataimport.IsViolation(res.Err) {
				_ = writeTable(cmd.ErrOrStderr(), dataimport.ViolationTable(res.Violations))
			}
			if err := writeJSONLine(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return resultError(res)
		},
	}
	src.bind(cmd)
	cmd.Flags().StringVar(&history, "history", "", "Target history id or idnumber (default baseline)")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete what this kind imported under the history first")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Do not log the failure reason")
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	var (
		src     sourceFlags
		history string
	)
	cmd := &cobra.Command{
		Use:   "validate <kind> <file>",
		Short: "Check a file without writing anything",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, path, err := src.target(args)
			if err != nil {
				return err
			}
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			historyID, err := s.resolveHistory(history)
			if err != nil {
				return err
			}
			p, err := s.processor(kind, path, historyID, src)
			if err != nil {
				return err
			}
			report, err := p.Validate(s.ctx)
			if err != nil {
				return withCode(exitUsage, err)
			}
			if !report.OK() {
				_ = writeTable(cmd.ErrOrStderr(), report.Table())
			}
			if err := writeJSONLine(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return withCode(exitValidation, report.Err())
		},
	}
	src.bind(cmd)
	cmd.Flags().StringVar(&history, "history", "", "History id or idnumber used for lookups")
	return cmd
}
