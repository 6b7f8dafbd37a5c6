package dataimport

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/history"
	"github.com/iota-uz/cveteval/pkg/metrics"
)

const EventImported = "dataimport.imported"

// Imported is published once per import run, whatever its outcome.
type Imported struct {
	RunID     uuid.UUID
	Kind      string
	Filename  string
	HistoryID int64
	// Error is empty on success.
	Error string
}

func (Imported) EventName() string { return EventImported }

type ImportOptions struct {
	// Cleanup removes what the importer wrote under the same history before importing.
	Cleanup bool
	// EchoErrors logs the failure on the processor logger.
	EchoErrors bool
}

type Result struct {
	RunID      uuid.UUID     `json:"run_id"`
	Kind       string        `json:"kind"`
	Filename   string        `json:"filename"`
	HistoryID  int64         `json:"history_id"`
	Total      int           `json:"total"`
	Imported   int           `json:"imported"`
	Skipped    int           `json:"skipped"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Violations []Violation   `json:"violations,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// OK is true only when every row was imported or deliberately skipped.
func (r *Result) OK() bool {
	return r.Err == nil
}

type Processor struct {
	source    Source
	importer  Importer
	historyID int64
	progress  Progress
	bus       eventbus.EventBus
	logger    *logrus.Logger
	tx        Transactor
	tracer    trace.Tracer
	validator *Validator
	manifests string
}

type Option func(*Processor)

func WithHistory(id int64) Option {
	return func(p *Processor) { p.historyID = id }
}

func WithProgress(progress Progress) Option {
	return func(p *Processor) {
		if progress != nil {
			p.progress = progress
		}
	}
}

func WithEventBus(bus eventbus.EventBus) Option {
	return func(p *Processor) { p.bus = bus }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

func WithTransactor(tx Transactor) Option {
	return func(p *Processor) {
		if tx != nil {
			p.tx = tx
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) { p.tracer = tracer }
}

// WithManifestDir writes a JSON manifest of every run into dir.
func WithManifestDir(dir string) Option {
	return func(p *Processor) { p.manifests = dir }
}

func NewProcessor(source Source, importer Importer, opts ...Option) *Processor {
	p := &Processor{
		source:    source,
		importer:  importer,
		progress:  nopProgress{},
		logger:    logrus.StandardLogger(),
		tx:        noTx,
		tracer:    otel.Tracer("cveteval/dataimport"),
		validator: NewValidator(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) entry(runID uuid.UUID) *logrus.Entry {
	return p.logger.WithFields(logrus.Fields{
		"importer":   p.importer.Kind(),
		"filename":   p.source.Name(),
		"history_id": p.historyID,
		"run_id":     runID.String(),
	})
}

// Validate transforms and checks every row without writing and returns all violations.
// The returned error is reserved for failures that are not violations.
func (p *Processor) Validate(ctx context.Context) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "dataimport.Validate", trace.WithAttributes(
		attribute.String("import.kind", p.importer.Kind()),
		attribute.String("import.filename", p.source.Name()),
	))
	defer span.End()
	// Nothing published during a dry run is delivered.
	ctx, deferred := eventbus.Defer(ctx)
	defer deferred.Discard()

	report := &Report{Filename: p.source.Name(), Kind: p.importer.Kind()}
	err := history.Within(ctx, history.Current(p.historyID, false), func(ctx context.Context) error {
		if checker, ok := p.source.(EncodingChecker); ok {
			if err := checker.CheckEncoding(ctx); err != nil {
				return err
			}
		}
		columns, err := p.source.Columns(ctx)
		if err != nil {
			return err
		}
		// Prepare may write; nothing of it survives the dry run.
		return p.dryRun(ctx, func(ctx context.Context) error {
			plan, err := p.importer.Prepare(ctx, columns)
			if err != nil {
				return err
			}
			if missing := plan.MissingColumns(columns); len(missing) > 0 {
				report.Violations = append(report.Violations, missing...)
				return nil
			}
			for row, err := range p.source.Rows(ctx) {
				if err != nil {
					return err
				}
				report.Rows++
				rec := plan.Transformer.Transform(ctx, row)
				report.Violations = append(report.Violations, p.validator.ValidateRow(rec, plan.Definitions)...)
			}
			return nil
		})
	})
	if err != nil {
		if !IsViolation(err) {
			span.RecordError(err)
			return nil, err
		}
		report.Violations = append(report.Violations, ViolationsOf(err)...)
	}
	span.SetAttributes(attribute.Int("import.violations", len(report.Violations)))
	return report, nil
}

var errDryRun = errors.New("dry run")

func (p *Processor) dryRun(ctx context.Context, fn func(ctx context.Context) error) error {
	err := p.tx.InTx(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return errDryRun
	})
	if errors.Is(err, errDryRun) {
		return nil
	}
	return err
}

// IsViolation reports whether err describes bad input rather than an infrastructure failure.
func IsViolation(err error) bool {
	var ierr *ImportError
	var verr *ValidationError
	return errors.As(err, &ierr) || errors.As(err, &verr)
}

// Import runs the whole file in one transaction under the processor history.
// Any row failure rolls back every row of the file.
func (p *Processor) Import(ctx context.Context, opts ImportOptions) *Result {
	runID := uuid.New()
	res := &Result{
		RunID:     runID,
		Kind:      p.importer.Kind(),
		Filename:  p.source.Name(),
		HistoryID: p.historyID,
		StartedAt: time.Now(),
	}
	entry := p.entry(runID)
	ctx = composables.WithLogger(ctx, entry)

	ctx, span := p.tracer.Start(ctx, "dataimport.Import", trace.WithAttributes(
		attribute.String("import.kind", res.Kind),
		attribute.String("import.filename", res.Filename),
		attribute.Int64("import.history_id", res.HistoryID),
		attribute.String("import.run_id", runID.String()),
	))
	defer span.End()

	p.progress.Start(res.Filename)
	runCtx, deferred := eventbus.Defer(ctx)
	err := history.Within(runCtx, history.Current(p.historyID, false), func(ctx context.Context) error {
		return p.run(ctx, opts, res)
	})
	res.Duration = time.Since(res.StartedAt)
	p.progress.Finish(err)

	if err != nil {
		// The transaction rolled back: nothing was imported or skipped.
		res.Imported, res.Skipped = 0, 0
		deferred.Discard()
		res.Err = err
		res.Error = err.Error()
		res.Violations = ViolationsOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		if opts.EchoErrors {
			entry.WithError(err).Error("import failed")
		}
	}
	span.SetAttributes(
		attribute.Int("import.total", res.Total),
		attribute.Int("import.imported", res.Imported),
		attribute.Int("import.skipped", res.Skipped),
	)
	metrics.ObserveImportRun(res.Kind, res.OK(), res.Duration)
	deferred.Flush()

	if p.bus != nil {
		p.bus.Publish(ctx, Imported{
			RunID:     runID,
			Kind:      res.Kind,
			Filename:  res.Filename,
			HistoryID: res.HistoryID,
			Error:     res.Error,
		})
	}
	if p.manifests != "" {
		if err := WriteManifest(p.manifests, res); err != nil {
			entry.WithError(err).Warn("failed to write import manifest")
		}
	}
	return res
}

func (p *Processor) run(ctx context.Context, opts ImportOptions, res *Result) error {
	if checker, ok := p.source.(EncodingChecker); ok {
		if err := checker.CheckEncoding(ctx); err != nil {
			return err
		}
	}
	columns, err := p.source.Columns(ctx)
	if err != nil {
		return err
	}

	failedRows := 0
	err = p.tx.InTx(ctx, func(ctx context.Context) error {
		res.Total, res.Imported, res.Skipped = 0, 0, 0
		if opts.Cleanup {
			if err := p.importer.Cleanup(ctx, p.historyID); err != nil {
				return errors.Wrap(err, "cleanup")
			}
		}
		plan, err := p.importer.Prepare(ctx, columns)
		if err != nil {
			return err
		}
		if missing := plan.MissingColumns(columns); len(missing) > 0 {
			return &ValidationError{Violations: missing}
		}

		for row, err := range p.source.Rows(ctx) {
			if err != nil {
				return err
			}
			res.Total++
			rec := plan.Transformer.Transform(ctx, row)
			if violations := p.validator.ValidateRow(rec, plan.Definitions); len(violations) > 0 {
				failedRows = 1
				return &ValidationError{Violations: violations}
			}
			outcome, err := p.importer.ImportRow(ctx, rec)
			if err != nil {
				failedRows = 1
				return atLine(err, row.Line)
			}
			switch outcome {
			case OutcomeSkipped:
				res.Skipped++
			default:
				res.Imported++
			}
			p.progress.Advance(row.Line)
		}
		return nil
	})
	// Row counts are only final once the transaction is.
	if err != nil {
		metrics.ObserveImportRows(res.Kind, "failed", failedRows)
		return err
	}
	metrics.ObserveImportRows(res.Kind, OutcomeImported.String(), res.Imported)
	metrics.ObserveImportRows(res.Kind, OutcomeSkipped.String(), res.Skipped)
	return nil
}

func atLine(err error, line int) error {
	var ierr *ImportError
	if errors.As(err, &ierr) {
		if ierr.Line == 0 {
			return ierr.AtLine(line)
		}
		return err
	}
	return &ImportError{Violation: Violation{Line: line, Code: CodeUnexpected}, Cause: err}
}
