package dataimport

import (
	"context"
	"slices"
)

// Outcome is the row-level decision of an importer.
type Outcome int

const (
	OutcomeImported Outcome = iota
	// OutcomeSkipped means the row was deliberately left out and the run goes on.
	OutcomeSkipped
)

func (o Outcome) String() string {
	if o == OutcomeSkipped {
		return "skipped"
	}
	return "imported"
}

// Plan is what an importer derives from the header of a file.
type Plan struct {
	Definitions Definitions
	Transformer *Transformer
}

// MissingColumns reports required fields with no source column in the header.
func (p Plan) MissingColumns(columns []string) []Violation {
	var out []Violation
	for _, def := range p.Definitions {
		if !def.Required {
			continue
		}
		sources := p.Transformer.SourcesOf(def.Name)
		found := false
		for _, s := range sources {
			if slices.Contains(columns, s) {
				found = true
				break
			}
		}
		if found {
			continue
		}
		field := def.Name
		if len(sources) > 0 {
			field = sources[0]
		}
		out = append(out, Violation{Line: 1, Code: CodeColumnMissing, Field: field})
	}
	return out
}

type Importer interface {
	Kind() string
	// Prepare builds the plan once the header is known. It may write (for
	// example entities named by dynamic columns) and runs inside the import transaction.
	Prepare(ctx context.Context, columns []string) (Plan, error)
	ImportRow(ctx context.Context, rec Record) (Outcome, error)
	// Cleanup removes what this importer wrote under historyID.
	Cleanup(ctx context.Context, historyID int64) error
}

// Transactor runs fn in one all-or-nothing unit.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f TransactorFunc) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

var noTx = TransactorFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
