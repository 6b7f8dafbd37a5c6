package dataimport

import (
	"context"
	"sort"
)

// Converter turns the raw value of a source column into a field value.
// Converters that cannot convert return the raw string so validation can report it.
type Converter func(ctx context.Context, value, column string) any

type FieldMapping struct {
	To      string
	Convert Converter
}

// Record is a row in canonical field space.
type Record struct {
	Line   int
	Values map[string]any
	// Raw keeps the untouched cell of each target field.
	Raw map[string]string
}

func (r Record) String(field string) string {
	s, _ := r.Values[field].(string)
	return s
}

func (r Record) Int(field string) int64 {
	switch v := r.Values[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (r Record) Strings(field string) []string {
	s, _ := r.Values[field].([]string)
	return s
}

type Transformer struct {
	columns map[string][]FieldMapping
}

func NewTransformer(columns map[string][]FieldMapping) *Transformer {
	return &Transformer{columns: columns}
}

// Transform maps row into canonical fields. Unmapped columns are ignored and
// mapped columns missing from the row yield empty values.
func (t *Transformer) Transform(ctx context.Context, row Row) Record {
	rec := Record{
		Line:   row.Line,
		Values: make(map[string]any, len(t.columns)),
		Raw:    make(map[string]string, len(t.columns)),
	}
	for _, column := range t.sourceColumns() {
		raw := row.Values[column]
		for _, m := range t.columns[column] {
			rec.Raw[m.To] = raw
			if m.Convert == nil {
				rec.Values[m.To] = raw
				continue
			}
			rec.Values[m.To] = m.Convert(ctx, raw, column)
		}
	}
	return rec
}

// SourcesOf returns the source columns feeding field.
func (t *Transformer) SourcesOf(field string) []string {
	var out []string
	for _, column := range t.sourceColumns() {
		for _, m := range t.columns[column] {
			if m.To == field {
				out = append(out, column)
				break
			}
		}
	}
	return out
}

func (t *Transformer) sourceColumns() []string {
	cols := make([]string, 0, len(t.columns))
	for c := range t.columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
