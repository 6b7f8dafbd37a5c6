package persistence

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
)

// Record is one row keyed by column name. Integers are int64 and dates time.Time.
type Record map[string]any

func (r Record) ID() int64 {
	return r.Int("id")
}

func (r Record) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (r Record) String(col string) string {
	s, _ := r[col].(string)
	return s
}

func (r Record) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	default:
		return false
	}
}

func (r Record) Time(col string) time.Time {
	t, _ := r[col].(time.Time)
	return t
}

func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Filter matches columns by equality; an []int64 or []string value matches any of its elements.
type Filter map[string]any

// Store is the generic entity storage the evaluation model is built on.
// Find honours the history scope of ctx on history-scoped tables.
type Store interface {
	Get(ctx context.Context, table string, id int64) (Record, error)
	Find(ctx context.Context, table string, filter Filter) ([]Record, error)
	Count(ctx context.Context, table string, filter Filter) (int, error)
	Create(ctx context.Context, table string, rec Record) (int64, error)
	Update(ctx context.Context, table string, id int64, rec Record) error
	Delete(ctx context.Context, table string, id int64) error
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func tableInfo(table string) (entities.TableInfo, error) {
	info, ok := entities.Tables[table]
	if !ok {
		return entities.TableInfo{}, errors.Wrap(ErrUnknownTable, table)
	}
	return info, nil
}

func checkColumns(info entities.TableInfo, cols map[string]any) error {
	for col := range cols {
		if col == "id" || slices.Contains(info.Columns, col) {
			continue
		}
		return errors.Wrap(ErrUnknownColumn, fmt.Sprintf("%s.%s", info.Name, col))
	}
	return nil
}

func notFound(table string, id int64) error {
	return errors.Wrapf(ErrNotFound, "%s %d", table, id)
}
