// Package history carries the import generation ("history") a call operates on.
//
// The scope travels in context.Context. Reads of history-scoped tables
// honour it; Within derives a scoped context for the duration of fn so the
// caller's scope is untouched on every exit path.
package history

import (
	"context"
	"fmt"
)

// Baseline is the id of rows tagged with no history.
const Baseline int64 = 0

type Scope struct {
	ID int64
	// Strict restricts reads to ID; otherwise baseline rows are visible too.
	Strict   bool
	disabled bool
}

// Current returns the scope of history id.
func Current(id int64, strict bool) Scope {
	return Scope{ID: id, Strict: strict}
}

// Disabled returns the sentinel scope that ignores history tagging entirely.
func Disabled() Scope {
	return Scope{disabled: true}
}

func (s Scope) IsDisabled() bool {
	return s.disabled
}

// Visible reports whether a row tagged with rowHistoryID can be read under s.
func (s Scope) Visible(rowHistoryID int64) bool {
	if s.disabled {
		return true
	}
	if rowHistoryID == s.ID {
		return true
	}
	return !s.Strict && rowHistoryID == Baseline
}

// VisibleIDs returns the history ids readable under s, or nil when every id is.
func (s Scope) VisibleIDs() []int64 {
	switch {
	case s.disabled:
		return nil
	case s.Strict || s.ID == Baseline:
		return []int64{s.ID}
	default:
		return []int64{s.ID, Baseline}
	}
}

// Tag is the history id written on new rows; ok is false when writes should keep their own tag.
func (s Scope) Tag() (id int64, ok bool) {
	if s.disabled {
		return 0, false
	}
	return s.ID, true
}

func (s Scope) String() string {
	if s.disabled {
		return "history(disabled)"
	}
	if s.Strict {
		return fmt.Sprintf("history(%d, strict)", s.ID)
	}
	return fmt.Sprintf("history(%d)", s.ID)
}

type scopeKey struct{}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope carried by ctx; without one it is the non-strict baseline.
func FromContext(ctx context.Context) Scope {
	if s, ok := ctx.Value(scopeKey{}).(Scope); ok {
		return s
	}
	return Scope{}
}

func Within(ctx context.Context, s Scope, fn func(ctx context.Context) error) error {
	return fn(WithScope(ctx, s))
}

// WithinResult is Within for functions that return a value.
func WithinResult[T any](ctx context.Context, s Scope, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(WithScope(ctx, s))
}

// Strict narrows the scope of ctx to its own history id. A disabled scope stays disabled.
func Strict(ctx context.Context) context.Context {
	s := FromContext(ctx)
	if s.disabled || s.Strict {
		return ctx
	}
	s.Strict = true
	return WithScope(ctx, s)
}

// Prefer picks one of several rows sharing a natural key: the row of the
// current history wins over the baseline one, then the first visible row.
func Prefer[T any](s Scope, items []T, historyID func(T) int64) (T, bool) {
	var zero T
	var fallback *T
	for i := range items {
		hid := historyID(items[i])
		if !s.Visible(hid) {
			continue
		}
		if !s.disabled && hid == s.ID {
			return items[i], true
		}
		if fallback == nil {
			fallback = &items[i]
		}
	}
	if fallback == nil {
		return zero, false
	}
	return *fallback, true
}
