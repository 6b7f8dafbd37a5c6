package persistence

import (
	"context"

	"github.com/iota-uz/cveteval/pkg/history"
)

type Mapper[T any] struct {
	Table string
	To    func(T) Record
	From  func(Record) T
}

// Repository is a typed view of one table of a Store.
type Repository[T any] struct {
	store  Store
	mapper Mapper[T]
}

func NewRepository[T any](store Store, mapper Mapper[T]) *Repository[T] {
	return &Repository[T]{store: store, mapper: mapper}
}

func (r *Repository[T]) Table() string {
	return r.mapper.Table
}

func (r *Repository[T]) Get(ctx context.Context, id int64) (T, error) {
	rec, err := r.store.Get(ctx, r.mapper.Table, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.mapper.From(rec), nil
}

func (r *Repository[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	recs, err := r.store.Find(ctx, r.mapper.Table, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(recs))
	for i, rec := range recs {
		out[i] = r.mapper.From(rec)
	}
	return out, nil
}

// FindOne returns the row matching filter, preferring the current history over the baseline.
func (r *Repository[T]) FindOne(ctx context.Context, filter Filter) (T, bool, error) {
	var zero T
	recs, err := r.store.Find(ctx, r.mapper.Table, filter)
	if err != nil {
		return zero, false, err
	}
	if len(recs) == 0 {
		return zero, false, nil
	}
	if info, err := tableInfo(r.mapper.Table); err != nil || !info.HistoryScoped {
		return r.mapper.From(recs[0]), true, err
	}
	rec, ok := history.Prefer(history.FromContext(ctx), recs, func(rec Record) int64 {
		return rec.Int("historyid")
	})
	if !ok {
		return zero, false, nil
	}
	return r.mapper.From(rec), true, nil
}

func (r *Repository[T]) Count(ctx context.Context, filter Filter) (int, error) {
	return r.store.Count(ctx, r.mapper.Table, filter)
}

func (r *Repository[T]) Create(ctx context.Context, v T) (T, error) {
	id, err := r.store.Create(ctx, r.mapper.Table, r.mapper.To(v))
	if err != nil {
		var zero T
		return zero, err
	}
	return r.Get(ctx, id)
}

func (r *Repository[T]) Update(ctx context.Context, id int64, v T) error {
	return r.store.Update(ctx, r.mapper.Table, id, r.mapper.To(v))
}

func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	return r.store.Delete(ctx, r.mapper.Table, id)
}

// GetOrCreate finds the row matching filter or creates build().
func (r *Repository[T]) GetOrCreate(ctx context.Context, filter Filter, build func() T) (T, bool, error) {
	found, ok, err := r.FindOne(ctx, filter)
	if err != nil || ok {
		return found, false, err
	}
	created, err := r.Create(ctx, build())
	return created, err == nil, err
}
