package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/pkg/history"
)

// MemoryStore keeps tables in maps. Transactions snapshot every table and
// restore the snapshot when fn fails.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[int64]Record
	seq    map[string]int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: map[string]map[int64]Record{},
		seq:    map[string]int64{},
		now:    time.Now,
	}
}

// WithClock replaces the clock used for timestamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, table string, id int64) (Record, error) {
	if _, err := tableInfo(table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tables[table][id]
	if !ok {
		return nil, notFound(table, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Find(ctx context.Context, table string, filter Filter) ([]Record, error) {
	info, err := tableInfo(table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(info, filter); err != nil {
		return nil, err
	}
	scope := history.FromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range s.tables[table] {
		if info.HistoryScoped && !scope.Visible(rec.Int("historyid")) {
			continue
		}
		if !matches(rec, filter) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, table string, filter Filter) (int, error) {
	recs, err := s.Find(ctx, table, filter)
	return len(recs), err
}

func (s *MemoryStore) Create(ctx context.Context, table string, rec Record) (int64, error) {
	info, err := tableInfo(table)
	if err != nil {
		return 0, err
	}
	if err := checkColumns(info, rec); err != nil {
		return 0, err
	}
	row := normalizeRecord(info, rec)
	stampCreate(info, row, s.now())
	if info.HistoryScoped {
		if tag, ok := history.FromContext(ctx).Tag(); ok {
			row["historyid"] = tag
		} else if _, set := row["historyid"]; !set {
			row["historyid"] = history.Baseline
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.insert(table, row)
	if info.HistoryScoped && row.Int("historyid") >= 0 {
		s.insert(entities.TableHistoryModel, Record{
			"tablename": table,
			"tableid":   id,
			"historyid": row.Int("historyid"),
		})
	}
	return id, nil
}

func (s *MemoryStore) insert(table string, row Record) int64 {
	s.seq[table]++
	id := s.seq[table]
	row["id"] = id
	if s.tables[table] == nil {
		s.tables[table] = map[int64]Record{}
	}
	s.tables[table][id] = row
	return id
}

func (s *MemoryStore) Update(_ context.Context, table string, id int64, rec Record) error {
	info, err := tableInfo(table)
	if err != nil {
		return err
	}
	if err := checkColumns(info, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[table][id]
	if !ok {
		return notFound(table, id)
	}
	for k, v := range normalizeRecord(info, rec) {
		if k == "id" {
			continue
		}
		row[k] = v
	}
	if info.HasTimestamps() {
		row["timemodified"] = s.now()
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, table string, id int64) error {
	info, err := tableInfo(table)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table][id]; !ok {
		return notFound(table, id)
	}
	delete(s.tables[table], id)
	if info.HistoryScoped {
		for mid, m := range s.tables[entities.TableHistoryModel] {
			if m.String("tablename") == table && m.Int("tableid") == id {
				delete(s.tables[entities.TableHistoryModel], mid)
			}
		}
	}
	return nil
}

type memTxKey struct{}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == s {
		return fn(ctx)
	}
	s.mu.Lock()
	snapshot, seq := s.snapshot()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, s)); err != nil {
		s.mu.Lock()
		s.tables, s.seq = snapshot, seq
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) snapshot() (map[string]map[int64]Record, map[string]int64) {
	tables := make(map[string]map[int64]Record, len(s.tables))
	for name, rows := range s.tables {
		copied := make(map[int64]Record, len(rows))
		for id, rec := range rows {
			copied[id] = rec.Clone()
		}
		tables[name] = copied
	}
	seq := make(map[string]int64, len(s.seq))
	for k, v := range s.seq {
		seq[k] = v
	}
	return tables, seq
}

func stampCreate(info entities.TableInfo, row Record, now time.Time) {
	if !info.HasTimestamps() {
		return
	}
	if _, ok := row["timecreated"].(time.Time); !ok {
		row["timecreated"] = now
	}
	row["timemodified"] = now
}

// normalizeRecord widens integer kinds to int64 so comparisons are stable.
func normalizeRecord(info entities.TableInfo, rec Record) Record {
	out := make(Record, len(info.Columns)+1)
	for k, v := range rec {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case entities.RoleType:
		return int64(t)
	default:
		return v
	}
}

func matches(rec Record, filter Filter) bool {
	for col, want := range filter {
		got := rec[col]
		switch w := want.(type) {
		case []int64:
			found := false
			for _, id := range w {
				if equal(got, id) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case []string:
			found := false
			for _, s := range w {
				if equal(got, s) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !equal(got, want) {
				return false
			}
		}
	}
	return true
}

func equal(a, b any) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if a == nil {
		switch b.(type) {
		case int64:
			return b == int64(0)
		case string:
			return b == ""
		}
	}
	return a == b
}
