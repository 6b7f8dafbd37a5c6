package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/history"
)

// TablePrefix is prepended to every physical table name.
const TablePrefix = "cveteval_"

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func physical(table string) string {
	return pgx.Identifier{TablePrefix + table}.Sanitize()
}

func (s *PgStore) withPool(ctx context.Context) context.Context {
	if _, err := composables.UsePool(ctx); err != nil {
		return composables.WithPool(ctx, s.pool)
	}
	return ctx
}

func (s *PgStore) conn(ctx context.Context) (composables.Tx, error) {
	return composables.UseTx(s.withPool(ctx))
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return composables.InTx(s.withPool(ctx), fn)
}

func (s *PgStore) Get(ctx context.Context, table string, id int64) (Record, error) {
	if _, err := tableInfo(table); err != nil {
		return nil, err
	}
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = $1", physical(table)), id)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s %d", table, id)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(table, id)
	}
	return recs[0], nil
}

func (s *PgStore) where(ctx context.Context, info entities.TableInfo, filter Filter) (string, []any, error) {
	if err := checkColumns(info, filter); err != nil {
		return "", nil, err
	}
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var clauses []string
	var args []any
	for _, col := range cols {
		args = append(args, filter[col])
		ident := pgx.Identifier{col}.Sanitize()
		switch filter[col].(type) {
		case []int64, []string:
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", ident, len(args)))
		default:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", ident, len(args)))
		}
	}
	if info.HistoryScoped {
		if ids := history.FromContext(ctx).VisibleIDs(); ids != nil {
			args = append(args, ids)
			clauses = append(clauses, fmt.Sprintf("historyid = ANY($%d)", len(args)))
		}
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (s *PgStore) Find(ctx context.Context, table string, filter Filter) ([]Record, error) {
	info, err := tableInfo(table)
	if err != nil {
		return nil, err
	}
	where, args, err := s.where(ctx, info, filter)
	if err != nil {
		return nil, err
	}
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, "SELECT * FROM "+physical(table)+where+" ORDER BY id", args...)
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", table)
	}
	return collectRecords(rows)
}

func (s *PgStore) Count(ctx context.Context, table string, filter Filter) (int, error) {
	info, err := tableInfo(table)
	if err != nil {
		return 0, err
	}
	where, args, err := s.where(ctx, info, filter)
	if err != nil {
		return 0, err
	}
	tx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+physical(table)+where, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", table)
	}
	return n, nil
}

func (s *PgStore) Create(ctx context.Context, table string, rec Record) (int64, error) {
	info, err := tableInfo(table)
	if err != nil {
		return 0, err
	}
	if err := checkColumns(info, rec); err != nil {
		return 0, err
	}
	row := normalizeRecord(info, rec)
	delete(row, "id")
	stampCreate(info, row, time.Now())
	if info.HistoryScoped {
		if tag, ok := history.FromContext(ctx).Tag(); ok {
			row["historyid"] = tag
		} else if _, set := row["historyid"]; !set {
			row["historyid"] = history.Baseline
		}
	}

	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	idents := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		idents[i] = pgx.Identifier{col}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}

	var id int64
	err = s.InTx(ctx, func(ctx context.Context) error {
		tx, err := s.conn(ctx)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			physical(table), strings.Join(idents, ", "), strings.Join(params, ", "))
		if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return errors.Wrapf(err, "insert %s", table)
		}
		// Baseline rows are indexed too so that cleanup of history 0 finds them.
		if hid := row.Int("historyid"); info.HistoryScoped && hid >= 0 {
			_, err := tx.Exec(ctx,
				"INSERT INTO "+physical(entities.TableHistoryModel)+" (tablename, tableid, historyid) VALUES ($1, $2, $3)",
				table, id, hid)
			if err != nil {
				return errors.Wrap(err, "insert history model")
			}
		}
		return nil
	})
	return id, err
}

func (s *PgStore) Update(ctx context.Context, table string, id int64, rec Record) error {
	info, err := tableInfo(table)
	if err != nil {
		return err
	}
	if err := checkColumns(info, rec); err != nil {
		return err
	}
	row := normalizeRecord(info, rec)
	delete(row, "id")
	if info.HasTimestamps() {
		row["timemodified"] = time.Now()
	}
	if len(row) == 0 {
		return nil
	}
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		args = append(args, row[col])
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i+1)
	}
	args = append(args, id)

	tx, err := s.conn(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		physical(table), strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return errors.Wrapf(err, "update %s %d", table, id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(table, id)
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, table string, id int64) error {
	info, err := tableInfo(table)
	if err != nil {
		return err
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		tx, err := s.conn(ctx)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, "DELETE FROM "+physical(table)+" WHERE id = $1", id)
		if err != nil {
			return errors.Wrapf(err, "delete %s %d", table, id)
		}
		if tag.RowsAffected() == 0 {
			return notFound(table, id)
		}
		if info.HistoryScoped {
			if _, err := tx.Exec(ctx,
				"DELETE FROM "+physical(entities.TableHistoryModel)+" WHERE tablename = $1 AND tableid = $2",
				table, id); err != nil {
				return errors.Wrap(err, "delete history model")
			}
		}
		return nil
	})
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		rec := make(Record, len(fields))
		for i, f := range fields {
			rec[f.Name] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate records")
	}
	return out, nil
}
