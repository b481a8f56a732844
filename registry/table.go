package registry

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Filters are equality conditions keyed on column name. A slice value matches
// any of its elements; an empty slice matches nothing.
type Filters map[string]any

// Values are column values for inserts and updates.
type Values map[string]any

// Row is a single result row keyed on column name.
type Row map[string]any

// Int64 returns an integer column, or 0 when absent or NULL.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// String returns a text column, or "" when absent or NULL.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

type selectable interface {
	Name() string
	columns() []string
	hasColumn(name string) bool
	isScoped() bool
	queryWhere(ctx context.Context, filters Filters) (*sqlx.Rows, error)
}

// source is the connection state shared by tables and views.
type source struct {
	dialect Dialect
	db      sqlx.ExtContext
	app     string
}

func (s source) exec() (sqlx.ExtContext, error) {
	if s.db == nil {
		return nil, ErrDetached
	}
	return s.db, nil
}

// where builds the WHERE clause. ok is false when a filter can never match.
func (s source) where(sel selectable, filters Filters) (clause string, args []any, ok bool, err error) {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if !sel.hasColumn(k) {
			return "", nil, false, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, sel.Name(), k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	if sel.isScoped() {
		if _, explicit := filters[AppColumn]; !explicit {
			conds = append(conds, s.dialect.Quote(AppColumn)+" = ?")
			args = append(args, s.app)
		}
	}
	for _, k := range keys {
		v := filters[k]
		if list, isList := expand(v); isList {
			if len(list) == 0 {
				return "", nil, false, nil
			}
			conds = append(conds, s.dialect.Quote(k)+" IN ("+placeholders(len(list))+")")
			args = append(args, list...)
			continue
		}
		if v == nil {
			conds = append(conds, s.dialect.Quote(k)+" IS NULL")
			continue
		}
		conds = append(conds, s.dialect.Quote(k)+" = ?")
		args = append(args, v)
	}
	if len(conds) == 0 {
		return "", args, true, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, true, nil
}

func (s source) selectRows(ctx context.Context, sel selectable, filters Filters) (*sqlx.Rows, error) {
	db, err := s.exec()
	if err != nil {
		return nil, err
	}
	clause, args, ok, err := s.where(sel, filters)
	if err != nil || !ok {
		return nil, err
	}
	query := "SELECT " + quoteAll(s.dialect, sel.columns()) + " FROM " + s.dialect.Quote(sel.Name()) + clause
	if t, isTable := sel.(*Table); isTable {
		if pk := t.schema.PrimaryKey(); len(pk) > 0 {
			query += " ORDER BY " + quoteAll(s.dialect, pk)
		}
	}
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", sel.Name(), err)
	}
	return rows, nil
}

func expand(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanRow(rows *sqlx.Rows) (Row, error) {
	row := make(Row)
	if err := rows.MapScan(row); err != nil {
		return nil, err
	}
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row, nil
}

func rowSeq[T any](ctx context.Context, sel selectable, filters Filters, scan func(*sqlx.Rows) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		rows, err := sel.queryWhere(ctx, filters)
		if err != nil {
			yield(zero, err)
			return
		}
		if rows == nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				yield(zero, fmt.Errorf("failed to scan row from %s: %w", sel.Name(), err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("failed to read rows from %s: %w", sel.Name(), err))
		}
	}
}

// Scan lazily yields rows of a table or view decoded into T via `db` tags.
// Like SelectWhere it holds a connection while ranging.
func Scan[T any](ctx context.Context, sel selectable, filters Filters) iter.Seq2[T, error] {
	return rowSeq(ctx, sel, filters, func(rows *sqlx.Rows) (T, error) {
		var v T
		err := rows.StructScan(&v)
		return v, err
	})
}

// Collect drains a row sequence, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Table is the data-access handle for one registered schema.
type Table struct {
	schema *Schema
	source
}

func (t *Table) Name() string { return t.schema.Name }

// Schema returns the declared schema of the table.
func (t *Table) Schema() Schema { return *t.schema }

func (t *Table) columns() []string { return t.schema.ColumnNames() }

func (t *Table) hasColumn(name string) bool {
	_, ok := t.schema.Column(name)
	return ok
}

func (t *Table) isScoped() bool { return t.schema.Scoped() }

func (t *Table) queryWhere(ctx context.Context, filters Filters) (*sqlx.Rows, error) {
	return t.source.selectRows(ctx, t, filters)
}

// With returns a copy of the table bound to a transaction.
func (t *Table) With(tx *sqlx.Tx) *Table {
	c := *t
	c.db = tx
	return &c
}

// SelectWhere lazily yields the rows matching filters. Every range over the
// returned sequence re-runs the query.
//
// The result set holds a connection until the range ends. The sqlite backend
// has exactly one, so any other statement issued from inside the loop blocks
// forever. Use Collect first when the rows drive further reads or writes.
func (t *Table) SelectWhere(ctx context.Context, filters Filters) iter.Seq2[Row, error] {
	return rowSeq(ctx, t, filters, scanRow)
}

// Insert adds one row and returns the last insert id.
func (t *Table) Insert(ctx context.Context, values Values) (int64, error) {
	db, err := t.exec()
	if err != nil {
		return 0, err
	}
	cols, err := t.insertColumns(keysOf(values))
	if err != nil {
		return 0, err
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		if c == AppColumn && t.isScoped() {
			if v, ok := values[AppColumn]; ok {
				args[i] = v
			} else {
				args[i] = t.app
			}
			continue
		}
		args[i] = values[c]
	}
	res, err := db.ExecContext(ctx, t.insertSQL(cols), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", t.Name(), t.dialect.Classify(err))
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// InsertMany adds rows whose values follow columns, in a single transaction.
func (t *Table) InsertMany(ctx context.Context, columns []string, rows ...[]any) error {
	if len(rows) == 0 {
		return nil
	}
	db, err := t.exec()
	if err != nil {
		return err
	}
	cols, err := t.insertColumns(columns)
	if err != nil {
		return err
	}
	addApp := len(cols) > len(columns)
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("insert into %s: row %d has %d values for %d columns", t.Name(), i, len(r), len(columns))
		}
	}

	run := func(ex sqlx.ExecerContext) error {
		query := t.insertSQL(cols)
		for _, r := range rows {
			args := r
			if addApp {
				args = append([]any{t.app}, r...)
			}
			if _, err := ex.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to insert into %s: %w", t.Name(), t.dialect.Classify(err))
			}
		}
		return nil
	}

	sdb, ok := db.(*sqlx.DB)
	if !ok {
		return run(db)
	}
	tx, err := sdb.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert into %s: %w", t.Name(), err)
	}
	if err := run(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpdateWhere sets values on every row matching filters.
func (t *Table) UpdateWhere(ctx context.Context, filters Filters, values Values) (int64, error) {
	db, err := t.exec()
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	keys := keysOf(values)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		col, ok := t.schema.Column(k)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name(), k)
		}
		if values[k] == nil && (col.Required || col.Primary) {
			return 0, constraintf("%s.%s is required", t.Name(), k)
		}
		sets[i] = t.dialect.Quote(k) + " = ?"
		args = append(args, values[k])
	}
	clause, whereArgs, ok, err := t.where(t, filters)
	if err != nil || !ok {
		return 0, err
	}
	query := "UPDATE " + t.dialect.Quote(t.Name()) + " SET " + strings.Join(sets, ", ") + clause
	res, err := db.ExecContext(ctx, query, append(args, whereArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", t.Name(), t.dialect.Classify(err))
	}
	return affected(res), nil
}

// DeleteWhere removes every row matching filters. Rows in tables referencing
// this one with ON DELETE CASCADE are removed by the same statement.
func (t *Table) DeleteWhere(ctx context.Context, filters Filters) (int64, error) {
	db, err := t.exec()
	if err != nil {
		return 0, err
	}
	clause, args, ok, err := t.where(t, filters)
	if err != nil || !ok {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+t.dialect.Quote(t.Name())+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", t.Name(), t.dialect.Classify(err))
	}
	return affected(res), nil
}

// insertColumns validates an insert column list against the schema and
// returns it with the app column prepended when the table is scoped.
func (t *Table) insertColumns(given []string) ([]string, error) {
	present := make(map[string]bool, len(given))
	for _, c := range given {
		if !t.hasColumn(c) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name(), c)
		}
		if present[c] {
			return nil, fmt.Errorf("insert into %s: column %s given twice", t.Name(), c)
		}
		present[c] = true
	}
	cols := given
	if t.isScoped() && !present[AppColumn] {
		cols = append([]string{AppColumn}, given...)
		present[AppColumn] = true
	}
	for _, c := range t.schema.Columns {
		if c.Required && !c.AutoIncrement && c.Default == nil && !present[c.Name] {
			return nil, constraintf("%s.%s is required", t.Name(), c.Name)
		}
	}
	return cols, nil
}

func (t *Table) insertSQL(cols []string) string {
	return "INSERT INTO " + t.dialect.Quote(t.Name()) + " (" + quoteAll(t.dialect, cols) + ") VALUES (" + placeholders(len(cols)) + ")"
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
