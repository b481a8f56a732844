package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// ExistingColumn is a column as reported by the live store.
type ExistingColumn struct {
	Name    string
	Type    string
	NotNull bool
	Primary bool
}

// Dialect owns everything that differs between storage engines: DDL text,
// identifier quoting, introspection and driver error classification.
type Dialect interface {
	Name() string
	DriverName() string
	Quote(ident string) string
	CreateTable(s *Schema) string
	CreateView(v *View) string
	// Columns returns the live columns of a table, and false if it does not exist.
	Columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]ExistingColumn, bool, error)
	// Expect returns how a declared column reads back from Columns.
	Expect(c Column) ExistingColumn
	// Classify maps driver errors onto the registry error taxonomy.
	Classify(err error) error
}

// DialectFor returns the dialect for a backend name.
func DialectFor(backend string) (Dialect, error) {
	switch strings.ToLower(backend) {
	case "", "sqlite", "sqlite3":
		return SQLite{}, nil
	case "mysql":
		return MySQL{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// SQLite is the embedded single-file dialect.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d SQLite) CreateTable(s *Schema) string {
	var lines []string
	inlinePK := false
	for _, c := range s.Columns {
		var b strings.Builder
		b.WriteString(d.Quote(c.Name))
		b.WriteByte(' ')
		if c.AutoIncrement {
			b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
			inlinePK = true
			lines = append(lines, b.String())
			continue
		}
		b.WriteString(sqliteType(c.Type))
		if c.Required || c.Primary {
			b.WriteString(" NOT NULL")
		}
		if c.Default != nil {
			b.WriteString(" DEFAULT ")
			b.WriteString(literal(c.Default))
		}
		lines = append(lines, b.String())
	}
	if pk := s.PrimaryKey(); len(pk) > 0 && !inlinePK {
		lines = append(lines, "PRIMARY KEY ("+quoteAll(d, pk)+")")
	}
	for _, fk := range s.ForeignKeys {
		lines = append(lines, foreignKeyClause(d, fk))
	}
	return "CREATE TABLE IF NOT EXISTS " + d.Quote(s.Name) + " (\n\t" + strings.Join(lines, ",\n\t") + "\n);"
}

func (d SQLite) CreateView(v *View) string {
	return "CREATE VIEW IF NOT EXISTS " + d.Quote(v.Name) + " AS\n" + strings.TrimSpace(v.query(d)) + ";"
}

type sqliteTableInfo struct {
	CID       int            `db:"cid"`
	Name      string         `db:"name"`
	Type      string         `db:"type"`
	NotNull   int            `db:"notnull"`
	DfltValue sql.NullString `db:"dflt_value"`
	PK        int            `db:"pk"`
}

func (d SQLite) Columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]ExistingColumn, bool, error) {
	var info []sqliteTableInfo
	if err := sqlx.SelectContext(ctx, q, &info, "PRAGMA table_info("+d.Quote(table)+")"); err != nil {
		return nil, false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	if len(info) == 0 {
		return nil, false, nil
	}
	cols := make([]ExistingColumn, len(info))
	for i, c := range info {
		cols[i] = ExistingColumn{Name: c.Name, Type: strings.ToUpper(c.Type), NotNull: c.NotNull != 0, Primary: c.PK > 0}
	}
	return cols, true, nil
}

// Expect mirrors CreateTable. An inline INTEGER PRIMARY KEY is reported as
// nullable by table_info.
func (SQLite) Expect(c Column) ExistingColumn {
	if c.AutoIncrement {
		return ExistingColumn{Name: c.Name, Type: "INTEGER", Primary: true}
	}
	return ExistingColumn{Name: c.Name, Type: sqliteType(c.Type), NotNull: c.Required || c.Primary, Primary: c.Primary}
}

func (SQLite) Classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	return err
}

func sqliteType(t ColumnType) string {
	switch t {
	case ShortString, Text:
		return "TEXT"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return "INTEGER"
	}
}

// MySQL is the networked relational dialect.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (d MySQL) CreateTable(s *Schema) string {
	var lines []string
	for _, c := range s.Columns {
		var b strings.Builder
		b.WriteString(d.Quote(c.Name))
		b.WriteByte(' ')
		b.WriteString(mysqlType(c.Type))
		if c.Required || c.Primary || c.AutoIncrement {
			b.WriteString(" NOT NULL")
		}
		if c.AutoIncrement {
			b.WriteString(" AUTO_INCREMENT")
		}
		if c.Default != nil && c.Type != Text {
			b.WriteString(" DEFAULT ")
			b.WriteString(literal(c.Default))
		}
		lines = append(lines, b.String())
	}
	if pk := s.PrimaryKey(); len(pk) > 0 {
		lines = append(lines, "PRIMARY KEY ("+quoteAll(d, pk)+")")
	}
	for _, fk := range s.ForeignKeys {
		lines = append(lines, foreignKeyClause(d, fk))
	}
	return "CREATE TABLE IF NOT EXISTS " + d.Quote(s.Name) + " (\n\t" + strings.Join(lines, ",\n\t") + "\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;"
}

func (d MySQL) CreateView(v *View) string {
	return "CREATE OR REPLACE VIEW " + d.Quote(v.Name) + " AS\n" + strings.TrimSpace(v.query(d)) + ";"
}

type mysqlColumnInfo struct {
	Name     string `db:"COLUMN_NAME"`
	DataType string `db:"DATA_TYPE"`
	Nullable string `db:"IS_NULLABLE"`
	Key      string `db:"COLUMN_KEY"`
}

func (MySQL) Columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]ExistingColumn, bool, error) {
	var info []mysqlColumnInfo
	query := `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_KEY FROM information_schema.COLUMNS
	          WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
	          ORDER BY ORDINAL_POSITION`
	if err := sqlx.SelectContext(ctx, q, &info, query, table); err != nil {
		return nil, false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	if len(info) == 0 {
		return nil, false, nil
	}
	cols := make([]ExistingColumn, len(info))
	for i, c := range info {
		cols[i] = ExistingColumn{
			Name:    c.Name,
			Type:    strings.ToLower(c.DataType),
			NotNull: c.Nullable == "NO",
			Primary: c.Key == "PRI",
		}
	}
	return cols, true, nil
}

// Expect mirrors CreateTable, with types as information_schema names them.
func (MySQL) Expect(c Column) ExistingColumn {
	return ExistingColumn{
		Name:    c.Name,
		Type:    mysqlDataType(c.Type),
		NotNull: c.Required || c.Primary || c.AutoIncrement,
		Primary: c.Primary || c.AutoIncrement,
	}
}

// MySQL error numbers that mean a constraint was broken.
var mysqlConstraintErrors = map[uint16]bool{
	1048: true, // column cannot be null
	1062: true, // duplicate entry
	1364: true, // field has no default
	1451: true, // parent row referenced
	1452: true, // child row has no parent
}

func (MySQL) Classify(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && mysqlConstraintErrors[me.Number] {
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	return err
}

func mysqlType(t ColumnType) string {
	switch t {
	case ShortString:
		return "VARCHAR(64)"
	case Text:
		return "TEXT"
	case Bool:
		return "BOOLEAN"
	case Timestamp:
		return "DATETIME"
	default:
		return "BIGINT"
	}
}

// mysqlDataType is the DATA_TYPE of a column created with mysqlType.
func mysqlDataType(t ColumnType) string {
	switch t {
	case ShortString:
		return "varchar"
	case Text:
		return "text"
	case Bool:
		return "tinyint"
	case Timestamp:
		return "datetime"
	default:
		return "bigint"
	}
}

func quoteAll(d Dialect, idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = d.Quote(id)
	}
	return strings.Join(quoted, ", ")
}

func foreignKeyClause(d Dialect, fk ForeignKey) string {
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
		quoteAll(d, fk.Columns), d.Quote(fk.RefTable), quoteAll(d, fk.RefColumns), fk.OnDelete)
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case time.Time:
		return "'" + x.UTC().Format("2006-01-02 15:04:05") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}
