package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Registry hands out table and view handles for one app and materialises
// their DDL on the connected store.
type Registry struct {
	dialect Dialect
	db      *sqlx.DB
	app     string

	tables  map[string]*Table
	views   map[string]*ViewHandle
	objects []any // *Table or *ViewHandle, in registration order
}

// New creates a registry bound to an open connection.
func New(conn *Conn, app string) *Registry {
	r := NewDetached(conn.Dialect, app)
	r.db = conn.DB
	return r
}

// NewDetached creates a registry that can describe schemas but not touch a store.
func NewDetached(dialect Dialect, app string) *Registry {
	return &Registry{
		dialect: dialect,
		app:     app,
		tables:  make(map[string]*Table),
		views:   make(map[string]*ViewHandle),
	}
}

// App returns the deployment discriminator this registry scopes rows to.
func (r *Registry) App() string { return r.app }

// Dialect returns the dialect of the backing store.
func (r *Registry) Dialect() Dialect { return r.dialect }

func (r *Registry) src() source {
	s := source{dialect: r.dialect, app: r.app}
	if r.db != nil {
		s.db = r.db
	}
	return s
}

// Register declares a table without touching the store.
func (r *Registry) Register(schema Schema) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if r.taken(schema.Name) {
		return nil, fmt.Errorf("table %s is already registered", schema.Name)
	}
	for _, fk := range schema.ForeignKeys {
		if fk.RefTable != schema.Name && r.tables[fk.RefTable] == nil {
			return nil, fmt.Errorf("schema %s references unregistered table %s", schema.Name, fk.RefTable)
		}
	}
	s := schema
	t := &Table{schema: &s, source: r.src()}
	r.tables[s.Name] = t
	r.objects = append(r.objects, t)
	return t, nil
}

// RegisterView declares a read-only view without touching the store.
func (r *Registry) RegisterView(view View) (*ViewHandle, error) {
	if view.Name == "" || len(view.Columns) == 0 || view.Query == "" {
		return nil, fmt.Errorf("view %q is incomplete", view.Name)
	}
	if r.taken(view.Name) {
		return nil, fmt.Errorf("view %s is already registered", view.Name)
	}
	v := view
	h := &ViewHandle{view: &v, source: r.src()}
	for _, c := range v.Columns {
		if c == AppColumn {
			h.scoped = true
		}
	}
	r.views[v.Name] = h
	r.objects = append(r.objects, h)
	return h, nil
}

func (r *Registry) taken(name string) bool {
	return r.tables[name] != nil || r.views[name] != nil
}

// Create registers a table and makes sure it exists on the store.
func (r *Registry) Create(ctx context.Context, schema Schema) (*Table, error) {
	t, err := r.Register(schema)
	if err != nil {
		return nil, err
	}
	if err := r.ensureTable(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Table returns a registered table handle.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// View returns a registered view handle.
func (r *Registry) View(name string) (*ViewHandle, bool) {
	v, ok := r.views[name]
	return v, ok
}

// Ensure materialises every registered table and view, in registration order.
func (r *Registry) Ensure(ctx context.Context) error {
	if r.db == nil {
		return ErrDetached
	}
	for _, obj := range r.objects {
		switch o := obj.(type) {
		case *Table:
			if err := r.ensureTable(ctx, o); err != nil {
				return err
			}
		case *ViewHandle:
			if _, err := r.db.ExecContext(ctx, r.dialect.CreateView(o.view)); err != nil {
				return fmt.Errorf("failed to create view %s: %w", o.Name(), err)
			}
		}
	}
	return nil
}

func (r *Registry) ensureTable(ctx context.Context, t *Table) error {
	if r.db == nil {
		return ErrDetached
	}
	existing, found, err := r.dialect.Columns(ctx, r.db, t.Name())
	if err != nil {
		return err
	}
	if found {
		return checkShape(r.dialect, t.schema, existing)
	}
	if _, err := r.db.ExecContext(ctx, r.dialect.CreateTable(t.schema)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name(), err)
	}
	return nil
}

func checkShape(d Dialect, s *Schema, existing []ExistingColumn) error {
	var names, primary []string
	live := make(map[string]ExistingColumn, len(existing))
	for _, c := range existing {
		names = append(names, c.Name)
		live[c.Name] = c
		if c.Primary {
			primary = append(primary, c.Name)
		}
	}
	declared := s.ColumnNames()
	declaredPK := s.PrimaryKey()

	var mismatched []string
	for _, c := range s.Columns {
		got, ok := live[c.Name]
		if !ok {
			continue
		}
		want := d.Expect(c)
		if got.Type != want.Type || got.NotNull != want.NotNull {
			mismatched = append(mismatched, fmt.Sprintf("%s is %s, declared %s",
				c.Name, describeColumn(got), describeColumn(want)))
		}
	}
	if sameSet(declared, names) && sameSet(declaredPK, primary) && len(mismatched) == 0 {
		return nil
	}
	return &SchemaConflictError{
		Table:           s.Name,
		Declared:        declared,
		Existing:        names,
		DeclaredPrimary: declaredPK,
		ExistingPrimary: primary,
		Mismatched:      mismatched,
	}
}

func describeColumn(c ExistingColumn) string {
	if c.NotNull {
		return c.Type + " NOT NULL"
	}
	return c.Type + " NULL"
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Transact runs fn inside a transaction; bind tables to it with Table.With.
func (r *Registry) Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if r.db == nil {
		return ErrDetached
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Describe returns the DDL for everything registered, in registration order.
func (r *Registry) Describe() string {
	var schemas []Schema
	var views []View
	for _, obj := range r.objects {
		switch o := obj.(type) {
		case *Table:
			schemas = append(schemas, *o.schema)
		case *ViewHandle:
			views = append(views, *o.view)
		}
	}
	return DescribeSchema(r.dialect, schemas, views)
}

// DescribeSchema renders the creation statements for the given schemas and
// views in the dialect's DDL. It performs no I/O.
func DescribeSchema(d Dialect, schemas []Schema, views []View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s schema\n", d.Name())
	for i := range schemas {
		b.WriteString("\n")
		b.WriteString(d.CreateTable(&schemas[i]))
		b.WriteString("\n")
	}
	for i := range views {
		b.WriteString("\n")
		b.WriteString(d.CreateView(&views[i]))
		b.WriteString("\n")
	}
	return b.String()
}
