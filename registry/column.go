package registry

import (
	"fmt"
	"strings"
)

// AppColumn is the discriminator column that scopes a table to one deployment.
const AppColumn = "app"

// ColumnType is the storage-independent type of a column.
type ColumnType int

const (
	ShortString ColumnType = iota
	Text
	Snowflake
	Int
	Bool
	Timestamp
)

func (t ColumnType) String() string {
	switch t {
	case ShortString:
		return "SHORTSTRING"
	case Text:
		return "TEXT"
	case Snowflake:
		return "SNOWFLAKE"
	case Int:
		return "INT"
	case Bool:
		return "BOOL"
	case Timestamp:
		return "TIMESTAMP"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes one column of a table.
type Column struct {
	Name          string
	Type          ColumnType
	Primary       bool
	Required      bool
	AutoIncrement bool
	Default       any
}

// ReferenceAction is what happens to child rows when the parent is deleted.
type ReferenceAction int

const (
	Restrict ReferenceAction = iota
	Cascade
)

func (a ReferenceAction) String() string {
	if a == Cascade {
		return "CASCADE"
	}
	return "RESTRICT"
}

// ForeignKey links local columns to columns of another table.
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   ReferenceAction
}

// Schema is the declarative description of a table.
type Schema struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// NewSchema builds a schema from columns and foreign keys in declaration order.
func NewSchema(name string, parts ...any) Schema {
	s := Schema{Name: name}
	for _, p := range parts {
		switch v := p.(type) {
		case Column:
			s.Columns = append(s.Columns, v)
		case ForeignKey:
			s.ForeignKeys = append(s.ForeignKeys, v)
		default:
			panic(fmt.Sprintf("registry: unsupported schema part %T", p))
		}
	}
	return s
}

// PrimaryKey returns the names of the primary key columns, in order.
func (s *Schema) PrimaryKey() []string {
	var pk []string
	for _, c := range s.Columns {
		if c.Primary {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// Column looks a column up by name.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns every column name in declaration order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Scoped reports whether rows of this table carry the app discriminator.
func (s *Schema) Scoped() bool {
	_, ok := s.Column(AppColumn)
	return ok
}

// Validate checks the schema for internal consistency.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema %s has no columns", s.Name)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema %s has an unnamed column", s.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("schema %s declares column %s twice", s.Name, c.Name)
		}
		seen[c.Name] = true
		if c.AutoIncrement {
			if c.Type != Int && c.Type != Snowflake {
				return fmt.Errorf("schema %s: auto increment column %s must be an integer", s.Name, c.Name)
			}
			if !c.Primary || len(s.PrimaryKey()) != 1 {
				return fmt.Errorf("schema %s: auto increment column %s must be the sole primary key", s.Name, c.Name)
			}
		}
	}
	for _, fk := range s.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
			return fmt.Errorf("schema %s: foreign key to %s has mismatched columns", s.Name, fk.RefTable)
		}
		for _, col := range fk.Columns {
			if !seen[col] {
				return fmt.Errorf("schema %s: foreign key column %s does not exist", s.Name, col)
			}
		}
	}
	return nil
}

// Cols splits a comma separated column list, for declaring composite keys.
func Cols(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
