package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConstraintViolation is returned when a write breaks a required,
	// primary key or foreign key constraint.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrUnknownColumn is returned for filters or values naming a column the
	// table does not declare.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrUnknownBackend is returned by Open for an unsupported storage type.
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrDetached is returned when a registry built without a connection is
	// asked to touch the store.
	ErrDetached = errors.New("registry has no connection")
)

// SchemaConflictError reports an existing table whose shape differs from the
// declared schema.
type SchemaConflictError struct {
	Table           string
	Declared        []string
	Existing        []string
	DeclaredPrimary []string
	ExistingPrimary []string
	// Mismatched lists columns present on both sides whose type or
	// nullability differs.
	Mismatched []string
}

func (e *SchemaConflictError) Error() string {
	msg := fmt.Sprintf(
		"schema conflict on table %s: declared columns (%s) primary (%s), existing columns (%s) primary (%s)",
		e.Table,
		strings.Join(e.Declared, ", "), strings.Join(e.DeclaredPrimary, ", "),
		strings.Join(e.Existing, ", "), strings.Join(e.ExistingPrimary, ", "),
	)
	if len(e.Mismatched) > 0 {
		msg += "; " + strings.Join(e.Mismatched, "; ")
	}
	return msg
}

func constraintf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, fmt.Sprintf(format, args...))
}
