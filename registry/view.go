package registry

import (
	"context"
	"iter"

	"github.com/jmoiron/sqlx"
)

// View is a read-only virtual table defined by a query over physical tables.
// Query is shared by both dialects unless MySQLQuery overrides it.
type View struct {
	Name       string
	Columns    []string
	Query      string
	MySQLQuery string
}

func (v *View) query(d Dialect) string {
	if _, ok := d.(MySQL); ok && v.MySQLQuery != "" {
		return v.MySQLQuery
	}
	return v.Query
}

// ViewHandle reads rows from a registered view.
type ViewHandle struct {
	view   *View
	scoped bool
	source
}

func (h *ViewHandle) Name() string { return h.view.Name }

func (h *ViewHandle) columns() []string { return h.view.Columns }

func (h *ViewHandle) hasColumn(name string) bool {
	for _, c := range h.view.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (h *ViewHandle) isScoped() bool { return h.scoped }

func (h *ViewHandle) queryWhere(ctx context.Context, filters Filters) (*sqlx.Rows, error) {
	return h.source.selectRows(ctx, h, filters)
}

// SelectWhere lazily yields the view rows matching filters.
func (h *ViewHandle) SelectWhere(ctx context.Context, filters Filters) iter.Seq2[Row, error] {
	return rowSeq(ctx, h, filters, scanRow)
}
