// Package sql builds the parameterized SQL fragments shared by every
// analytical query operation. Column names are resolved through the billing
// schema allow-list before interpolation; values are always bound, never
// spliced into the statement text.
package sql

import (
	"fmt"
	"strings"

	"github.com/cspdata/billing-engine/pkg/apperrors"
	"github.com/cspdata/billing-engine/pkg/schema"
)

// Filter is one (column, value) equality constraint. Order is preserved so
// the emitted predicate and its argument list stay aligned.
type Filter struct {
	Column string
	Value  string
}

// Predicate is a composed WHERE clause and its bound arguments. Where is
// empty when no constraints were given, matching all rows.
type Predicate struct {
	Where string
	Args  []any
}

// ViewName returns the queryable view bound to an upload id. The id is an
// internally generated integer, formatted rather than concatenated so no
// external text can reach the identifier position.
func ViewName(uploadID int64) string {
	return fmt.Sprintf("uploads.upload_%d", uploadID)
}

// BuildPredicate turns an optional free-text search term and ordered column
// constraints into a predicate reused verbatim by listing, summary,
// grouping, and detail queries.
//
// A search term matches case-insensitive substring containment on
// CustomerName or ProductName. Each column constraint is case-insensitive
// equality on an allow-listed column. Clauses are AND-joined.
func BuildPredicate(search string, filters []Filter) (Predicate, error) {
	var (
		clauses []string
		args    []any
	)

	if search != "" {
		clauses = append(clauses,
			"(lower(CustomerName) LIKE '%' || lower(?) || '%' OR lower(ProductName) LIKE '%' || lower(?) || '%')")
		args = append(args, search, search)
	}

	for _, f := range filters {
		column, ok := schema.Resolve(f.Column)
		if !ok {
			return Predicate{}, fmt.Errorf("filter column %q: %w", f.Column, apperrors.ErrInvalidFilter)
		}
		clauses = append(clauses, fmt.Sprintf("lower(%s) = lower(?)", column))
		args = append(args, f.Value)
	}

	if len(clauses) == 0 {
		return Predicate{}, nil
	}
	return Predicate{
		Where: " WHERE " + strings.Join(clauses, " AND "),
		Args:  args,
	}, nil
}

// And returns the predicate extended with one more raw clause that takes no
// arguments. Used for fixed conditions like the non-empty invoice check.
func (p Predicate) And(clause string) Predicate {
	if p.Where == "" {
		return Predicate{Where: " WHERE " + clause, Args: p.Args}
	}
	return Predicate{Where: p.Where + " AND " + clause, Args: p.Args}
}
