package sql

import (
	"fmt"

	"github.com/cspdata/billing-engine/pkg/apperrors"
	"github.com/cspdata/billing-engine/pkg/schema"
)

// BuildSelectColumns validates a caller-requested column subset for the
// paginated listing. Names are resolved through the schema allow-list and
// any name colliding with a computed financial output column is stripped,
// so the computed columns appended later never clash with stored ones.
//
// An empty request, or a request left empty after stripping, selects every
// column.
func BuildSelectColumns(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return []string{"*"}, nil
	}

	var columns []string
	for _, name := range requested {
		if schema.IsComputed(name) {
			continue
		}
		column, ok := schema.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("column %q: %w", name, apperrors.ErrUnknownColumn)
		}
		columns = append(columns, column)
	}

	if len(columns) == 0 {
		return []string{"*"}, nil
	}
	return columns, nil
}
