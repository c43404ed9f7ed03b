// Package columnstore wraps the embedded analytical engine behind a small
// execution interface. Query operations and the ingestion pipeline depend on
// the interface, not the engine.
package columnstore

import "context"

// QueryResult contains the results of a query against the columnar engine.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Store executes SQL against the columnar engine. Implementations acquire a
// connection per call and release it before returning; nothing is shared
// implicitly across callers.
type Store interface {
	// Query runs a statement that returns rows, with bound positional
	// parameters.
	Query(ctx context.Context, sqlQuery string, args ...any) (*QueryResult, error)

	// Exec runs a DDL or utility statement that returns no rows.
	Exec(ctx context.Context, sqlQuery string, args ...any) error

	// Close releases the engine.
	Close() error
}
