package columnstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"

	"github.com/cspdata/billing-engine/pkg/apperrors"
	"github.com/cspdata/billing-engine/pkg/logging"
)

// DuckDB is the file-backed columnar engine behind every dataset and view.
type DuckDB struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the engine database file and prepares the
// uploads schema. threads caps the engine's worker threads; 0 leaves the
// engine default.
func Open(ctx context.Context, databasePath string, threads int, logger *zap.Logger) (*DuckDB, error) {
	dsn := databasePath
	if threads > 0 {
		dsn = fmt.Sprintf("%s?threads=%d", databasePath, threads)
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrStoreUnavailable, logging.SanitizeError(err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s", apperrors.ErrStoreUnavailable, logging.SanitizeError(err))
	}

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS uploads"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare uploads schema: %w", err)
	}

	logger.Info("Opened columnar store",
		zap.String("path", databasePath),
		zap.Int("threads", threads),
	)

	return &DuckDB{db: db, logger: logger}, nil
}

// Query runs a row-returning statement on a dedicated connection, which is
// released before returning.
func (s *DuckDB) Query(ctx context.Context, sqlQuery string, args ...any) (*QueryResult, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrStoreUnavailable, logging.SanitizeError(err))
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{Columns: columns, Rows: resultRows}, nil
}

// Exec runs a statement that returns no rows on a dedicated connection.
func (s *DuckDB) Exec(ctx context.Context, sqlQuery string, args ...any) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrStoreUnavailable, logging.SanitizeError(err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, sqlQuery, args...); err != nil {
		return fmt.Errorf("statement failed: %w", err)
	}
	return nil
}

// Close closes the engine database.
func (s *DuckDB) Close() error {
	return s.db.Close()
}

// normalizeValue maps driver-specific scan types onto plain Go values so
// results serialize the same regardless of which path wrote the dataset.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	default:
		return v
	}
}

// Ensure DuckDB implements Store at compile time.
var _ Store = (*DuckDB)(nil)
