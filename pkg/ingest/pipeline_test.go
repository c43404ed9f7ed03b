package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cspdata/billing-engine/pkg/adapters/columnstore"
	"github.com/cspdata/billing-engine/pkg/apperrors"
	"github.com/cspdata/billing-engine/pkg/config"
	"github.com/cspdata/billing-engine/pkg/schema"
)

// mockStore is a configurable in-memory stand-in for the columnar engine.
type mockStore struct {
	queries []string
	execs   []string

	queryFunc func(sqlQuery string) (*columnstore.QueryResult, error)
	execFunc  func(sqlQuery string) error
}

func (m *mockStore) Query(_ context.Context, sqlQuery string, _ ...any) (*columnstore.QueryResult, error) {
	m.queries = append(m.queries, sqlQuery)
	if m.queryFunc != nil {
		return m.queryFunc(sqlQuery)
	}
	return &columnstore.QueryResult{}, nil
}

func (m *mockStore) Exec(_ context.Context, sqlQuery string, _ ...any) error {
	m.execs = append(m.execs, sqlQuery)
	if m.execFunc != nil {
		return m.execFunc(sqlQuery)
	}
	return nil
}

func (m *mockStore) Close() error { return nil }

func statsRow() *columnstore.QueryResult {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
	return &columnstore.QueryResult{
		Columns: []string{"row_count", "pricing_total", "billing_total", "usage_start", "usage_end"},
		Rows: []map[string]any{{
			"row_count":     int64(3),
			"pricing_total": 30.0,
			"billing_total": 33.6,
			"usage_start":   start,
			"usage_end":     end,
		}},
	}
}

func newTestPipeline(t *testing.T, store columnstore.Store) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	warehouse := config.WarehouseConfig{Dir: dir, DatabasePath: filepath.Join(dir, "billing.duckdb")}
	ingest := config.IngestConfig{RowGroupSize: 128 * 1024 * 1024, SampleSize: -1}
	return NewPipeline(store, warehouse, ingest, zap.NewNop()), dir
}

// writeValidCSV writes a well-formed 3-row extract, header in schema order,
// with one uncastable pricing value.
func writeValidCSV(t *testing.T, dir string) string {
	t.Helper()
	rows := [][]string{schema.Columns}
	for _, pricing := range []string{"10.00", "20.00", "bad"} {
		row := make([]string, len(schema.Columns))
		for i, col := range schema.Columns {
			switch col {
			case "CustomerName":
				row[i] = "Contoso"
			case "PricingPreTaxTotal":
				row[i] = pricing
			case "UsageDate":
				row[i] = "2024-05-01"
			}
		}
		rows = append(rows, row)
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, ","))
		b.WriteString("\n")
	}
	path := filepath.Join(dir, "extract.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestIngest_AcceleratedPath(t *testing.T) {
	store := &mockStore{
		queryFunc: func(sqlQuery string) (*columnstore.QueryResult, error) {
			if strings.Contains(sqlQuery, "row_count") {
				return statsRow(), nil
			}
			// readability probe
			return &columnstore.QueryResult{Rows: []map[string]any{{"count": int64(3)}}}, nil
		},
	}
	pipeline, dir := newTestPipeline(t, store)
	csvPath := writeValidCSV(t, dir)

	stats, err := pipeline.Ingest(context.Background(), csvPath, 7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), stats.UploadID)
	assert.Equal(t, int64(3), stats.RowCount)
	assert.Equal(t, 30.0, stats.PricingTotal)
	assert.False(t, stats.Fallback)
	assert.NotEmpty(t, stats.Checksum)
	require.NotNil(t, stats.UsageStart)
	assert.Equal(t, "2024-05-01", stats.UsageStart.Format("2006-01-02"))

	// The dataset landed at its final path.
	_, statErr := os.Stat(filepath.Join(dir, "upload_7.parquet"))
	assert.NoError(t, statErr)

	// No fallback COPY was issued; the only Exec is the view registration.
	require.Len(t, store.execs, 1)
	assert.Contains(t, store.execs[0], "CREATE OR REPLACE VIEW uploads.upload_7")
	assert.Contains(t, store.execs[0], "upload_7.parquet")
}

func TestIngest_ProbeRunsBeforeReplace(t *testing.T) {
	var sawFinalAtProbe bool
	store := &mockStore{}
	pipeline, dir := newTestPipeline(t, store)
	finalPath := filepath.Join(dir, "upload_3.parquet")

	store.queryFunc = func(sqlQuery string) (*columnstore.QueryResult, error) {
		if !strings.Contains(sqlQuery, "row_count") {
			// At probe time the previous dataset must still be intact.
			_, err := os.Stat(finalPath)
			sawFinalAtProbe = err == nil
		}
		return statsRow(), nil
	}

	// Simulate a previous dataset for the same upload id.
	require.NoError(t, os.WriteFile(finalPath, []byte("old"), 0o644))
	csvPath := writeValidCSV(t, dir)

	_, err := pipeline.Ingest(context.Background(), csvPath, 3)
	require.NoError(t, err)
	assert.True(t, sawFinalAtProbe)

	// Replaced: the old placeholder content is gone.
	content, readErr := os.ReadFile(finalPath)
	require.NoError(t, readErr)
	assert.NotEqual(t, "old", string(content))
}

func TestIngest_FallbackPath(t *testing.T) {
	store := &mockStore{
		queryFunc: func(sqlQuery string) (*columnstore.QueryResult, error) {
			return statsRow(), nil
		},
		execFunc: func(sqlQuery string) error {
			if strings.Contains(sqlQuery, "COPY") {
				// The engine-native scan "writes" the dataset.
				return nil
			}
			return nil
		},
	}
	pipeline, dir := newTestPipeline(t, store)

	// Header missing most schema columns: accelerated path must refuse.
	csvPath := filepath.Join(dir, "weird.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("CustomerName,Total\nContoso,10\n"), 0o644))

	// The fallback COPY is mocked, so create the temp output it would have
	// written once the COPY statement is seen.
	store.execFunc = func(sqlQuery string) error {
		if strings.Contains(sqlQuery, "COPY") {
			tmp := tmpPathFromCopy(t, sqlQuery)
			return os.WriteFile(tmp, []byte("parquet"), 0o644)
		}
		return nil
	}

	stats, err := pipeline.Ingest(context.Background(), csvPath, 9)
	require.NoError(t, err)

	assert.True(t, stats.Fallback)
	assert.Empty(t, stats.Checksum)

	require.GreaterOrEqual(t, len(store.execs), 2)
	assert.Contains(t, store.execs[0], "read_csv_auto")
	assert.Contains(t, store.execs[0], "ignore_errors=true")
	assert.Contains(t, store.execs[0], "union_by_name=true")
	assert.Contains(t, store.execs[0], "all_varchar=true")
	assert.Contains(t, store.execs[0], "timestampformat='%Y-%m-%d'")
	assert.Contains(t, store.execs[len(store.execs)-1], "CREATE OR REPLACE VIEW uploads.upload_9")
}

// tmpPathFromCopy extracts the COPY target path from the statement.
func tmpPathFromCopy(t *testing.T, copySQL string) string {
	t.Helper()
	idx := strings.LastIndex(copySQL, "TO '")
	require.Greater(t, idx, 0)
	rest := copySQL[idx+len("TO '"):]
	end := strings.Index(rest, "'")
	require.Greater(t, end, 0)
	return rest[:end]
}

func TestIngest_BothPathsFail(t *testing.T) {
	store := &mockStore{
		execFunc: func(sqlQuery string) error {
			if strings.Contains(sqlQuery, "COPY") {
				return errors.New("malformed csv beyond recovery")
			}
			return nil
		},
	}
	pipeline, dir := newTestPipeline(t, store)

	csvPath := filepath.Join(dir, "broken.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("not,a,billing\nextract\n"), 0o644))

	_, err := pipeline.Ingest(context.Background(), csvPath, 4)
	require.Error(t, err)

	var ingestionErr *apperrors.IngestionError
	require.ErrorAs(t, err, &ingestionErr)
	assert.Equal(t, int64(4), ingestionErr.UploadID)
	assert.NotEmpty(t, ingestionErr.AcceleratedReason)
	assert.Contains(t, ingestionErr.FallbackReason, "malformed csv beyond recovery")
}

func TestDelete(t *testing.T) {
	store := &mockStore{}
	pipeline, dir := newTestPipeline(t, store)

	// Existing dataset removed along with its view.
	path := filepath.Join(dir, "upload_5.parquet")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	require.NoError(t, pipeline.Delete(context.Background(), 5))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	require.Len(t, store.execs, 1)
	assert.Equal(t, "DROP VIEW IF EXISTS uploads.upload_5", store.execs[0])

	// Deleting again is not an error.
	require.NoError(t, pipeline.Delete(context.Background(), 5))
}

func TestPathLiteral(t *testing.T) {
	assert.Equal(t, "data/o''brien.csv", pathLiteral(filepath.Join("data", "o'brien.csv")))
}
