package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cspdata/billing-engine/pkg/adapters/columnstore"
	"github.com/cspdata/billing-engine/pkg/apperrors"
)

func TestListDatasets(t *testing.T) {
	store := &mockStore{}
	pipeline, dir := newTestPipeline(t, store)

	for _, name := range []string{
		"upload_2.parquet",
		"upload_10.parquet",
		"upload_3.abc.parquet.tmp", // in-flight temp, skipped
		"billing.duckdb",           // engine file, skipped
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	datasets, err := pipeline.ListDatasets()
	require.NoError(t, err)

	require.Len(t, datasets, 2)
	assert.Equal(t, int64(2), datasets[0].UploadID)
	assert.Equal(t, int64(10), datasets[1].UploadID)
	assert.Equal(t, int64(1), datasets[0].SizeBytes)
}

func TestDescribeDataset(t *testing.T) {
	store := &mockStore{
		queryFunc: func(sqlQuery string) (*columnstore.QueryResult, error) {
			return statsRow(), nil
		},
	}
	pipeline, dir := newTestPipeline(t, store)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upload_6.parquet"), []byte("x"), 0o644))

	stats, err := pipeline.DescribeDataset(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.RowCount)
	require.Len(t, store.queries, 1)
	assert.True(t, strings.Contains(store.queries[0], "upload_6.parquet"))
}

func TestDescribeDataset_NotFound(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &mockStore{})
	_, err := pipeline.DescribeDataset(context.Background(), 99)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
