package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WAREHOUSE_DIR", filepath.Join(dir, "warehouse"))
	t.Setenv("WAREHOUSE_DATABASE_PATH", filepath.Join(dir, "warehouse", "billing.duckdb"))

	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"), "test")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, "1.12", cfg.Financial.DefaultVAT)
	assert.Equal(t, int64(134217728), cfg.Ingest.RowGroupSize)
	assert.Equal(t, -1, cfg.Ingest.SampleSize)
	assert.Positive(t, cfg.Warehouse.Threads)

	// Warehouse directories are created eagerly.
	info, err := os.Stat(cfg.Warehouse.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
env: production
warehouse:
  dir: ` + filepath.Join(dir, "wh") + `
  database_path: ` + filepath.Join(dir, "wh", "billing.duckdb") + `
  threads: 4
financial:
  default_vat: "1.21"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("FINANCIAL_DEFAULT_VAT", "1.25")

	cfg, err := Load(path, "dev")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, 4, cfg.Warehouse.Threads)
	// Environment wins over YAML.
	assert.Equal(t, "1.25", cfg.Financial.DefaultVAT)
}

func TestDatasetPath(t *testing.T) {
	wh := WarehouseConfig{Dir: "data/warehouse"}
	assert.Equal(t, filepath.Join("data", "warehouse", "upload_42.parquet"), wh.DatasetPath(42))
}
