package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for billing-engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Warehouse holds the columnar datasets and the engine database file.
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// Ingest tunes the CSV conversion pipeline.
	Ingest IngestConfig `yaml:"ingest"`

	// Financial defaults applied when a caller omits or zeroes a parameter.
	Financial FinancialConfig `yaml:"financial"`
}

// WarehouseConfig holds the on-disk layout of the columnar store.
type WarehouseConfig struct {
	// Dir is where parquet datasets are written, one file per upload id.
	Dir string `yaml:"dir" env:"WAREHOUSE_DIR" env-default:"data/warehouse"`
	// DatabasePath is the embedded engine's database file.
	DatabasePath string `yaml:"database_path" env:"WAREHOUSE_DATABASE_PATH" env-default:"data/warehouse/billing.duckdb"`
	// Threads caps the engine's worker threads. 0 means one per CPU.
	Threads int `yaml:"threads" env:"WAREHOUSE_THREADS" env-default:"0"`
}

// IngestConfig tunes the CSV-to-parquet conversion.
type IngestConfig struct {
	// RowGroupSize is the parquet row group size, in bytes, for the
	// accelerated writer.
	RowGroupSize int64 `yaml:"row_group_size" env:"INGEST_ROW_GROUP_SIZE" env-default:"134217728"`
	// SampleSize is how many rows the tolerant fallback scan samples for
	// header detection. -1 samples the whole file.
	SampleSize int `yaml:"sample_size" env:"INGEST_SAMPLE_SIZE" env-default:"-1"`
}

// FinancialConfig holds financial transform defaults.
type FinancialConfig struct {
	// DefaultVAT is the VAT multiplier used when the caller supplies none.
	DefaultVAT string `yaml:"default_vat" env:"FINANCIAL_DEFAULT_VAT" env-default:"1.12"`
}

// Load reads configuration from path with environment variable overrides.
// If the file does not exist, defaults plus environment variables are used.
// The version parameter is injected at build time and set on the returned
// Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if cfg.Warehouse.Threads <= 0 {
		cfg.Warehouse.Threads = runtime.NumCPU()
	}

	if err := cfg.ensureDirs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ensureDirs creates the warehouse directories so the first ingestion does
// not have to.
func (c *Config) ensureDirs() error {
	for _, dir := range []string{c.Warehouse.Dir, filepath.Dir(c.Warehouse.DatabasePath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatasetPath returns the parquet path for an upload id.
func (c *WarehouseConfig) DatasetPath(uploadID int64) string {
	return filepath.Join(c.Dir, fmt.Sprintf("upload_%d.parquet", uploadID))
}
