// Package ingest converts raw billing CSV extracts into columnar datasets
// and registers the per-upload views the query operations read from.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cspdata/billing-engine/pkg/adapters/columnstore"
	"github.com/cspdata/billing-engine/pkg/apperrors"
	"github.com/cspdata/billing-engine/pkg/config"
	"github.com/cspdata/billing-engine/pkg/logging"
	sqlbuilder "github.com/cspdata/billing-engine/pkg/sql"
)

// Stats summarizes one ingested dataset.
type Stats struct {
	UploadID     int64      `json:"upload_id"`
	RowCount     int64      `json:"row_count"`
	PricingTotal float64    `json:"pricing_total"`
	BillingTotal float64    `json:"billing_total"`
	UsageStart   *time.Time `json:"usage_start"`
	UsageEnd     *time.Time `json:"usage_end"`
	Path         string     `json:"path"`
	// Checksum is the xxh3 hash of the raw CSV, hex encoded. Empty when the
	// tolerant fallback produced the dataset (the raw bytes are not
	// re-scanned there).
	Checksum string `json:"checksum,omitempty"`
	// Fallback is true when the tolerant conversion path produced the
	// dataset.
	Fallback bool `json:"fallback"`
}

// Pipeline converts CSVs into parquet datasets, one per upload id, and
// keeps the engine's views in sync. Safe for concurrent use across distinct
// upload ids; callers serialize operations on the same id.
type Pipeline struct {
	store     columnstore.Store
	warehouse config.WarehouseConfig
	ingest    config.IngestConfig
	logger    *zap.Logger
}

// NewPipeline creates an ingestion pipeline over the given store.
func NewPipeline(store columnstore.Store, warehouse config.WarehouseConfig, ingest config.IngestConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		warehouse: warehouse,
		ingest:    ingest,
		logger:    logger,
	}
}

// Ingest converts the CSV at csvPath into the columnar dataset for
// uploadID and registers its view. The conversion is attempted once on the
// accelerated path and once on the tolerant fallback; if both fail the
// returned error is an *apperrors.IngestionError carrying both reasons.
//
// Replacement of an existing dataset is atomic: the previous file is only
// overwritten after the new one is confirmed readable, and the view is
// re-pointed in a single CREATE OR REPLACE.
func (p *Pipeline) Ingest(ctx context.Context, csvPath string, uploadID int64) (*Stats, error) {
	runID := uuid.NewString()
	log := p.logger.With(
		zap.Int64("upload_id", uploadID),
		zap.String("run_id", runID),
	)

	finalPath := p.warehouse.DatasetPath(uploadID)
	tmpPath := filepath.Join(p.warehouse.Dir, fmt.Sprintf("upload_%d.%s.parquet.tmp", uploadID, runID))
	defer os.Remove(tmpPath)

	stats := &Stats{UploadID: uploadID, Path: finalPath}

	accelerated, accErr := convertAccelerated(csvPath, tmpPath, p.ingest.RowGroupSize)
	if accErr != nil {
		log.Warn("Accelerated conversion failed, falling back to tolerant scan",
			zap.String("error", logging.SanitizeError(accErr)),
		)
		os.Remove(tmpPath)

		if fbErr := p.convertFallback(ctx, csvPath, tmpPath); fbErr != nil {
			return nil, &apperrors.IngestionError{
				UploadID:          uploadID,
				AcceleratedReason: accErr.Error(),
				FallbackReason:    fbErr.Error(),
			}
		}
		stats.Fallback = true
	} else {
		stats.Checksum = fmt.Sprintf("%016x", accelerated.Checksum)
	}

	// Readability probe before the new file replaces the old one.
	if _, err := p.store.Query(ctx, fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", pathLiteral(tmpPath))); err != nil {
		return nil, fmt.Errorf("converted dataset unreadable: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("replace dataset: %w", err)
	}

	if err := p.loadStats(ctx, finalPath, stats); err != nil {
		return nil, err
	}

	if err := p.registerView(ctx, uploadID, finalPath); err != nil {
		return nil, err
	}

	log.Info("Ingested upload",
		zap.Int64("rows", stats.RowCount),
		zap.Bool("fallback", stats.Fallback),
		zap.Float64("pricing_total", stats.PricingTotal),
	)
	return stats, nil
}

// Delete removes an upload's view and backing file. Missing view or file is
// not an error; delete is idempotent.
func (p *Pipeline) Delete(ctx context.Context, uploadID int64) error {
	if err := p.store.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", sqlbuilder.ViewName(uploadID))); err != nil {
		return fmt.Errorf("drop view for upload %d: %w", uploadID, err)
	}
	if err := os.Remove(p.warehouse.DatasetPath(uploadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove dataset for upload %d: %w", uploadID, err)
	}
	p.logger.Info("Deleted upload dataset", zap.Int64("upload_id", uploadID))
	return nil
}

// convertFallback runs the tolerant engine-native scan: headers detected,
// columns unified by name, malformed rows skipped rather than failing the
// whole file, every field kept as text.
func (p *Pipeline) convertFallback(ctx context.Context, csvPath, outPath string) error {
	copySQL := fmt.Sprintf(`COPY (
		SELECT *
		FROM read_csv_auto('%s',
			header=true,
			union_by_name=true,
			ignore_errors=true,
			all_varchar=true,
			timestampformat='%%Y-%%m-%%d',
			sample_size=%d)
	) TO '%s' (FORMAT 'parquet', COMPRESSION 'zstd')`,
		pathLiteral(csvPath), p.ingest.SampleSize, pathLiteral(outPath))

	if err := p.store.Exec(ctx, copySQL); err != nil {
		return fmt.Errorf("tolerant csv scan: %w", err)
	}
	return nil
}

// loadStats fills row count, pretax totals, and the observed usage range
// from the written dataset. Uncastable numeric and date values are excluded
// by TRY_CAST rather than failing the scan.
func (p *Pipeline) loadStats(ctx context.Context, path string, stats *Stats) error {
	statsSQL := fmt.Sprintf(`SELECT
		COUNT(*) AS row_count,
		COALESCE(SUM(TRY_CAST(PricingPreTaxTotal AS DOUBLE)), 0) AS pricing_total,
		COALESCE(SUM(TRY_CAST(BillingPreTaxTotal AS DOUBLE)), 0) AS billing_total,
		MIN(TRY_CAST(COALESCE(UsageDate, ChargeStartDate) AS DATE)) AS usage_start,
		MAX(TRY_CAST(COALESCE(UsageDate, ChargeEndDate) AS DATE)) AS usage_end
	FROM read_parquet('%s')`, pathLiteral(path))

	result, err := p.store.Query(ctx, statsSQL)
	if err != nil {
		return fmt.Errorf("dataset statistics: %w", err)
	}
	if len(result.Rows) == 0 {
		return fmt.Errorf("dataset statistics returned no rows")
	}

	row := result.Rows[0]
	stats.RowCount = asInt64(row["row_count"])
	stats.PricingTotal = asFloat64(row["pricing_total"])
	stats.BillingTotal = asFloat64(row["billing_total"])
	stats.UsageStart = asTime(row["usage_start"])
	stats.UsageEnd = asTime(row["usage_end"])
	return nil
}

// registerView points the upload's view at the written dataset. CREATE OR
// REPLACE swaps atomically, so a concurrent reader sees either the old or
// the new dataset, never neither.
func (p *Pipeline) registerView(ctx context.Context, uploadID int64, path string) error {
	viewSQL := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet('%s')",
		sqlbuilder.ViewName(uploadID), pathLiteral(path))
	if err := p.store.Exec(ctx, viewSQL); err != nil {
		return fmt.Errorf("register view for upload %d: %w", uploadID, err)
	}
	return nil
}

// pathLiteral prepares a filesystem path for use as a SQL string literal.
// The engine's read functions take literals, not bound parameters, so any
// single quote is doubled.
func pathLiteral(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), "'", "''")
}

func asInt64(v any) int64 {
	switch value := v.(type) {
	case int64:
		return value
	case int32:
		return int64(value)
	case int:
		return int64(value)
	case uint64:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return 0
	}
}

func asTime(v any) *time.Time {
	if t, ok := v.(time.Time); ok {
		return &t
	}
	return nil
}
