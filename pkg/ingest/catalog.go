package ingest

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/cspdata/billing-engine/pkg/apperrors"
)

// DatasetInfo describes one dataset present in the warehouse directory.
// Derived entirely from the filesystem; no upload metadata is persisted by
// this module.
type DatasetInfo struct {
	UploadID   int64     `json:"upload_id"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

var datasetNamePattern = regexp.MustCompile(`^upload_(\d+)\.parquet$`)

// ListDatasets enumerates the datasets currently in the warehouse, ordered
// by upload id. Temp files from in-flight conversions are skipped.
func (p *Pipeline) ListDatasets() ([]DatasetInfo, error) {
	entries, err := os.ReadDir(p.warehouse.Dir)
	if err != nil {
		return nil, fmt.Errorf("read warehouse dir: %w", err)
	}

	datasets := make([]DatasetInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := datasetNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		uploadID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat dataset %s: %w", entry.Name(), err)
		}
		datasets = append(datasets, DatasetInfo{
			UploadID:   uploadID,
			Path:       p.warehouse.DatasetPath(uploadID),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(datasets, func(i, j int) bool { return datasets[i].UploadID < datasets[j].UploadID })
	return datasets, nil
}

// DescribeDataset recomputes the statistics of an already-ingested dataset
// from its backing file. Returns apperrors.ErrNotFound when no dataset
// exists for the id.
func (p *Pipeline) DescribeDataset(ctx context.Context, uploadID int64) (*Stats, error) {
	path := p.warehouse.DatasetPath(uploadID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("dataset for upload %d: %w", uploadID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("stat dataset for upload %d: %w", uploadID, err)
	}

	stats := &Stats{UploadID: uploadID, Path: path}
	if err := p.loadStats(ctx, path, stats); err != nil {
		return nil, err
	}
	return stats, nil
}
