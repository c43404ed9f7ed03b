package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidFilter    = errors.New("filter column is not part of the billing schema")
	ErrUnknownColumn    = errors.New("requested column is not part of the billing schema")
	ErrStoreUnavailable = errors.New("columnar store unavailable")
)

// IngestionError reports that both conversion attempts for an upload failed.
// The accelerated and fallback reasons are both retained so the caller can
// record a meaningful failure message.
type IngestionError struct {
	UploadID          int64
	AcceleratedReason string
	FallbackReason    string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed for upload %d: accelerated: %s; fallback: %s",
		e.UploadID, e.AcceleratedReason, e.FallbackReason)
}
