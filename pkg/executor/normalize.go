package executor

import (
	"fmt"

	"github.com/Sternrassler/batchsync/pkg/batch"
)

// Normalize validates a raw handler result and converts it into a Result.
//
// Required: Items, HasMore and LastCursor present; LastCursor non-empty when
// HasMore is true; every item error nil or non-empty; counts non-negative.
// Missing processed/failed counts are derived from the items.
func Normalize(raw *batch.BatchResult) (*batch.Result, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: result is nil", batch.ErrMalformedResult)
	}
	if raw.Items == nil {
		return nil, fmt.Errorf("%w: missing items", batch.ErrMalformedResult)
	}
	if raw.HasMore == nil {
		return nil, fmt.Errorf("%w: missing has_more", batch.ErrMalformedResult)
	}
	if raw.LastCursor == nil {
		return nil, fmt.Errorf("%w: missing last_id", batch.ErrMalformedResult)
	}
	if *raw.HasMore && *raw.LastCursor == "" {
		return nil, fmt.Errorf("%w: has_more is set but last_id is empty", batch.ErrMalformedResult)
	}

	processed, failed := 0, 0
	for i, item := range raw.Items {
		if item.Error != nil && *item.Error == "" {
			return nil, fmt.Errorf("%w: item %d (%q) has an empty error", batch.ErrMalformedResult, i, item.ID)
		}
		if item.HasFailed() {
			failed++
		} else {
			processed++
		}
	}

	if raw.ProcessedCount != nil {
		if *raw.ProcessedCount < 0 {
			return nil, fmt.Errorf("%w: negative processed count %d", batch.ErrMalformedResult, *raw.ProcessedCount)
		}
		processed = *raw.ProcessedCount
	}
	if raw.FailedCount != nil {
		if *raw.FailedCount < 0 {
			return nil, fmt.Errorf("%w: negative failed count %d", batch.ErrMalformedResult, *raw.FailedCount)
		}
		failed = *raw.FailedCount
	}

	estimated := 0
	if raw.EstimatedTotal != nil && *raw.EstimatedTotal > 0 {
		estimated = *raw.EstimatedTotal
	}

	items := make([]batch.Item, len(raw.Items))
	copy(items, raw.Items)

	return &batch.Result{
		Items:          items,
		HasMore:        *raw.HasMore,
		LastCursor:     *raw.LastCursor,
		EstimatedTotal: estimated,
		Processed:      processed,
		Failed:         failed,
	}, nil
}
