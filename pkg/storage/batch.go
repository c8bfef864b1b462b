package storage

import (
	"context"
	"errors"
	"fmt"
)

// BatchError reports the sub-batches that failed during a batched write.
// Rows from the other sub-batches were still written.
type BatchError struct {
	Total  int // rows submitted
	Failed int // rows in rejected sub-batches
	Errs   []error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d rows rejected in %d sub-batches: %v",
		e.Failed, e.Total, len(e.Errs), errors.Join(e.Errs...))
}

func (e *BatchError) Unwrap() []error { return e.Errs }

// AllFailed is true when nothing was written.
func (e *BatchError) AllFailed() bool {
	return e.Failed == e.Total
}

// InsertInBatches splits records into sub-batches of size and writes each
// with insert. A failing sub-batch is reported to onError and skipped; the
// remaining sub-batches still run. It returns the number of rows written and
// a *BatchError when any sub-batch failed.
func InsertInBatches[T any](
	ctx context.Context,
	records []T,
	size int,
	insert func(ctx context.Context, batch []T) (int, error),
	onError func(offset, count int, err error),
) (int, error) {
	if size <= 0 {
		size = len(records)
	}

	written := 0
	var batchErr *BatchError

	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}

		n, err := insert(ctx, records[start:end])
		if err != nil {
			if batchErr == nil {
				batchErr = &BatchError{Total: len(records)}
			}
			batchErr.Failed += end - start
			batchErr.Errs = append(batchErr.Errs, fmt.Errorf("rows %d-%d: %w", start, end-1, err))
			if onError != nil {
				onError(start, end-start, err)
			}
			continue
		}
		written += n
	}

	if batchErr != nil {
		return written, batchErr
	}
	return written, nil
}
