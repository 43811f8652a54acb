package retry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrContended is returned by Optimistic once the attempt budget is exhausted
// without a successful conditional write. No mutation has been applied; the
// caller may resubmit the operation.
var ErrContended = errors.New("conditional write contended")

// DefaultOptimisticAttempts bounds optimistic read-compute-commit loops.
const DefaultOptimisticAttempts = 3

// Optimistic runs a lock-free read/compute/conditional-write loop.
//
// Each attempt calls read to take a fresh snapshot, then commit to apply a
// mutation whose precondition is that the snapshot is still current. commit
// reports false when the precondition failed (someone else committed first),
// in which case the computed mutation is discarded and the loop re-reads.
// Any error from read or commit is terminal and aborts the loop immediately.
//
// On success the committed snapshot is returned so the caller can run
// settlement steps derived from it.
func Optimistic[S any](ctx context.Context, logger *zap.Logger, operation string, maxAttempts int,
	read func(ctx context.Context) (S, error),
	commit func(ctx context.Context, snapshot S) (bool, error),
) (S, error) {
	var zero S
	if maxAttempts <= 0 {
		maxAttempts = DefaultOptimisticAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("optimistic %s cancelled: %w", operation, err)
		}

		snapshot, err := read(ctx)
		if err != nil {
			return zero, err
		}

		ok, err := commit(ctx, snapshot)
		if err != nil {
			return zero, err
		}
		if ok {
			if attempt > 1 {
				logger.Debug("Conditional write succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return snapshot, nil
		}

		logger.Debug("Conditional write lost the race, re-reading",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts))
	}

	return zero, fmt.Errorf("%s after %d attempts: %w", operation, maxAttempts, ErrContended)
}
