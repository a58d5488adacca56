package idempotency

import (
	"context"
	"time"

	"brokerage-backend/logger"

	"go.uber.org/zap"
)

// Operation is the side-effecting mutation being deduplicated. It returns the
// serialized outcome that will be stored and replayed to duplicate callers.
type Operation func(ctx context.Context) ([]byte, error)

// Outcome is what Execute hands back: the result payload plus whether it was
// served from a prior completion instead of a fresh execution.
type Outcome struct {
	Result    []byte
	FromCache bool
}

// Executor wraps Store semantics around an arbitrary mutating operation,
// guaranteeing at most one execution per completed idempotency key.
//
// Policy for duplicates racing an in_progress reservation: fail fast with
// ErrOperationInProgress (HTTP 409) rather than polling. Callers retry.
type Executor struct {
	store Store
	log   *zap.Logger
}

func NewExecutor(store Store) *Executor {
	return &Executor{store: store, log: logger.Named("idempotency")}
}

// Execute runs op at most once for the given key. An empty key skips
// deduplication entirely, a deliberate fast path for callers that don't
// send an Idempotency-Key header.
func (e *Executor) Execute(ctx context.Context, key string, op Operation) (Outcome, error) {
	if key == "" {
		result, err := op(ctx)
		return Outcome{Result: result}, err
	}

	resv, err := e.store.Reserve(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if resv.InProgress {
		return Outcome{}, ErrOperationInProgress
	}
	if !resv.Reserved {
		return Outcome{Result: resv.Result, FromCache: true}, nil
	}

	result, opErr := op(ctx)
	if opErr != nil {
		if failErr := e.store.Fail(ctx, key, opErr); failErr != nil {
			e.log.Error("could not mark idempotency record failed",
				zap.String("key", key), zap.Error(failErr))
		}
		return Outcome{}, opErr
	}

	if compErr := e.store.Complete(ctx, key, result); compErr != nil {
		// The operation DID execute; the caller gets its result. The record
		// stays in_progress and will reject duplicates until an operator
		// intervenes, which is the safe failure mode for money movement.
		e.log.Error("could not complete idempotency record",
			zap.String("key", key), zap.Error(compErr))
	}
	return Outcome{Result: result}, nil
}

// StartSweeper purges expired terminal records every interval until ctx is
// cancelled. Backends with native TTL expiry make this a cheap no-op.
func StartSweeper(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	log := logger.Named("idempotency.sweeper")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.PurgeExpired(ctx)
				if err != nil {
					log.Warn("purge failed", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("purged expired records", zap.Int64("count", n))
				}
			}
		}
	}()
}
