package idempotency

import (
	"context"
	"errors"
)

var (
	// ErrOperationInProgress means another caller holds the reservation for
	// this key and hasn't finished. Surfaced to HTTP callers as 409.
	ErrOperationInProgress = errors.New("operation already in progress for this idempotency key")

	// ErrInvalidStateTransition is a programming error: completing or
	// failing a record that isn't in_progress. Logged loudly, never retried.
	ErrInvalidStateTransition = errors.New("invalid idempotency state transition")
)

const (
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Reservation is the outcome of an atomic check-and-create on a key.
// Exactly one of the three shapes applies:
//   - Reserved:   this caller owns the key and must run the operation.
//   - InProgress: someone else owns it and hasn't finished.
//   - neither:    the operation already completed; Result is the stored
//     outcome, byte-identical for every duplicate caller.
type Reservation struct {
	Reserved   bool
	InProgress bool
	Result     []byte
}

// Store maps idempotency keys to operation outcomes. Reserve must be atomic
// with respect to concurrent calls on the same key: a unique-constraint
// insert, a SetNX, or a mutexed map, never a read-then-write with a gap.
// Failed records are re-reservable so transient errors don't poison a key.
type Store interface {
	Reserve(ctx context.Context, key string) (Reservation, error)
	Complete(ctx context.Context, key string, result []byte) error
	Fail(ctx context.Context, key string, cause error) error

	// PurgeExpired evicts completed/failed records past the store's TTL.
	// in_progress records are never purged.
	PurgeExpired(ctx context.Context) (int64, error)
}
