package keys

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Persistence.Load when no key set has ever been
// saved. First boot bootstraps an empty store; any other load failure
// propagates.
var ErrNotFound = errors.New("key set not found")

// Persistence round-trips the entire key set to a durable backing store.
// Implementations: postgres table (production), JSON file (development),
// in-memory (tests).
type Persistence interface {
	Save(ctx context.Context, set []KeyRecord) error
	Load(ctx context.Context) ([]KeyRecord, error)
}
