package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type memoryRecord struct {
	State       string
	Result      []byte
	LastError   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// MemoryStore backs the idempotency layer with go-cache. Records live
// without expiry while in_progress and pick up the TTL only once they reach
// a terminal state, so the janitor can never evict a running reservation.
// The mutex serializes transitions; go-cache supplies the TTL eviction.
type MemoryStore struct {
	mu  sync.Mutex
	c   *cache.Cache
	ttl time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		c:   cache.New(cache.NoExpiration, 10*time.Minute),
		ttl: ttl,
	}
}

func (m *MemoryStore) Reserve(ctx context.Context, key string) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.c.Get(key); ok {
		rec := v.(*memoryRecord)
		switch rec.State {
		case StateInProgress:
			return Reservation{InProgress: true}, nil
		case StateCompleted:
			return Reservation{Result: append([]byte(nil), rec.Result...)}, nil
		}
		// failed: fall through and re-reserve
	}

	m.c.Set(key, &memoryRecord{State: StateInProgress, CreatedAt: time.Now().UTC()}, cache.NoExpiration)
	return Reservation{Reserved: true}, nil
}

func (m *MemoryStore) Complete(ctx context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.get(key)
	if !ok || rec.State != StateInProgress {
		return ErrInvalidStateTransition
	}
	now := time.Now().UTC()
	m.c.Set(key, &memoryRecord{
		State:       StateCompleted,
		Result:      append([]byte(nil), result...),
		CreatedAt:   rec.CreatedAt,
		CompletedAt: &now,
	}, m.ttl)
	return nil
}

func (m *MemoryStore) Fail(ctx context.Context, key string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.get(key)
	if !ok || rec.State != StateInProgress {
		return ErrInvalidStateTransition
	}
	now := time.Now().UTC()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	m.c.Set(key, &memoryRecord{
		State:       StateFailed,
		LastError:   msg,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: &now,
	}, m.ttl)
	return nil
}

// PurgeExpired nudges the janitor. go-cache already runs its own sweep; the
// returned count is always zero because expired entries are dropped lazily.
func (m *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	m.c.DeleteExpired()
	return 0, nil
}

func (m *MemoryStore) get(key string) (*memoryRecord, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*memoryRecord), true
}
