package keys

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"brokerage-backend/logger"

	"go.uber.org/zap"
)

var (
	// ErrKeyNotFound is returned when revoking a key the store doesn't hold.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyIsActive rejects revoking the active key: doing so would leave
	// the store with zero signing keys.
	ErrKeyIsActive = errors.New("cannot revoke the active key")
)

// Store holds the in-memory key set and mirrors every mutation to its
// Persistence. Mutations are serialized by writeMu and follow
// clone → modify → persist → swap, so readers never block on persistence I/O
// and never observe a set with zero or two active keys: until the swap, the
// previous set (including its active key) stays in force.
type Store struct {
	writeMu sync.Mutex // serializes mutations end-to-end

	mu  sync.RWMutex // guards set for readers
	set []*KeyRecord

	persistence Persistence
	log         *zap.Logger
}

func NewStore(p Persistence) *Store {
	return &Store{
		persistence: p,
		log:         logger.Named("keystore"),
	}
}

// Load replaces the in-memory set with the persisted one. ErrNotFound means
// first boot: start empty. Any other failure propagates.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	persisted, err := s.persistence.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Info("no persisted key set, starting empty")
			return nil
		}
		return fmt.Errorf("load key set: %w", err)
	}

	next := make([]*KeyRecord, 0, len(persisted))
	for i := range persisted {
		rec := persisted[i]
		next = append(next, rec.clone())
	}

	// A corrupt backing store can hold several active rows. Keep the newest
	// and demote the rest to backup so the single-active invariant holds
	// from boot; their tokens keep verifying.
	var newest *KeyRecord
	for _, k := range next {
		if k.Status == StatusActive && (newest == nil || k.CreatedAt.After(newest.CreatedAt)) {
			newest = k
		}
	}
	if newest != nil {
		now := time.Now().UTC()
		for _, k := range next {
			if k.Status == StatusActive && k != newest {
				k.Status = StatusBackup
				t := now
				k.RotatedAt = &t
				s.log.Warn("demoted duplicate active key on load", zap.String("kid", k.KID))
			}
		}
	}

	s.swap(next)
	s.log.Info("key set loaded", zap.Int("keys", len(next)))
	return nil
}

// ActiveSigningKey returns the single active key, or ErrNoActiveKey.
func (s *Store) ActiveSigningKey() (*KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.set {
		if k.Status == StatusActive {
			return k.clone(), nil
		}
	}
	return nil, ErrNoActiveKey
}

// KeyByID resolves a key by its KID. Unknown KIDs are not an error: callers
// verifying tokens fall back to AllValidKeys on nil.
func (s *Store) KeyByID(kid string) *KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.set {
		if k.KID == kid {
			return k.clone()
		}
	}
	return nil
}

// AllValidKeys returns the keys tokens may verify against: the active key
// first, then backups ordered by most recent rotation.
func (s *Store) AllValidKeys() []*KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*KeyRecord, 0, len(s.set))
	for _, k := range s.set {
		if k.Valid() {
			out = append(out, k.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == StatusActive
		}
		return rotatedAfter(out[i], out[j])
	})
	return out
}

// AllKeys returns every record, any status, for admin listings.
func (s *Store) AllKeys() []*KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*KeyRecord, 0, len(s.set))
	for _, k := range s.set {
		out = append(out, k.clone())
	}
	return out
}

// CountByStatus tallies records per lifecycle state.
func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Status]int, 4)
	for _, k := range s.set {
		out[k.Status]++
	}
	return out
}

// GenerateKey creates a record in "generated" status and persists the set.
// It never touches the active key.
func (s *Store) GenerateKey(ctx context.Context, algorithm string) (*KeyRecord, error) {
	rec, err := newKeyRecord(algorithm, StatusGenerated)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := append(s.cloneSet(), rec)
	if err := s.persistence.Save(ctx, deref(next)); err != nil {
		return nil, fmt.Errorf("persist key set: %w", err)
	}
	s.swap(next)
	s.log.Info("key generated", zap.String("kid", rec.KID), zap.String("alg", algorithm))
	return rec.clone(), nil
}

// RevokeKey marks a backup or generated key revoked, excluding it from
// verification immediately. The active key cannot be revoked.
func (s *Store) RevokeKey(ctx context.Context, kid string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.cloneSet()
	var target *KeyRecord
	for _, k := range next {
		if k.KID == kid {
			target = k
			break
		}
	}
	if target == nil {
		return ErrKeyNotFound
	}
	if target.Status == StatusActive {
		return ErrKeyIsActive
	}
	target.Status = StatusRevoked

	if err := s.persistence.Save(ctx, deref(next)); err != nil {
		return fmt.Errorf("persist key set: %w", err)
	}
	s.swap(next)
	s.log.Warn("key revoked", zap.String("kid", kid))
	return nil
}

// applyRotation performs the whole rotation transition atomically: generate,
// promote, demote, trim retention, persist, then swap in memory.
func (s *Store) applyRotation(ctx context.Context, algorithm string, retention int) (*RotationResult, error) {
	newRec, err := newKeyRecord(algorithm, StatusActive)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.cloneSet()
	previousKID := ""
	for _, k := range next {
		if k.Status == StatusActive {
			k.Status = StatusBackup
			t := now
			k.RotatedAt = &t
			previousKID = k.KID
			break
		}
	}
	next = append(next, newRec)

	// Retention: keep only the N most recently rotated backups; older ones
	// are hard-deleted so evicted keys can never verify again.
	backups := make([]*KeyRecord, 0, len(next))
	for _, k := range next {
		if k.Status == StatusBackup {
			backups = append(backups, k)
		}
	}
	if retention >= 0 && len(backups) > retention {
		sort.Slice(backups, func(i, j int) bool { return rotatedAfter(backups[i], backups[j]) })
		evict := make(map[string]struct{}, len(backups)-retention)
		for _, k := range backups[retention:] {
			evict[k.KID] = struct{}{}
		}
		kept := next[:0]
		for _, k := range next {
			if _, gone := evict[k.KID]; !gone {
				kept = append(kept, k)
			}
		}
		next = kept
	}

	if err := s.persistence.Save(ctx, deref(next)); err != nil {
		return nil, fmt.Errorf("persist key set: %w", err)
	}
	s.swap(next)

	s.log.Info("key rotated",
		zap.String("new_kid", newRec.KID),
		zap.String("previous_kid", previousKID))
	return &RotationResult{NewKID: newRec.KID, PreviousKID: previousKID, RotatedAt: now}, nil
}

// cloneSet deep-copies the current set for a mutation in progress.
func (s *Store) cloneSet() []*KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next := make([]*KeyRecord, 0, len(s.set)+1)
	for _, k := range s.set {
		next = append(next, k.clone())
	}
	return next
}

// swap publishes the next set to readers.
func (s *Store) swap(next []*KeyRecord) {
	s.mu.Lock()
	s.set = next
	s.mu.Unlock()
}

func deref(set []*KeyRecord) []KeyRecord {
	out := make([]KeyRecord, 0, len(set))
	for _, k := range set {
		out = append(out, *k)
	}
	return out
}

// rotatedAfter orders by RotatedAt descending, treating nil as oldest.
func rotatedAfter(a, b *KeyRecord) bool {
	switch {
	case a.RotatedAt == nil:
		return false
	case b.RotatedAt == nil:
		return true
	default:
		return a.RotatedAt.After(*b.RotatedAt)
	}
}
