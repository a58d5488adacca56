package idempotency

import (
	"context"
	"errors"
	"time"

	"brokerage-backend/models"

	"gorm.io/gorm"
)

// GormStore backs the idempotency layer with the idempotency_records table.
// The unique index on key makes Reserve atomic: the first insert wins and
// every concurrent duplicate collides and re-reads.
type GormStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewGormStore(db *gorm.DB, ttl time.Duration) *GormStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &GormStore{db: db, ttl: ttl}
}

func (s *GormStore) Reserve(ctx context.Context, key string) (Reservation, error) {
	rec := models.IdempotencyRecord{Key: key, State: StateInProgress}
	createErr := s.db.WithContext(ctx).Create(&rec).Error
	if createErr == nil {
		return Reservation{Reserved: true}, nil
	}

	// Insert failed, almost always the unique-key race. Re-read and decide
	// from the winner's state.
	var existing models.IdempotencyRecord
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Reservation{}, createErr
		}
		return Reservation{}, err
	}

	switch existing.State {
	case StateCompleted:
		return Reservation{Result: append([]byte(nil), existing.Result...)}, nil
	case StateFailed:
		return s.rearm(ctx, key)
	default:
		return Reservation{InProgress: true}, nil
	}
}

// rearm re-reserves a failed key via a conditioned UPDATE, so exactly one of
// any concurrent retriers wins. Losers are reported as in-progress.
func (s *GormStore) rearm(ctx context.Context, key string) (Reservation, error) {
	res := s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("key = ? AND state = ?", key, StateFailed).
		Updates(map[string]any{
			"state":        StateInProgress,
			"result":       nil,
			"last_error":   "",
			"created_at":   time.Now().UTC(),
			"completed_at": nil,
		})
	if res.Error != nil {
		return Reservation{}, res.Error
	}
	if res.RowsAffected == 1 {
		return Reservation{Reserved: true}, nil
	}
	return Reservation{InProgress: true}, nil
}

func (s *GormStore) Complete(ctx context.Context, key string, result []byte) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("key = ? AND state = ?", key, StateInProgress).
		Updates(map[string]any{
			"state":        StateCompleted,
			"result":       result,
			"completed_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidStateTransition
	}
	return nil
}

func (s *GormStore) Fail(ctx context.Context, key string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("key = ? AND state = ?", key, StateInProgress).
		Updates(map[string]any{
			"state":        StateFailed,
			"last_error":   msg,
			"completed_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidStateTransition
	}
	return nil
}

// PurgeExpired hard-deletes terminal records past the TTL. in_progress rows
// are excluded no matter their age.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	res := s.db.WithContext(ctx).
		Where("state IN ? AND created_at < ?", []string{StateCompleted, StateFailed}, cutoff).
		Delete(&models.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
