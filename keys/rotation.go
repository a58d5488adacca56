package keys

import (
	"context"
	"sync"
	"time"

	"brokerage-backend/logger"

	"go.uber.org/zap"
)

// RotationConfig tunes the rotation policy.
type RotationConfig struct {
	Algorithm string        // algorithm for newly generated keys
	Interval  time.Duration // max active-key age before ShouldRotate
	Retention int           // backups kept after rotation, default 3
}

// RotationResult reports a completed rotation.
type RotationResult struct {
	NewKID      string    `json:"new_kid"`
	PreviousKID string    `json:"previous_kid,omitempty"`
	RotatedAt   time.Time `json:"rotated_at"`
}

// RotationController serializes rotations for one Store. Only one rotation
// may run at a time; concurrent attempts fail fast with
// ErrRotationInProgress instead of queueing.
type RotationController struct {
	store *Store
	cfg   RotationConfig
	mu    sync.Mutex
	log   *zap.Logger
}

func NewRotationController(store *Store, cfg RotationConfig) *RotationController {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgHS256
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 3
	}
	return &RotationController{
		store: store,
		cfg:   cfg,
		log:   logger.Named("rotation"),
	}
}

// Rotate promotes a fresh key to active and demotes the previous one to
// backup. The rotation lock is released on every exit path; a failed
// rotation leaves the previous active key in force.
func (rc *RotationController) Rotate(ctx context.Context) (*RotationResult, error) {
	if !rc.mu.TryLock() {
		return nil, ErrRotationInProgress
	}
	defer rc.mu.Unlock()

	res, err := rc.store.applyRotation(ctx, rc.cfg.Algorithm, rc.cfg.Retention)
	if err != nil {
		rc.log.Error("rotation failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// ShouldRotate is true when no active key exists or the active key's age
// exceeds the configured interval.
func (rc *RotationController) ShouldRotate() bool {
	active, err := rc.store.ActiveSigningKey()
	if err != nil {
		return true
	}
	return time.Since(active.CreatedAt) > rc.cfg.Interval
}

// Bootstrap loads the persisted key set and rotates once if needed, so the
// process never serves traffic without an active key.
func (rc *RotationController) Bootstrap(ctx context.Context) error {
	if err := rc.store.Load(ctx); err != nil {
		return err
	}
	if !rc.ShouldRotate() {
		return nil
	}
	rc.log.Info("bootstrap rotation", zap.String("alg", rc.cfg.Algorithm))
	_, err := rc.Rotate(ctx)
	return err
}
