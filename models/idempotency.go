package models

import (
	"time"

	"gorm.io/datatypes"
)

// IdempotencyRecord maps a caller-supplied Idempotency-Key to the outcome of
// the mutating operation it guards. The unique index on Key is what makes
// reservation atomic: concurrent inserts for the same key collide and lose.
type IdempotencyRecord struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	Key         string         `json:"key" gorm:"size:128;uniqueIndex"` // header value
	State       string         `json:"state" gorm:"size:16;not null"`   // in_progress | completed | failed
	Result      datatypes.JSON `json:"result" gorm:"type:jsonb"`        // stored outcome, replayed byte-identical
	LastError   string         `json:"last_error,omitempty" gorm:"size:512"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}
