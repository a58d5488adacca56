package models

import "time"

// SigningKey is the persisted form of a key record. Material is raw secret
// bytes (HMAC secret or Ed25519 private key); it is never serialized to JSON
// and only ever surfaces to API callers as a redacted preview.
type SigningKey struct {
	KID       string     `json:"kid" gorm:"primaryKey;size:64"`
	Algorithm string     `json:"algorithm" gorm:"size:16;not null"`
	Material  []byte     `json:"-" gorm:"type:bytea;not null"`
	Status    string     `json:"status" gorm:"size:16;not null;index"` // generated | active | backup | revoked
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt *time.Time `json:"rotated_at"`
}
