package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"brokerage-backend/utils"

	"github.com/google/uuid"
)

var (
	// ErrNoActiveKey means the store currently has no active signing key.
	// Fatal for signing; rotation must run before retrying.
	ErrNoActiveKey = errors.New("no active signing key")

	// ErrRotationInProgress means another rotation holds the rotation lock.
	// Recoverable: retry later.
	ErrRotationInProgress = errors.New("rotation already in progress")

	// ErrInvalidSignature means a token failed verification against every
	// valid (active or backup) key.
	ErrInvalidSignature = errors.New("token signature invalid for all valid keys")

	// ErrUnknownAlgorithm rejects key generation for unsupported algorithms.
	ErrUnknownAlgorithm = errors.New("unknown signing algorithm")
)

// Status is the lifecycle state of a key record. Transitions are monotonic:
// generated → active → backup → removed; revoked is terminal.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusActive    Status = "active"
	StatusBackup    Status = "backup"
	StatusRevoked   Status = "revoked"
)

const (
	AlgHS256 = "HS256"
	AlgEdDSA = "EdDSA"
)

// KeyRecord holds one key's identity, material and lifecycle state. Material
// is owned exclusively by the Store; callers see only Preview().
type KeyRecord struct {
	KID       string
	Algorithm string
	Material  []byte
	Status    Status
	CreatedAt time.Time
	RotatedAt *time.Time
}

// newKeyRecord generates fresh material for the given algorithm.
func newKeyRecord(algorithm string, status Status) (*KeyRecord, error) {
	var material []byte
	switch algorithm {
	case AlgHS256:
		material = make([]byte, 32)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("hmac material: %w", err)
		}
	case AlgEdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("ed25519 material: %w", err)
		}
		material = priv
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}
	return &KeyRecord{
		KID:       uuid.NewString(),
		Algorithm: algorithm,
		Material:  material,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SigningKey returns the private key material in the shape the JWT library
// expects for this record's algorithm.
func (k *KeyRecord) SigningKey() any {
	if k.Algorithm == AlgEdDSA {
		return ed25519.PrivateKey(k.Material)
	}
	return k.Material
}

// VerificationKey returns the key used to verify signatures: the shared
// secret for HMAC, the derived public key for Ed25519.
func (k *KeyRecord) VerificationKey() any {
	if k.Algorithm == AlgEdDSA {
		return ed25519.PrivateKey(k.Material).Public()
	}
	return k.Material
}

// Valid reports whether tokens signed by this key may still verify.
// Only active and backup keys count; generated and revoked never do.
func (k *KeyRecord) Valid() bool {
	return k.Status == StatusActive || k.Status == StatusBackup
}

// Preview returns the redacted material preview safe for listings and logs.
func (k *KeyRecord) Preview() string {
	return utils.MaskSecret(k.Material)
}

// clone deep-copies the record so callers can never mutate store state.
func (k *KeyRecord) clone() *KeyRecord {
	cp := *k
	cp.Material = append([]byte(nil), k.Material...)
	if k.RotatedAt != nil {
		t := *k.RotatedAt
		cp.RotatedAt = &t
	}
	return &cp
}
