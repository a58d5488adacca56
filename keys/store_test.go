package keys_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brokerage-backend/keys"
)

func newTestStore(t *testing.T) (*keys.Store, *keys.MemoryPersistence) {
	t.Helper()
	p := keys.NewMemoryPersistence()
	return keys.NewStore(p), p
}

func TestActiveSigningKey_EmptyStore(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.ActiveSigningKey(); err != keys.ErrNoActiveKey {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}

func TestGenerateKey_DoesNotTouchActive(t *testing.T) {
	s, p := newTestStore(t)
	ctx := context.Background()

	rec, err := s.GenerateKey(ctx, keys.AlgHS256)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rec.Status != keys.StatusGenerated {
		t.Fatalf("expected generated status, got %s", rec.Status)
	}
	if len(rec.Material) != 32 {
		t.Fatalf("expected 32 bytes of HMAC material, got %d", len(rec.Material))
	}
	if _, err := s.ActiveSigningKey(); err != keys.ErrNoActiveKey {
		t.Fatalf("generate must not promote a key, got %v", err)
	}

	// Persisted: a fresh store loading from the same persistence sees it.
	s2 := keys.NewStore(p)
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := s2.KeyByID(rec.KID); got == nil {
		t.Fatal("generated key not persisted")
	}
}

func TestGenerateKey_UnknownAlgorithm(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.GenerateKey(context.Background(), "RS4096"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestKeyByID_UnknownIsNil(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.KeyByID("nope"); got != nil {
		t.Fatalf("expected nil for unknown kid, got %+v", got)
	}
}

func TestLoad_FirstBootIsNotAnError(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("first boot load should bootstrap empty, got %v", err)
	}
}

func TestRevokeKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	rc := keys.NewRotationController(s, keys.RotationConfig{Retention: 3})

	r1, err := rc.Rotate(ctx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := rc.Rotate(ctx); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// r1's key is now a backup; revoking it drops it from the valid set.
	if err := s.RevokeKey(ctx, r1.NewKID); err != nil {
		t.Fatalf("revoke backup: %v", err)
	}
	for _, k := range s.AllValidKeys() {
		if k.KID == r1.NewKID {
			t.Fatal("revoked key still reported valid")
		}
	}
	if got := s.KeyByID(r1.NewKID); got == nil || got.Status != keys.StatusRevoked {
		t.Fatalf("expected revoked record to remain resolvable, got %+v", got)
	}

	active, _ := s.ActiveSigningKey()
	if err := s.RevokeKey(ctx, active.KID); err != keys.ErrKeyIsActive {
		t.Fatalf("expected ErrKeyIsActive, got %v", err)
	}
	if err := s.RevokeKey(ctx, "missing"); err != keys.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestLoad_RepairsDuplicateActiveKeys(t *testing.T) {
	p := keys.NewMemoryPersistence()
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	seed := []keys.KeyRecord{
		{KID: "old-active", Algorithm: keys.AlgHS256, Material: make([]byte, 32), Status: keys.StatusActive, CreatedAt: older},
		{KID: "new-active", Algorithm: keys.AlgHS256, Material: make([]byte, 32), Status: keys.StatusActive, CreatedAt: newer},
	}
	if err := p.Save(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := keys.NewStore(p)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if n := s.CountByStatus()[keys.StatusActive]; n != 1 {
		t.Fatalf("%d active keys after loading a corrupt set, want 1", n)
	}
	active, err := s.ActiveSigningKey()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.KID != "new-active" {
		t.Fatalf("kept %s as active, want the newest (new-active)", active.KID)
	}

	// The demoted duplicate stays a valid backup, not a casualty.
	demoted := s.KeyByID("old-active")
	if demoted == nil || demoted.Status != keys.StatusBackup {
		t.Fatalf("demoted duplicate: %+v, want backup", demoted)
	}
	if demoted.RotatedAt == nil {
		t.Fatal("demoted duplicate missing RotatedAt stamp")
	}
}

func TestFilePersistence_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	p := keys.NewFilePersistence(path)
	ctx := context.Background()

	if _, err := p.Load(ctx); err != keys.ErrNotFound {
		t.Fatalf("expected ErrNotFound before first save, got %v", err)
	}

	s := keys.NewStore(p)
	rc := keys.NewRotationController(s, keys.RotationConfig{Algorithm: keys.AlgEdDSA})
	res, err := rc.Rotate(ctx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	s2 := keys.NewStore(p)
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	active, err := s2.ActiveSigningKey()
	if err != nil {
		t.Fatalf("active after reload: %v", err)
	}
	if active.KID != res.NewKID || active.Algorithm != keys.AlgEdDSA {
		t.Fatalf("reloaded active mismatch: %+v", active)
	}
}
