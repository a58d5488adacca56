//go:build integration

package idempotency_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"brokerage-backend/idempotency"
	"brokerage-backend/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Run with: TEST_DATABASE_DSN=... go test -tags integration ./idempotency/
func gormTestStore(t *testing.T, ttl time.Duration) *idempotency.GormStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(&models.IdempotencyRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return idempotency.NewGormStore(db, ttl)
}

func uniqueKey(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

func TestGormStore_ReserveCompleteReplay(t *testing.T) {
	store := gormTestStore(t, time.Hour)
	ctx := context.Background()
	key := uniqueKey("replay")

	resv, err := store.Reserve(ctx, key)
	if err != nil || !resv.Reserved {
		t.Fatalf("reserve: %+v %v", resv, err)
	}
	result := []byte(`{"status":"captured"}`)
	if err := store.Complete(ctx, key, result); err != nil {
		t.Fatalf("complete: %v", err)
	}

	again, err := store.Reserve(ctx, key)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if again.Reserved || again.InProgress || !bytes.Equal(again.Result, result) {
		t.Fatalf("completed key must replay the stored result, got %+v", again)
	}
}

func TestGormStore_RearmSingleWinner(t *testing.T) {
	store := gormTestStore(t, time.Hour)
	ctx := context.Background()
	key := uniqueKey("rearm")

	if _, err := store.Reserve(ctx, key); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Fail(ctx, key, errors.New("downstream timeout")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// The conditioned UPDATE lets exactly one concurrent retrier re-reserve.
	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resv, err := store.Reserve(ctx, key)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if resv.Reserved {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("%d retriers re-reserved the failed key, want exactly 1", winners)
	}
}

func TestGormStore_SettleRequiresInProgress(t *testing.T) {
	store := gormTestStore(t, time.Hour)
	ctx := context.Background()
	key := uniqueKey("settle")

	if err := store.Complete(ctx, key, []byte(`{}`)); !errors.Is(err, idempotency.ErrInvalidStateTransition) {
		t.Fatalf("complete without reserve: got %v", err)
	}

	if _, err := store.Reserve(ctx, key); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Complete(ctx, key, []byte(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Fail(ctx, key, errors.New("late")); !errors.Is(err, idempotency.ErrInvalidStateTransition) {
		t.Fatalf("fail after complete: got %v", err)
	}
}

func TestGormStore_PurgeExpiredSparesInProgress(t *testing.T) {
	store := gormTestStore(t, 10*time.Millisecond)
	ctx := context.Background()
	done := uniqueKey("purge-done")
	running := uniqueKey("purge-running")

	if _, err := store.Reserve(ctx, done); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Complete(ctx, done, []byte(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.Reserve(ctx, running); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := store.PurgeExpired(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}

	// The terminal record is gone and re-reservable; the running one is not.
	fresh, err := store.Reserve(ctx, done)
	if err != nil || !fresh.Reserved {
		t.Fatalf("purged key must re-reserve, got %+v %v", fresh, err)
	}
	dup, err := store.Reserve(ctx, running)
	if err != nil || !dup.InProgress {
		t.Fatalf("in_progress record must survive purge, got %+v %v", dup, err)
	}
}
