//go:build integration

package idempotency_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"brokerage-backend/idempotency"

	"github.com/redis/go-redis/v9"
)

// Run with: TEST_REDIS_ADDR=localhost:6379 go test -tags integration ./idempotency/
func redisTestStore(t *testing.T, ttl time.Duration) *idempotency.RedisStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return idempotency.NewRedisStore(client, ttl)
}

func TestRedisStore_ReserveCompleteReplay(t *testing.T) {
	store := redisTestStore(t, time.Hour)
	ctx := context.Background()
	key := uniqueKey("redis-replay")

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

func TestRedisStore_RearmSingleWinner(t *testing.T) {
	store := redisTestStore(t, time.Hour)
	ctx := context.Background()
	key := uniqueKey("redis-rearm")

	if _, err := store.Reserve(ctx, key); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Fail(ctx, key, errors.New("downstream timeout")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// The Lua compare-and-swap lets exactly one concurrent retrier win.
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

func TestRedisStore_SettleRequiresInProgress(t *testing.T) {
	store := redisTestStore(t, time.Hour)
	ctx := context.Background()
	key := uniqueKey("redis-settle")

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

func TestRedisStore_TerminalRecordsExpire(t *testing.T) {
	store := redisTestStore(t, 100*time.Millisecond)
	ctx := context.Background()
	key := uniqueKey("redis-ttl")

	if _, err := store.Reserve(ctx, key); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Complete(ctx, key, []byte(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	// The settle script applied PX, so redis expired the record natively.
	fresh, err := store.Reserve(ctx, key)
	if err != nil || !fresh.Reserved {
		t.Fatalf("expired key must re-reserve, got %+v %v", fresh, err)
	}
}
