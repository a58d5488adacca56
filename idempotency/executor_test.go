package idempotency_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brokerage-backend/idempotency"
)

func TestExecute_AtMostOnceUnderConcurrency(t *testing.T) {
	exec := idempotency.NewExecutor(idempotency.NewMemoryStore(time.Hour))
	ctx := context.Background()

	var executions int32
	op := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&executions, 1)
		time.Sleep(10 * time.Millisecond) // hold the reservation open
		return []byte(`{"status":"captured"}`), nil
	}

	const n = 16
	var wg sync.WaitGroup
	outcomes := make([]idempotency.Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = exec.Execute(ctx, "capture-42", op)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&executions); got != 1 {
		t.Fatalf("operation executed %d times, want 1", got)
	}

	// Exactly one fresh execution; everyone else either collided with the
	// in-flight reservation or arrived late enough to be served the replay.
	fresh := 0
	for i := 0; i < n; i++ {
		switch {
		case errs[i] == nil:
			if !outcomes[i].FromCache {
				fresh++
			}
			if !bytes.Equal(outcomes[i].Result, []byte(`{"status":"captured"}`)) {
				t.Fatalf("caller %d got wrong result: %s", i, outcomes[i].Result)
			}
		case errors.Is(errs[i], idempotency.ErrOperationInProgress):
			// expected for callers racing the reservation
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	if fresh != 1 {
		t.Fatalf("%d fresh executions observed, want exactly 1", fresh)
	}
}

func TestExecute_ReplayFromCache(t *testing.T) {
	exec := idempotency.NewExecutor(idempotency.NewMemoryStore(time.Hour))
	ctx := context.Background()

	var executions int
	op := func(ctx context.Context) ([]byte, error) {
		executions++
		return []byte(`{"id":"p-1"}`), nil
	}

	first, err := exec.Execute(ctx, "create-p-1", op)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if first.FromCache {
		t.Fatalf("first execution must not be a replay")
	}

	second, err := exec.Execute(ctx, "create-p-1", op)
	if err != nil {
		t.Fatalf("replay execute: %v", err)
	}
	if !second.FromCache {
		t.Fatalf("duplicate after completion must replay")
	}
	if !bytes.Equal(first.Result, second.Result) {
		t.Fatalf("replay result differs: %s != %s", second.Result, first.Result)
	}
	if executions != 1 {
		t.Fatalf("operation executed %d times, want 1", executions)
	}
}

func TestExecute_EmptyKeySkipsDeduplication(t *testing.T) {
	exec := idempotency.NewExecutor(idempotency.NewMemoryStore(time.Hour))
	ctx := context.Background()

	var executions int
	op := func(ctx context.Context) ([]byte, error) {
		executions++
		return []byte(`{}`), nil
	}

	for i := 0; i < 2; i++ {
		out, err := exec.Execute(ctx, "", op)
		if err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
		if out.FromCache {
			t.Fatalf("empty key must never replay")
		}
	}
	if executions != 2 {
		t.Fatalf("operation executed %d times, want 2", executions)
	}
}

func TestExecute_RetryAfterFailure(t *testing.T) {
	exec := idempotency.NewExecutor(idempotency.NewMemoryStore(time.Hour))
	ctx := context.Background()

	boom := errors.New("ledger unavailable")
	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []byte(`{"status":"captured"}`), nil
	}

	if _, err := exec.Execute(ctx, "k", op); !errors.Is(err, boom) {
		t.Fatalf("expected operation error to propagate, got %v", err)
	}

	// A failed record must not pin the key: the retry executes again.
	out, err := exec.Execute(ctx, "k", op)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.FromCache {
		t.Fatalf("retry after failure must execute fresh, not replay")
	}
	if calls != 2 {
		t.Fatalf("operation executed %d times, want 2", calls)
	}
}
