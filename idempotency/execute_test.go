package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/lock"
)

type chargeRequest struct {
	Amount   int64
	Currency string
}

type chargeResult struct {
	TransactionID string
}

func newTestEngine() *Engine {
	return NewEngine(NewInMemoryStore(), lock.NewInMemoryManager(), Config{
		LockTimeout:   time.Second,
		RetryInterval: 10 * time.Millisecond,
		MaxRetries:    20,
		TTL:           time.Hour,
	})
}

func TestExecuteIdempotentRunsOnceForNewKey(t *testing.T) {
	e := newTestEngine()
	var calls int32

	doWork := func(ctx context.Context) (chargeResult, error) {
		atomic.AddInt32(&calls, 1)
		return chargeResult{TransactionID: "tx_1"}, nil
	}

	result, err := ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-1", chargeRequest{Amount: 100, Currency: "USD"}, doWork)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TransactionID != "tx_1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestExecuteIdempotentReplaysCachedResult(t *testing.T) {
	e := newTestEngine()
	var calls int32
	doWork := func(ctx context.Context) (chargeResult, error) {
		atomic.AddInt32(&calls, 1)
		return chargeResult{TransactionID: "tx_1"}, nil
	}
	req := chargeRequest{Amount: 100, Currency: "USD"}

	if _, err := ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-1", req, doWork); err != nil {
		t.Fatalf("first call: %v", err)
	}
	result, err := ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-1", req, doWork)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if result.TransactionID != "tx_1" {
		t.Fatalf("unexpected replayed result: %+v", result)
	}
	if calls != 1 {
		t.Fatalf("expected doWork to run exactly once, got %d", calls)
	}
}

func TestExecuteIdempotentRejectsFingerprintMismatch(t *testing.T) {
	e := newTestEngine()
	doWork := func(ctx context.Context) (chargeResult, error) {
		return chargeResult{TransactionID: "tx_1"}, nil
	}

	if _, err := ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-1", chargeRequest{Amount: 100, Currency: "USD"}, doWork); err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, err := ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-1", chargeRequest{Amount: 200, Currency: "USD"}, doWork)
	if !errs.Is(err, errs.KindFingerprintMismatch) {
		t.Fatalf("expected FingerprintMismatch, got %v", err)
	}
}

func TestExecuteIdempotentCachesFailure(t *testing.T) {
	e := newTestEngine()
	var calls int32
	boom := errors.New("gateway unreachable")
	doWork := func(ctx context.Context) (chargeResult, error) {
		atomic.AddInt32(&calls, 1)
		return chargeResult{}, boom
	}
	req := chargeRequest{Amount: 100, Currency: "USD"}

	_, err := ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-1", req, doWork)
	if err == nil || err.Error() != boom.Error() {
		t.Fatalf("expected cached failure, got %v", err)
	}

	_, err2 := ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-1", req, doWork)
	if err2 == nil || err2.Error() != boom.Error() {
		t.Fatalf("expected replayed failure, got %v", err2)
	}
	if calls != 1 {
		t.Fatalf("expected doWork to run exactly once, got %d", calls)
	}
}

func TestExecuteIdempotentConcurrentCallersShareOneExecution(t *testing.T) {
	e := newTestEngine()
	var calls int32
	release := make(chan struct{})
	doWork := func(ctx context.Context) (chargeResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return chargeResult{TransactionID: "tx_once"}, nil
	}
	req := chargeRequest{Amount: 100, Currency: "USD"}

	var wg sync.WaitGroup
	results := make([]chargeResult, 5)
	errs_ := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs_[i] = ExecuteIdempotent(context.Background(), e, "m1", "charge", "key-shared", req, doWork)
		}(i)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly one execution across concurrent callers, got %d", calls)
	}
	for i, err := range errs_ {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if results[i].TransactionID != "tx_once" {
			t.Fatalf("caller %d got unexpected result: %+v", i, results[i])
		}
	}
}

func TestCleanupRemovesExpiredRecords(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	_ = store.Insert(context.Background(), Record{
		ScopedKey:          "m1:charge:old",
		RequestFingerprint: "f",
		Status:             StatusCompleted,
		CreatedAt:          now.Add(-time.Hour),
		ExpiresAt:          now.Add(-time.Minute),
	})
	removed, err := store.Cleanup(context.Background(), now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, found, _ := store.Get(context.Background(), "m1:charge:old"); found {
		t.Fatal("expected record to be gone after cleanup")
	}
}
