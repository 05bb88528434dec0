package lock

import (
	"context"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m := NewInMemoryManager()
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "payment:abc", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.Token == "" {
		t.Fatal("expected non-empty token")
	}
	if err := m.Release(ctx, lease); err != nil {
		t.Fatalf("release: %v", err)
	}

	lease2, err := m.Acquire(ctx, "payment:abc", time.Minute)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	if lease2.Token == lease.Token {
		t.Fatal("expected a fresh token after reacquisition")
	}
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	m := NewInMemoryManager()
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "payment:abc", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if _, err := m.Acquire(ctx, "payment:abc", time.Minute); err != nil {
			t.Errorf("second acquire: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire returned before release")
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.Release(ctx, lease); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not unblock after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m := NewInMemoryManager()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "payment:abc", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	if _, err := m.Acquire(cctx, "payment:abc", time.Minute); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestExtendFailsForStaleToken(t *testing.T) {
	m := NewInMemoryManager()
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "payment:abc", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, lease); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := m.Acquire(ctx, "payment:abc", time.Minute); err != nil {
		t.Fatalf("reacquire: %v", err)
	}

	if _, err := m.Extend(ctx, lease, time.Minute); err == nil {
		t.Fatal("expected extend on stale lease to fail")
	}
}

func TestExpiredLockIsReclaimable(t *testing.T) {
	m := NewInMemoryManager()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "payment:abc", 10*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := m.Acquire(cctx, "payment:abc", time.Minute); err != nil {
		t.Fatalf("expected expired lock to be reclaimable: %v", err)
	}
}
