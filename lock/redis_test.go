package lock

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisManager(t *testing.T) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisManager(client, bytes.Repeat([]byte("k"), 32)), mr
}

func TestRedisAcquireReleaseRoundTrip(t *testing.T) {
	m, _ := newTestRedisManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "payment:abc", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := m.Acquire(ctx, "payment:abc", time.Minute); err == nil {
		t.Fatal("expected second acquire to fail while held")
	}

	if err := m.Release(ctx, lease); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := m.Acquire(ctx, "payment:abc", time.Minute); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestRedisReleaseRejectsForgedToken(t *testing.T) {
	m, _ := newTestRedisManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "payment:abc", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	other := NewRedisManager(m.rdb, bytes.Repeat([]byte("z"), 32))
	forged := Lease{Name: lease.Name, Token: "not-a-real-token", ExpiresAt: lease.ExpiresAt}
	if err := other.Release(ctx, forged); err == nil {
		t.Fatal("expected forged token to be rejected")
	}

	// Original holder can still release cleanly.
	if err := m.Release(ctx, lease); err != nil {
		t.Fatalf("release by rightful holder: %v", err)
	}
}

func TestRedisExtendFailsAfterExpiry(t *testing.T) {
	m, mr := newTestRedisManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "payment:abc", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(100 * time.Millisecond)

	if _, err := m.Acquire(ctx, "payment:abc", time.Minute); err != nil {
		t.Fatalf("expected lock to be reclaimable after expiry: %v", err)
	}

	if _, err := m.Extend(ctx, lease, time.Minute); err == nil {
		t.Fatal("expected extend on expired lease to fail")
	}
}

func TestRedisExtendRefreshesTTL(t *testing.T) {
	m, _ := newTestRedisManager(t)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "payment:abc", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	extended, err := m.Extend(ctx, lease, time.Minute)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !extended.ExpiresAt.After(lease.ExpiresAt) {
		t.Fatal("expected extended lease to have a later expiry")
	}

	if err := m.Release(ctx, extended); err != nil {
		t.Fatalf("release extended lease: %v", err)
	}
}
