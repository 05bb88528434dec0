package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBreaker(t *testing.T, cfg Config) *RedisBreaker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBreaker(client, cfg)
}

func TestRedisOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	b := newTestRedisBreaker(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, done, err := b.Allow(ctx)
		if err != nil || !allowed {
			t.Fatalf("expected allowed request %d: %v", i, err)
		}
		done(false)
	}

	health, err := b.GetHealth(ctx)
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	if health.State != StateOpen {
		t.Fatalf("expected OPEN, got %s", health.State)
	}

	allowed, _, err := b.Allow(ctx)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("expected fast-fail while open")
	}
}

func TestRedisHalfOpenRecoversToClosed(t *testing.T) {
	cfg := testConfig()
	b := newTestRedisBreaker(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, done, _ := b.Allow(ctx)
		done(false)
	}

	time.Sleep(30 * time.Millisecond)

	for i := 0; i < 2; i++ {
		allowed, done, err := b.Allow(ctx)
		if err != nil || !allowed {
			t.Fatalf("expected half-open probe %d allowed: %v", i, err)
		}
		done(true)
	}

	health, err := b.GetHealth(ctx)
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	if health.State != StateClosed {
		t.Fatalf("expected CLOSED, got %s", health.State)
	}
}

func TestRedisResetClearsState(t *testing.T) {
	cfg := testConfig()
	b := newTestRedisBreaker(t, cfg)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, done, _ := b.Allow(ctx)
		done(false)
	}
	if err := b.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	health, err := b.GetHealth(ctx)
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	if health.State != StateClosed {
		t.Fatalf("expected CLOSED after reset, got %s", health.State)
	}
}
