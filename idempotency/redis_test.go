package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreInsertAndGet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := Record{
		ScopedKey:          "m1:charge:key-1",
		RequestFingerprint: "abc",
		Status:             StatusProcessing,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Hour),
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, found, err := s.Get(ctx, rec.ScopedKey)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.RequestFingerprint != "abc" || got.Status != StatusProcessing {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRedisStoreUpdateTerminal(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := Record{ScopedKey: "m1:charge:key-1", RequestFingerprint: "abc", Status: StatusProcessing, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	result, _ := json.Marshal(map[string]string{"transactionId": "tx_1"})
	if err := s.UpdateTerminal(ctx, rec.ScopedKey, StatusCompleted, result, ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, found, err := s.Get(ctx, rec.ScopedKey)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
	var decoded map[string]string
	if err := json.Unmarshal(got.CachedResult, &decoded); err != nil {
		t.Fatalf("decode cached result: %v", err)
	}
	if decoded["transactionId"] != "tx_1" {
		t.Fatalf("unexpected cached result: %+v", decoded)
	}
}

func TestRedisStoreGetMissing(t *testing.T) {
	s := newTestRedisStore(t)
	_, found, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}
