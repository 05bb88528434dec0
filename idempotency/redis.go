package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plm/payment-orchestrator/errs"
)

type storedRecord struct {
	ScopedKey          string          `json:"scopedKey"`
	RequestFingerprint string          `json:"requestFingerprint"`
	Status             Status          `json:"status"`
	CachedResult       json.RawMessage `json:"cachedResult,omitempty"`
	CachedError        string          `json:"cachedError,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	ExpiresAt          time.Time       `json:"expiresAt"`
}

// RedisStore is a Store backed by Redis, using the record's own TTL
// as the key's PEXPIRE so expired records disappear on their own; the
// explicit Cleanup sweep exists for the in-memory store and for
// auditability, not because Redis needs help expiring keys.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "orch:idem:"}
}

func (s *RedisStore) key(scopedKey string) string { return s.prefix + scopedKey }

func toStored(rec Record) storedRecord {
	return storedRecord{
		ScopedKey:          rec.ScopedKey,
		RequestFingerprint: rec.RequestFingerprint,
		Status:             rec.Status,
		CachedResult:       rec.CachedResult,
		CachedError:        rec.CachedError,
		CreatedAt:          rec.CreatedAt,
		ExpiresAt:          rec.ExpiresAt,
	}
}

func fromStored(sr storedRecord) Record {
	return Record{
		ScopedKey:          sr.ScopedKey,
		RequestFingerprint: sr.RequestFingerprint,
		Status:             sr.Status,
		CachedResult:       sr.CachedResult,
		CachedError:        sr.CachedError,
		CreatedAt:          sr.CreatedAt,
		ExpiresAt:          sr.ExpiresAt,
	}
}

func (s *RedisStore) Get(ctx context.Context, scopedKey string) (Record, bool, error) {
	data, err := s.rdb.Get(ctx, s.key(scopedKey)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Record{}, false, nil
		}
		return Record{}, false, errs.Wrap(errs.KindInternal, err, "redis get idempotency record")
	}
	var sr storedRecord
	if err := json.Unmarshal(data, &sr); err != nil {
		return Record{}, false, errs.Wrap(errs.KindInternal, err, "unmarshal idempotency record")
	}
	rec := fromStored(sr)
	if rec.IsExpired(time.Now()) {
		s.rdb.Del(ctx, s.key(scopedKey))
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *RedisStore) put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(toStored(rec))
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal idempotency record")
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.rdb.Set(ctx, s.key(rec.ScopedKey), data, ttl).Err(); err != nil {
		return errs.Wrap(errs.KindInternal, err, "redis set idempotency record")
	}
	return nil
}

func (s *RedisStore) Insert(ctx context.Context, rec Record) error {
	return s.put(ctx, rec)
}

func (s *RedisStore) UpdateTerminal(ctx context.Context, scopedKey string, status Status, result json.RawMessage, errMsg string) error {
	rec, found, err := s.Get(ctx, scopedKey)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.KindNotFound, "idempotency record not found")
	}
	rec.Status = status
	rec.CachedResult = result
	rec.CachedError = errMsg
	return s.put(ctx, rec)
}

// Delete removes one record unconditionally.
func (s *RedisStore) Delete(ctx context.Context, scopedKey string) error {
	if err := s.rdb.Del(ctx, s.key(scopedKey)).Err(); err != nil && err != redis.Nil {
		return errs.Wrap(errs.KindInternal, err, "redis delete idempotency record")
	}
	return nil
}

// Cleanup is a best-effort sweep over this prefix's keys; Redis's own
// PEXPIRE already reclaims most of them, so this mainly exists for
// parity with InMemoryStore's explicit sweep and for metrics.
func (s *RedisStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.rdb.Keys(ctx, s.prefix+"*").Result()
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, err, "list idempotency keys")
	}
	removed := 0
	for _, key := range keys {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var sr storedRecord
		if err := json.Unmarshal(data, &sr); err != nil {
			continue
		}
		if fromStored(sr).IsExpired(now) {
			s.rdb.Del(ctx, key)
			removed++
		}
	}
	return removed, nil
}
