package breaker

import (
	"encoding/json"
	"fmt"
	"time"

	"context"

	"github.com/redis/go-redis/v9"
)

// persistedState is the document stored at the breaker's Redis key.
type persistedState struct {
	State                State     `json:"state"`
	ConsecutiveSuccesses int64     `json:"consecutive_successes"`
	ConsecutiveFailures  int64     `json:"consecutive_failures"`
	HealthScore          float64   `json:"health_score"`
	OpenCount            int64     `json:"open_count"`
	LastOpenedAt         time.Time `json:"last_opened_at"`
	LastStateChange      time.Time `json:"last_state_change"`
}

// RedisBreaker is a Breaker backed by Redis, so all orchestrator
// instances observe the same gateway health. Sliding-window failure
// counting uses a sorted set keyed by timestamp; half-open admission
// gating uses a short-TTL counter key, so concurrent half-open probes
// across processes stay bounded.
type RedisBreaker struct {
	rdb    redis.UniversalClient
	cfg    Config
	prefix string
}

// NewRedisBreaker constructs a RedisBreaker for one gateway's Config.
func NewRedisBreaker(rdb redis.UniversalClient, cfg Config) *RedisBreaker {
	return &RedisBreaker{rdb: rdb, cfg: cfg, prefix: "orch:breaker:"}
}

func (b *RedisBreaker) stateKey() string    { return b.prefix + b.cfg.Name }
func (b *RedisBreaker) failuresKey() string { return b.prefix + b.cfg.Name + ":failures" }
func (b *RedisBreaker) halfOpenKey() string { return b.prefix + b.cfg.Name + ":halfopen" }
func (b *RedisBreaker) attemptsKey() string { return b.prefix + b.cfg.Name + ":attempts" }

func (b *RedisBreaker) load(ctx context.Context) (persistedState, error) {
	data, err := b.rdb.Get(ctx, b.stateKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			now := time.Now()
			return persistedState{State: StateClosed, HealthScore: 1.0, LastStateChange: now}, nil
		}
		return persistedState{}, fmt.Errorf("get breaker state: %w", err)
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return persistedState{}, fmt.Errorf("unmarshal breaker state: %w", err)
	}
	return st, nil
}

func (b *RedisBreaker) save(ctx context.Context, st persistedState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal breaker state: %w", err)
	}
	return b.rdb.Set(ctx, b.stateKey(), data, 24*time.Hour).Err()
}

// incrFailureCount runs a ZREMRANGEBYSCORE+ZADD+ZCARD pipeline to
// trim and count the failure window in one round trip.
func (b *RedisBreaker) incrFailureCount(ctx context.Context, now time.Time) (int64, error) {
	key := b.failuresKey()
	windowStart := now.Add(-b.cfg.FailureWindow).UnixMilli()

	pipe := b.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: fmt.Sprintf("%d", now.UnixNano())})
	countCmd := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, b.cfg.FailureWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return countCmd.Val(), nil
}

// Allow implements Breaker.
func (b *RedisBreaker) Allow(ctx context.Context) (bool, func(bool), error) {
	st, err := b.load(ctx)
	if err != nil {
		return false, nil, err
	}
	now := time.Now()

	switch st.State {
	case StateOpen:
		if now.Sub(st.LastStateChange) < b.cfg.OpenTimeout {
			return false, nil, nil
		}
		st.State = StateHalfOpen
		st.ConsecutiveSuccesses = 0
		st.LastStateChange = now
		if err := b.save(ctx, st); err != nil {
			return false, nil, err
		}
		// This request is the first half-open probe.
		if err := b.rdb.Set(ctx, b.halfOpenKey(), 1, b.cfg.OpenTimeout).Err(); err != nil {
			return false, nil, err
		}
	case StateHalfOpen:
		inFlight, err := b.rdb.Incr(ctx, b.halfOpenKey()).Result()
		if err != nil {
			return false, nil, fmt.Errorf("incr half-open gate: %w", err)
		}
		b.rdb.Expire(ctx, b.halfOpenKey(), b.cfg.OpenTimeout)
		if inFlight > b.cfg.HalfOpenMaxAttempts {
			b.rdb.Decr(ctx, b.halfOpenKey())
			return false, nil, nil
		}
	}

	stateAtAdmission := st.State
	done := func(success bool) {
		b.record(context.Background(), stateAtAdmission, success)
	}
	return true, done, nil
}

func (b *RedisBreaker) record(ctx context.Context, stateAtAdmission State, success bool) {
	st, err := b.load(ctx)
	if err != nil {
		return
	}
	now := time.Now()

	st.HealthScore = b.cfg.HealthScoreAlpha*boolToFloat(success) + (1-b.cfg.HealthScoreAlpha)*st.HealthScore

	if success {
		st.ConsecutiveSuccesses++
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures++
		st.ConsecutiveSuccesses = 0
	}

	b.rdb.Incr(ctx, b.attemptsKey())
	b.rdb.Expire(ctx, b.attemptsKey(), b.cfg.FailureWindow)

	if stateAtAdmission == StateHalfOpen {
		b.rdb.Decr(ctx, b.halfOpenKey())
		if !success {
			st.State = StateOpen
			st.LastOpenedAt = now
			st.LastStateChange = now
			st.OpenCount++
		} else if st.ConsecutiveSuccesses >= b.cfg.SuccessThreshold {
			st.State = StateClosed
			st.LastStateChange = now
			b.rdb.Del(ctx, b.failuresKey())
		}
		b.save(ctx, st)
		return
	}

	if success {
		b.save(ctx, st)
		return
	}

	windowFailures, err := b.incrFailureCount(ctx, now)
	if err != nil {
		b.save(ctx, st)
		return
	}
	attempts, err := b.rdb.Get(ctx, b.attemptsKey()).Int64()
	if err != nil || attempts < windowFailures {
		attempts = windowFailures
	}
	failureThreshold, failureRateThreshold := effectiveThresholds(b.cfg, st.HealthScore)
	rate := float64(windowFailures) / float64(max64(attempts, 1))

	if st.ConsecutiveFailures >= failureThreshold || (attempts >= b.cfg.MinSampleSize && rate >= failureRateThreshold) {
		st.State = StateOpen
		st.LastOpenedAt = now
		st.LastStateChange = now
		st.OpenCount++
	}
	b.save(ctx, st)
}

// GetHealth implements Breaker.
func (b *RedisBreaker) GetHealth(ctx context.Context) (Health, error) {
	st, err := b.load(ctx)
	if err != nil {
		return Health{}, err
	}
	failures, err := b.rdb.ZCard(ctx, b.failuresKey()).Result()
	if err != nil && err != redis.Nil {
		return Health{}, err
	}
	attempts, err := b.rdb.Get(ctx, b.attemptsKey()).Int64()
	if err != nil && err != redis.Nil {
		return Health{}, err
	}
	successRate := 1.0
	if attempts > 0 {
		successRate = 1 - float64(failures)/float64(attempts)
	}
	return Health{
		State:                st.State,
		HealthScore:          st.HealthScore,
		SuccessRate:          successRate,
		ConsecutiveSuccesses: st.ConsecutiveSuccesses,
		ConsecutiveFailures:  st.ConsecutiveFailures,
		OpenCount:            st.OpenCount,
		LastOpenedAt:         st.LastOpenedAt,
	}, nil
}

// Reset implements Breaker.
func (b *RedisBreaker) Reset(ctx context.Context) error {
	pipe := b.rdb.Pipeline()
	pipe.Del(ctx, b.stateKey())
	pipe.Del(ctx, b.failuresKey())
	pipe.Del(ctx, b.halfOpenKey())
	pipe.Del(ctx, b.attemptsKey())
	_, err := pipe.Exec(ctx)
	return err
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
