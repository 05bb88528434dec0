// RedisManager backs Manager with Redis, so leases are visible across
// process instances and read-then-insert on a scoped key stays atomic.
// Acquisition is SET NX PX; release and extend go through a Lua CAS so
// only the holder of the current token can act on a lease. Lease
// tokens are PASETO v2.local tokens, so a lease handed to one caller
// can't be forged or replayed by release/extend calls from another.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/o1egl/paseto"
	"github.com/redis/go-redis/v9"

	"github.com/plm/payment-orchestrator/errs"
)

// releaseScript deletes the key only if its value still matches the
// caller's token, preventing a caller from releasing a lease it no
// longer holds (e.g. after it expired and was reacquired).
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// extendScript is releaseScript's counterpart for Extend: it refreshes
// the TTL only if the token still matches.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

type leaseClaims struct {
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RedisManager is a distributed Manager backed by Redis.
type RedisManager struct {
	rdb          redis.UniversalClient
	prefix       string
	symmetricKey []byte
	v2           *paseto.V2
}

// NewRedisManager constructs a RedisManager. symmetricKey must be 32
// bytes, matching PASETO v2.local's AEAD key size.
func NewRedisManager(rdb redis.UniversalClient, symmetricKey []byte) *RedisManager {
	return &RedisManager{rdb: rdb, prefix: "orch:lock:", symmetricKey: symmetricKey, v2: paseto.NewV2()}
}

func (m *RedisManager) key(name string) string { return m.prefix + name }

// Acquire attempts a single SET NX PX. Poll-based waiting on a
// PROCESSING admission lives in package idempotency, not here;
// Acquire itself does not block-and-retry.
func (m *RedisManager) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	rawToken := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, m.key(name), rawToken, ttl).Result()
	if err != nil {
		return Lease{}, errs.Wrap(errs.KindInternal, err, "redis SETNX failed")
	}
	if !ok {
		return Lease{}, errs.New(errs.KindLockTimeout, fmt.Sprintf("lock %q already held", name))
	}

	expiresAt := time.Now().Add(ttl)
	claims := leaseClaims{Name: name, Token: rawToken, ExpiresAt: expiresAt}
	data, err := json.Marshal(claims)
	if err != nil {
		return Lease{}, errs.Wrap(errs.KindInternal, err, "marshal lease claims")
	}
	signed, err := m.v2.Encrypt(m.symmetricKey, data, nil)
	if err != nil {
		return Lease{}, errs.Wrap(errs.KindInternal, err, "encrypt lease token")
	}

	return Lease{Name: name, Token: signed, ExpiresAt: expiresAt}, nil
}

func (m *RedisManager) decode(lease Lease) (leaseClaims, error) {
	var data []byte
	var footer []byte
	if err := m.v2.Decrypt(lease.Token, m.symmetricKey, &data, &footer); err != nil {
		return leaseClaims{}, errs.Wrap(errs.KindValidation, err, "decrypt lease token")
	}
	var claims leaseClaims
	if err := json.Unmarshal(data, &claims); err != nil {
		return leaseClaims{}, errs.Wrap(errs.KindValidation, err, "unmarshal lease claims")
	}
	return claims, nil
}

// Release deletes the Redis key only if it still holds this lease's
// raw token, via releaseScript.
func (m *RedisManager) Release(ctx context.Context, lease Lease) error {
	claims, err := m.decode(lease)
	if err != nil {
		return err
	}
	if err := m.rdb.Eval(ctx, releaseScript, []string{m.key(claims.Name)}, claims.Token).Err(); err != nil && err != redis.Nil {
		return errs.Wrap(errs.KindInternal, err, "redis release script failed")
	}
	return nil
}

// Extend refreshes the lease's TTL via extendScript and re-signs a
// lease token with the new expiry.
func (m *RedisManager) Extend(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	claims, err := m.decode(lease)
	if err != nil {
		return Lease{}, err
	}

	res, err := m.rdb.Eval(ctx, extendScript, []string{m.key(claims.Name)}, claims.Token, ttl.Milliseconds()).Result()
	if err != nil {
		return Lease{}, errs.Wrap(errs.KindInternal, err, "redis extend script failed")
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return Lease{}, errs.New(errs.KindLockTimeout, "lease no longer held")
	}

	claims.ExpiresAt = time.Now().Add(ttl)
	data, err := json.Marshal(claims)
	if err != nil {
		return Lease{}, errs.Wrap(errs.KindInternal, err, "marshal lease claims")
	}
	signed, err := m.v2.Encrypt(m.symmetricKey, data, nil)
	if err != nil {
		return Lease{}, errs.Wrap(errs.KindInternal, err, "encrypt lease token")
	}
	return Lease{Name: claims.Name, Token: signed, ExpiresAt: claims.ExpiresAt}, nil
}
