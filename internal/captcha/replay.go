package captcha

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "optout:captcha:used:"

// ReplayGuard claims a token once. A second claim within the TTL reports false.
type ReplayGuard interface {
	Claim(ctx context.Context, token string) (bool, error)
}

func replayKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return replayKeyPrefix + hex.EncodeToString(sum[:])
}

// RedisReplayGuard records claimed tokens with SET NX EX so every instance shares them.
type RedisReplayGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisReplayGuard(client redis.Cmdable, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func (g *RedisReplayGuard) Claim(ctx context.Context, token string) (bool, error) {
	ok, err := g.client.SetNX(ctx, replayKey(token), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim captcha token: %w", err)
	}
	return ok, nil
}

// MemoryReplayGuard is the single-instance variant.
type MemoryReplayGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemoryReplayGuard(ttl time.Duration, now func() time.Time) *MemoryReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayGuard{ttl: ttl, now: now, claims: make(map[string]time.Time)}
}

func (g *MemoryReplayGuard) Claim(_ context.Context, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.claims {
		if !now.Before(exp) {
			delete(g.claims, k)
		}
	}
	key := replayKey(token)
	if _, used := g.claims[key]; used {
		return false, nil
	}
	g.claims[key] = now.Add(g.ttl)
	return true, nil
}
