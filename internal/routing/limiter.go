package routing

import (
	"context"
	"time"

	"callbridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// CapacityLimiter caps concurrently ringing calls per org.
//
// Acquire is called before a call starts ringing; Release when it leaves the
// ringing state (accepted, declined, canceled, missed). A false Acquire is a
// normal routing outcome, not an error.
type CapacityLimiter interface {
	Acquire(ctx context.Context, orgID string) (bool, error)
	Release(ctx context.Context, orgID string) error
}

// NoopLimiter never limits. Used when no cap is configured.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(ctx context.Context, orgID string) (bool, error) { return true, nil }
func (NoopLimiter) Release(ctx context.Context, orgID string) error         { return nil }

// RedisLimiter enforces the cap with an atomic counter shared across
// instances. The TTL bounds leakage if an instance dies while holding slots.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ringTimeout time.Duration) *RedisLimiter {
	// Slots must outlive the longest possible ring plus transition slack.
	ttl := 2*ringTimeout + time.Minute
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func capKey(orgID string) string { return "callcap:" + orgID }

func (l *RedisLimiter) Acquire(ctx context.Context, orgID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, capKey(orgID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, orgID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, capKey(orgID))
}
