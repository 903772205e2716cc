package usecase

import (
	"context"
	"time"
)

// Locker is a cross-instance mutex. Implemented by infra/redis.RedisLocker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter is a fixed-window counter. Implemented by infra/redis.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

const paymentLockTTL = 30 * time.Second

func paymentLockKey(paymentID string) string { return "lock:payment:" + paymentID }

// proposalRateKey keeps the "rate_limit:<scope>:" shape the limiter reports metrics by.
func proposalRateKey(accountID string) string { return "rate_limit:proposal:" + accountID }
