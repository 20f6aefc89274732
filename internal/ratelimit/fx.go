package ratelimit

import (
	"context"

	"github.com/renderbank/renderbank/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(NewTokenBucket),
	fx.Provide(NewSubmitLimiter),
)

// SubmitLimiter throttles generation submissions per account. It fails
// open: when redis is unavailable the submission proceeds, since the
// ledger's balance check is the real backstop.
type SubmitLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
	rate   float64
	burst  int
}

func NewSubmitLimiter(cfg config.Config, log *zap.Logger, client *redis.Client) *SubmitLimiter {
	return &SubmitLimiter{
		bucket: NewTokenBucket(client),
		log:    log.Named("ratelimit.submit"),
		rate:   cfg.SubmitRatePerMinute / 60.0,
		burst:  cfg.SubmitBurst,
	}
}

// Allow reports whether this account may submit another generation now.
func (l *SubmitLimiter) Allow(ctx context.Context, accountKey string) (Result, error) {
	if l == nil || l.bucket == nil {
		return Result{Allowed: true}, nil
	}
	res, err := l.bucket.Allow(ctx, "renderbank:submit:"+accountKey, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, failing open", zap.Error(err))
		return Result{Allowed: true}, nil
	}
	return res, nil
}
