package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/models"
)

const rateKeyPrefix = "ratelimit:"

// RedisRateLimiter shares sliding windows between replicas using one sorted set
// per (subject, action), scored by attempt time in nanoseconds
type RedisRateLimiter struct {
	client       redis.UniversalClient
	defaultLimit RateLimit
	limits       map[string]RateLimit
	clock        clock.Clock
	audit        *AuditService
	logger       *slog.Logger
}

// NewRedisRateLimiter creates a Redis-backed limiter
func NewRedisRateLimiter(client redis.UniversalClient, defaultLimit RateLimit, limits map[string]RateLimit, clk clock.Clock, audit *AuditService, logger *slog.Logger) *RedisRateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisRateLimiter{
		client:       client,
		defaultLimit: defaultLimit,
		limits:       limits,
		clock:        clk,
		audit:        audit,
		logger:       logger,
	}
}

func (l *RedisRateLimiter) limitFor(action string) RateLimit {
	if lim, ok := l.limits[action]; ok {
		return lim
	}
	return l.defaultLimit
}

func redisRateKey(subject, action string) string {
	return rateKeyPrefix + subjectKey(subject) + ":" + action
}

// Allow adds the attempt atomically and withdraws it again when it exceeds the limit
func (l *RedisRateLimiter) Allow(ctx context.Context, subject, action string) error {
	lim := l.limitFor(action)
	key := redisRateKey(subject, action)
	now := l.clock.Now()
	member := uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-lim.Window).UnixNano(), 10)

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, lim.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}

	count := int(card.Val())
	if count <= lim.MaxAttempts {
		return nil
	}

	if err := l.client.ZRem(ctx, key, member).Err(); err != nil && l.logger != nil {
		l.logger.WarnContext(ctx, "failed to withdraw rejected attempt", slog.Any("error", err))
	}
	recordLimitHit(ctx, l.audit, l.logger, subject, action, count-1)
	return fmt.Errorf("%s: %w", action, models.ErrRateLimited)
}

// Reset deletes every window key for subject
func (l *RedisRateLimiter) Reset(ctx context.Context, subject string) error {
	iter := l.client.Scan(ctx, 0, rateKeyPrefix+subjectKey(subject)+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan rate keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete rate keys: %w", err)
	}
	return nil
}
