// Package ratelimit paces outbound SMS sends against the provider's
// throughput cap so bursts of due notifications do not turn into provider
// rejections.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const sendBucketKey = "sms:outbound"

// Config holds the outbound send pacing settings
type Config struct {
	Enabled           bool
	MessagesPerWindow int
	Window            time.Duration
	MaxWait           time.Duration
}

// SendLimiter admits outbound sends through a single Redis-backed sliding
// window shared by every dispatcher instance. A nil or disabled limiter
// admits everything.
type SendLimiter struct {
	limiter *redis.RateLimiter
	config  Config
	logger  ectologger.Logger
}

func NewSendLimiter(client *redis.Client, config Config, logger ectologger.Logger) *SendLimiter {
	if config.MessagesPerWindow <= 0 {
		config.MessagesPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Second
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 30 * time.Second
	}

	return &SendLimiter{
		limiter: redis.NewRateLimiter(client, "clover:ratelimit:"),
		config:  config,
		logger:  logger,
	}
}

// Wait blocks until the outbound bucket admits one send or the wait budget
// runs out. Redis errors fail open and admit the send.
func (l *SendLimiter) Wait(ctx context.Context) error {
	if l == nil || !l.config.Enabled {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "SendLimiter.Wait")
	defer span.End()

	start := time.Now()
	deadline := start.Add(l.config.MaxWait)

	for {
		result, err := l.limiter.Allow(ctx, sendBucketKey, int64(l.config.MessagesPerWindow), l.config.Window)
		if err != nil {
			l.logger.WithContext(ctx).WithError(err).Errorf("send rate limit check failed")
			return nil
		}

		if result.Allowed {
			metrics.RateLimitWaitTime.Observe(time.Since(start).Seconds())
			return nil
		}

		retryIn := result.RetryIn
		if retryIn <= 0 {
			retryIn = 100 * time.Millisecond
		}

		if time.Now().Add(retryIn).After(deadline) {
			return fmt.Errorf("send rate limit would exceed max wait of %v", l.config.MaxWait)
		}

		l.logger.WithContext(ctx).Debugf("send rate limited, waiting %v", retryIn)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryIn):
			// Check again
		}
	}
}

// Backoff blocks the outbound bucket for the given duration. Used when the
// provider answers 429 with a Retry-After so later cycles stop hammering it.
func (l *SendLimiter) Backoff(ctx context.Context, d time.Duration) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	if d <= 0 {
		return nil
	}

	l.logger.WithContext(ctx).Warnf("provider requested backoff, blocking sends for %v", d)
	return l.limiter.BlockFor(ctx, sendBucketKey, d)
}

// ParseRetryAfter parses a Retry-After header value
// Returns the duration to wait before retrying
func ParseRetryAfter(value string) (time.Duration, error) {
	// Try parsing as seconds
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	// Try parsing as HTTP date (RFC 1123)
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return time.Until(t), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}
