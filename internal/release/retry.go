package release

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/google/go-github/v69/github"

	logx "relnotify/pkg/logx"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// doWithRetry runs fn, retrying transient failures with jittered exponential
// backoff. Permanent failures (404, malformed responses) surface immediately;
// the caller decides whether they mean "nothing to do".
func doWithRetry[T any](ctx context.Context, cfg RetryConfig, log logx.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt >= cfg.MaxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		log.Debug("retrying upstream call",
			logx.String("op", op), logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay), logx.Err(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}

// isRetryable classifies transient infrastructure failures: network errors,
// 5xx, and rate limiting. 4xx (other than 429) is permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		return code >= 500 || code == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unclassified errors (connection reset, EOF mid-body) lean retryable.
	return true
}

// isNotFound reports the permanent "upstream has nothing" case.
func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

func retryDelay(cfg RetryConfig, attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1), capped.
	d := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.MaxDelay {
			d = cfg.MaxDelay
			break
		}
	}
	// Jitter 0.7..1.3 so concurrent clients don't sync up.
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
