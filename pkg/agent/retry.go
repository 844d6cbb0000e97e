package agent

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorClass partitions agent-runtime failures for the retry policy.
type ErrorClass int

const (
	// ClassFatal covers everything that is not a rate limit: validation,
	// connectivity, malformed output. Never retried.
	ClassFatal ErrorClass = iota

	// ClassRateLimited marks throttling by the hosted runtime.
	ClassRateLimited
)

var waitHintPattern = regexp.MustCompile(`(?i)(\d+)\s*seconds?`)

// ClassifyError inspects an error for rate-limit indicators. For rate
// limits it also reports an explicit wait duration when the runtime's
// message contains one ("retry after 5 seconds"), zero otherwise.
//
// The matching is on message text because the hosted runtime does not
// expose a structured error code; keeping it in one function makes it
// swappable when it does.
func ClassifyError(err error) (ErrorClass, time.Duration) {
	if err == nil {
		return ClassFatal, 0
	}

	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "rate limit") && !strings.Contains(msg, "rate_limit") {
		return ClassFatal, 0
	}

	if match := waitHintPattern.FindStringSubmatch(err.Error()); match != nil {
		if seconds, convErr := strconv.Atoi(match[1]); convErr == nil {
			return ClassRateLimited, time.Duration(seconds) * time.Second
		}
	}
	return ClassRateLimited, 0
}

// RetryConfig tunes the rate-limit retry policy.
type RetryConfig struct {
	// MaxRetries is the total number of attempts (not extra attempts).
	MaxRetries int

	// InitialDelay seeds the exponential backoff used when the error
	// carries no explicit wait hint.
	InitialDelay time.Duration

	// BackoffFactor multiplies the delay per attempt.
	BackoffFactor float64

	// RetryOnRateLimit disables the policy entirely when false.
	RetryOnRateLimit bool

	// Sleep is a test seam; nil means context-aware real sleeping.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig mirrors the runtime's documented throttling windows.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		InitialDelay:     5 * time.Second,
		BackoffFactor:    2.0,
		RetryOnRateLimit: true,
	}
}

// WithRetry executes op up to cfg.MaxRetries times. Only rate-limit errors
// are retried; anything else propagates from the first attempt. An explicit
// wait hint in the error text wins over the exponential default.
func WithRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (string, error)) (string, error) {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		class, waitHint := ClassifyError(err)
		if class != ClassRateLimited || !cfg.RetryOnRateLimit || attempt == cfg.MaxRetries-1 {
			return "", err
		}

		wait := waitHint
		if wait <= 0 {
			wait = time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
		}

		slog.Warn("Rate limit detected, backing off",
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"wait", wait)

		if err := sleep(ctx, cfg, wait); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

func sleep(ctx context.Context, cfg RetryConfig, d time.Duration) error {
	if cfg.Sleep != nil {
		return cfg.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
