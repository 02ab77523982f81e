package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// StatusError is a non-2xx response from a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// transientMarkers are substrings that identify retryable failures in
// error text from providers and the network stack.
var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"503",
	"529",
	"overload",
	"timeout",
	"timed out",
	"connection reset",
	"econnreset",
	"connection refused",
	"econnrefused",
}

// IsTransient reports whether err is worth retrying: rate limits,
// overloaded or unavailable upstreams, timeouts, and dropped
// connections. Caller cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotConfigured) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case 429, 503, 529:
			return true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryPolicy bounds retries of transient failures. Delays double from
// BaseDelay: with the defaults, 1s, 2s, then 4s.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries three times with 1s, 2s, 4s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

// Delay returns the wait before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	return p.BaseDelay << (n - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CompleteWithRetry calls c.Complete, retrying transient failures per
// policy. Non-transient errors return immediately.
func CompleteWithRetry(ctx context.Context, c Client, req Request, policy RetryPolicy, logger *slog.Logger) (*Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if attempt >= policy.MaxRetries || !IsTransient(err) {
			return nil, err
		}

		delay := policy.Delay(attempt + 1)
		logger.Warn("LLM call failed, retrying",
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", err,
		)
		if serr := sleep(ctx, delay); serr != nil {
			return nil, err
		}
	}
}
