package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryPolicy controls how transient embedding failures are retried.
// The delay grows linearly with the attempt number; a rate-limit response
// additionally doubles the backoff factor for the rest of the call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is used by the ingestion pipeline when no policy is
// configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   1200 * time.Millisecond,
}

// WithRetries runs fn, retrying transient failures per the policy.
// Non-transient errors and context cancellation abort immediately.
func (p RetryPolicy) WithRetries(ctx context.Context, logger *slog.Logger, desc string, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	factor := 1
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if IsRateLimited(lastErr) {
			factor *= 2
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.BaseDelay * time.Duration(attempt) * time.Duration(factor)
		logger.Warn("transient failure, retrying",
			"op", desc, "attempt", attempt, "max_attempts", p.MaxAttempts,
			"delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %d attempts failed: %w", desc, p.MaxAttempts, lastErr)
}

// IsTransient reports whether an error looks retryable: connection resets,
// timeouts, DNS hiccups, rate limits, or provider 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if IsRateLimited(err) {
		return true
	}

	// Provider SDK errors only surface the HTTP status in the message.
	msg := err.Error()
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, "status code: "+code) || strings.Contains(msg, "status "+code) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether an error is an HTTP 429 response.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
