package guard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shield-moderation/shield-go/pkg/shield"
)

// RetryPolicy bounds how the guard re-attempts Shield calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy mirrors the config defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseBackoff: 500 * time.Millisecond,
	MaxBackoff:  30 * time.Second,
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultRetryPolicy.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// Delay returns the wait before the attempt following the given zero-based attempt.
// A server-provided Retry-After wins over the exponential schedule. ok is false when
// the server asks for longer than MaxBackoff; the caller should give up and let the
// source redeliver instead of blocking.
func (p RetryPolicy) Delay(attempt int, err error) (d time.Duration, ok bool) {
	if ra, found := shield.RetryAfter(err); found && ra > 0 {
		return ra, ra <= p.MaxBackoff
	}
	d = p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff, true
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff, true
	}
	return d, true
}

// Retryable reports whether err is a transient Shield failure.
// Validation, parse and non-429 client errors never succeed on retry.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, shield.ErrTimeout), errors.Is(err, shield.ErrTransport):
		return true
	case shield.IsRateLimited(err):
		return true
	}
	return shield.StatusCode(err) >= http.StatusInternalServerError
}

// withRetry runs fn until it succeeds, fails permanently, or attempts run out.
// fn returns the rate limit of its own response so concurrent calls never mix them up.
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) (*shield.RateLimitInfo, error)) error {
	var err error
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		start := time.Now()
		var rl *shield.RateLimitInfo
		rl, err = fn(ctx)
		if err != nil {
			rl = errorRateLimit(err)
		}
		s.metrics.ObserveCall(op, time.Since(start), err)
		s.metrics.ObserveRateLimit(rl)
		if err == nil || !Retryable(err) || ctx.Err() != nil {
			return err
		}
		if attempt == s.retry.MaxAttempts-1 {
			break
		}

		delay, ok := s.retry.Delay(attempt, err)
		if !ok {
			s.log.WarnObj("shield retry-after exceeds max backoff; leaving for redelivery", "shield_retry", map[string]any{
				"op":             op,
				"attempt":        attempt + 1,
				"retry_after_ms": delay.Milliseconds(),
				"max_backoff_ms": s.retry.MaxBackoff.Milliseconds(),
			})
			return err
		}
		s.log.WarnObj("shield call failed; retrying", "shield_retry", map[string]any{
			"op":       op,
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		s.metrics.Retried(op)
		if serr := s.sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

func errorRateLimit(err error) *shield.RateLimitInfo {
	var se *shield.Error
	if errors.As(err, &se) {
		return se.RateLimit
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
