package guard

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shield-moderation/shield-go/pkg/shield"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}.normalize()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, w := range want {
		if got, ok := p.Delay(attempt, errors.New("x")); got != w || !ok {
			t.Fatalf("Delay(%d) = %s %v, want %s", attempt, got, ok, w)
		}
	}

	retryAfter := 3
	throttled := &shield.Error{Kind: shield.KindOperation, StatusCode: http.StatusTooManyRequests, RateLimit: &shield.RateLimitInfo{RetryAfter: &retryAfter}}
	if got, ok := p.Delay(0, throttled); got != 3*time.Second || !ok {
		t.Fatalf("Retry-After should win, got %s %v", got, ok)
	}

	retryAfter = 86400
	if got, ok := p.Delay(0, throttled); ok || got != 24*time.Hour {
		t.Fatalf("Retry-After above MaxBackoff should not be waited on, got %s %v", got, ok)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", &shield.Error{Kind: shield.KindTimeout}, true},
		{"transport", &shield.Error{Kind: shield.KindTransport}, true},
		{"throttled", &shield.Error{Kind: shield.KindOperation, StatusCode: 429}, true},
		{"server error", &shield.Error{Kind: shield.KindOperation, StatusCode: 503}, true},
		{"forbidden", &shield.Error{Kind: shield.KindOperation, StatusCode: 403}, false},
		{"validation", &shield.Error{Kind: shield.KindValidation}, false},
		{"parse", &shield.Error{Kind: shield.KindParse, StatusCode: 200}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSleepCtxHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := sleepCtx(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
}
