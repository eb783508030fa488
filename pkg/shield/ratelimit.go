package shield

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"

	// resetAtLayout renders UTC instants with millisecond precision and a Z suffix.
	resetAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// RateLimitInfo is the server-reported quota state of a single response.
// Nil fields were not present in the response headers.
type RateLimitInfo struct {
	Limit          *int   `json:"limit,omitempty"`
	Remaining      *int   `json:"remaining,omitempty"`
	ResetAt        string `json:"resetAt,omitempty"`
	ResetTimestamp *int64 `json:"resetTimestamp,omitempty"`
	RetryAfter     *int   `json:"retryAfter,omitempty"`
}

// ResetTime returns the reset instant, if the server reported one.
func (r *RateLimitInfo) ResetTime() (time.Time, bool) {
	if r == nil || r.ResetTimestamp == nil {
		return time.Time{}, false
	}
	return time.Unix(*r.ResetTimestamp, 0).UTC(), true
}

// Exhausted reports whether the server said no requests remain in the window.
func (r *RateLimitInfo) Exhausted() bool {
	return r != nil && r.Remaining != nil && *r.Remaining <= 0
}

func (r *RateLimitInfo) clone() *RateLimitInfo {
	if r == nil {
		return nil
	}
	out := &RateLimitInfo{ResetAt: r.ResetAt}
	if r.Limit != nil {
		v := *r.Limit
		out.Limit = &v
	}
	if r.Remaining != nil {
		v := *r.Remaining
		out.Remaining = &v
	}
	if r.ResetTimestamp != nil {
		v := *r.ResetTimestamp
		out.ResetTimestamp = &v
	}
	if r.RetryAfter != nil {
		v := *r.RetryAfter
		out.RetryAfter = &v
	}
	return out
}

// parseRateLimit extracts rate-limit metadata from response headers.
// It returns nil when none of the headers carried a usable value.
func parseRateLimit(h http.Header) *RateLimitInfo {
	if h == nil {
		return nil
	}
	info := &RateLimitInfo{}
	found := false

	if n, ok := headerInt(h, HeaderRateLimitLimit); ok {
		v := int(n)
		info.Limit = &v
		found = true
	}
	if n, ok := headerInt(h, HeaderRateLimitRemaining); ok {
		v := int(n)
		info.Remaining = &v
		found = true
	}
	if n, ok := headerInt(h, HeaderRateLimitReset); ok {
		v := n
		info.ResetTimestamp = &v
		info.ResetAt = formatResetAt(n)
		found = true
	}
	if n, ok := headerInt(h, HeaderRetryAfter); ok {
		v := int(n)
		info.RetryAfter = &v
		found = true
	}

	if !found {
		return nil
	}
	return info
}

func headerInt(h http.Header, key string) (int64, bool) {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func formatResetAt(epochSeconds int64) string {
	return time.Unix(epochSeconds, 0).UTC().Format(resetAtLayout)
}
