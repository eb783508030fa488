package shield

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKindOnly(t *testing.T) {
	err := &Error{Kind: KindTimeout, Message: "request timed out after 1s"}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout sentinel to match")
	}
	if errors.Is(err, ErrTransport) {
		t.Fatalf("transport sentinel must not match a timeout")
	}
}

func TestWrapOpKeepsPayload(t *testing.T) {
	remaining := 0
	cause := errors.New("dial tcp: refused")
	orig := &Error{
		Kind:       KindOperation,
		StatusCode: 403,
		Message:    "Insufficient permissions",
		Err:        "Forbidden",
		RateLimit:  &RateLimitInfo{Remaining: &remaining},
		cause:      cause,
	}

	err := wrapOp(opReportAction, orig)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.Op != opReportAction || se.StatusCode != 403 || se.Message != "Insufficient permissions" {
		t.Fatalf("payload lost: %#v", se)
	}
	if orig.Op != "" {
		t.Fatalf("wrapOp must not mutate the original")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause chain lost")
	}
	if got := se.Error(); got != "shield report action: Insufficient permissions: Forbidden (status 403)" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestWrapOpForeignError(t *testing.T) {
	err := wrapOp(opCheckUser, fmt.Errorf("boom"))
	if !errors.Is(err, ErrOperation) {
		t.Fatalf("foreign errors should become operation errors: %v", err)
	}
	if wrapOp(opCheckUser, nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestRetryAfterHelper(t *testing.T) {
	if _, ok := RetryAfter(errors.New("x")); ok {
		t.Fatalf("plain errors carry no retry-after")
	}
	if _, ok := RetryAfter(&Error{Kind: KindOperation}); ok {
		t.Fatalf("missing rate limit carries no retry-after")
	}
}

func TestRiskLevelAtLeast(t *testing.T) {
	if !RiskCritical.AtLeast(RiskHigh) || RiskLow.AtLeast(RiskMedium) {
		t.Fatalf("unexpected risk ordering")
	}
	if RiskLevel("weird").AtLeast(RiskNone) {
		t.Fatalf("unknown levels must rank below none")
	}
}
