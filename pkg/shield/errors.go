package shield

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies every failure the client can surface.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindValidation
	KindTransport
	KindTimeout
	KindParse
	KindOperation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindOperation:
		return "operation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error's Kind.
var (
	ErrConfiguration = errors.New("shield: configuration error")
	ErrValidation    = errors.New("shield: validation error")
	ErrTransport     = errors.New("shield: transport error")
	ErrTimeout       = errors.New("shield: timeout")
	ErrParse         = errors.New("shield: parse error")
	ErrOperation     = errors.New("shield: operation failed")
)

const (
	msgParseFailed   = "failed to parse response"
	msgRequestFailed = "request failed"
)

// Error is the uniform failure shape returned by every client operation.
// StatusCode is zero when no HTTP response was received.
type Error struct {
	Kind       Kind           `json:"-"`
	Op         string         `json:"-"`
	StatusCode int            `json:"statusCode,omitempty"`
	Message    string         `json:"message"`
	Err        string         `json:"error"`
	RateLimit  *RateLimitInfo `json:"rateLimit,omitempty"`

	cause error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != "" && e.Err != e.Message {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Op != "" {
		return fmt.Sprintf("shield %s: %s", e.Op, msg)
	}
	return "shield: " + msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Throttled reports whether the remote service rejected the call with 429.
func (e *Error) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindValidation:
		return ErrValidation
	case KindTransport:
		return ErrTransport
	case KindTimeout:
		return ErrTimeout
	case KindParse:
		return ErrParse
	case KindOperation:
		return ErrOperation
	default:
		return nil
	}
}

func configError(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Err: msg}
}

func validationError(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg, Err: msg}
}

// wrapOp stamps err with the public operation name, keeping the original payload.
// Errors that are not *Error become KindOperation failures.
func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		out := *se
		out.Op = op
		return &out
	}
	return &Error{Kind: KindOperation, Op: op, Message: err.Error(), Err: err.Error(), cause: err}
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsRateLimited reports whether err is a 429 from the remote service.
func IsRateLimited(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Throttled()
}

// RetryAfter returns the server-suggested wait carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var se *Error
	if !errors.As(err, &se) || se.RateLimit == nil || se.RateLimit.RetryAfter == nil {
		return 0, false
	}
	return time.Duration(*se.RateLimit.RetryAfter) * time.Second, true
}
