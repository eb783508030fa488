package shield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shield-moderation/shield-go/pkg/httpclient"
)

// response is a 2xx reply whose body parsed as JSON.
type response struct {
	status    int
	body      []byte
	env       envelope
	rateLimit *RateLimitInfo
}

// send performs one round trip and normalizes its outcome. It returns either a
// parsed 2xx response or an *Error, never both.
func (c *Client) send(ctx context.Context, method, path string, body any) (*response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "failed to encode request body", Err: err.Error(), cause: err}
		}
		payload = b
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	reqURL := c.cfg.baseURL + path
	c.debug("shield request", "shield_request", map[string]any{
		"method": method,
		"url":    reqURL,
	})

	start := time.Now()
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: method,
		URL:    reqURL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			HeaderAPIKey:   c.cfg.apiKey,
			"User-Agent":   userAgent,
		},
		Body: payload,
	})
	if err != nil {
		failure := c.transportFailure(ctx, err)
		c.debugError(failure)
		return nil, failure
	}

	status := resp.StatusCode()
	rl := parseRateLimit(resp.Header())
	c.storeRateLimit(rl)

	c.debug("shield response", "shield_response", map[string]any{
		"method":     method,
		"url":        reqURL,
		"status":     status,
		"rate_limit": rl,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	raw := resp.Body()
	var env envelope
	if err := decodeJSON(raw, &env); err != nil {
		failure := &Error{
			Kind:       KindParse,
			StatusCode: status,
			Message:    msgParseFailed,
			Err:        err.Error(),
			RateLimit:  rl,
			cause:      err,
		}
		c.debugError(failure)
		return nil, failure
	}

	if status < 200 || status >= 300 {
		failure := &Error{
			Kind:       KindOperation,
			StatusCode: status,
			Message:    firstNonEmpty(env.Message, env.Error, msgRequestFailed),
			Err:        firstNonEmpty(env.Error, env.Message, msgRequestFailed),
			RateLimit:  rl,
		}
		c.debugError(failure)
		return nil, failure
	}

	return &response{status: status, body: raw, env: env, rateLimit: rl}, nil
}

func (c *Client) transportFailure(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("request timed out after %s", c.cfg.timeout),
			Err:     err.Error(),
			cause:   err,
		}
	}
	return &Error{
		Kind:    KindTransport,
		Message: err.Error(),
		Err:     "network error",
		cause:   err,
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// operationFailure builds the error for a 2xx reply that carried success:false.
func (r *response) operationFailure(op string) *Error {
	return &Error{
		Kind:       KindOperation,
		Op:         op,
		StatusCode: r.status,
		Message:    firstNonEmpty(r.env.Error, r.env.Message, msgRequestFailed),
		Err:        firstNonEmpty(r.env.Error, r.env.Message, msgRequestFailed),
		RateLimit:  r.rateLimit.clone(),
	}
}

// decodeData unmarshals the envelope's data field into out.
func (r *response) decodeData(out any) error {
	data := bytes.TrimSpace(r.env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return r.parseFailure(errors.New("response has no data"))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return r.parseFailure(err)
	}
	return nil
}

// decodeAll unmarshals the whole body into out.
func (r *response) decodeAll(out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		return r.parseFailure(err)
	}
	return nil
}

func (r *response) parseFailure(err error) *Error {
	return &Error{
		Kind:       KindParse,
		StatusCode: r.status,
		Message:    msgParseFailed,
		Err:        err.Error(),
		RateLimit:  r.rateLimit.clone(),
		cause:      err,
	}
}

func decodeJSON(raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(raw, out)
}

// debug writes request diagnostics at info level. The Debug option is the
// gate, so they show up under a logger configured for info.
func (c *Client) debug(msg, key string, fields map[string]any) {
	if !c.cfg.debug {
		return
	}
	c.log.InfoObj(msg, key, fields)
}

func (c *Client) debugError(err *Error) {
	if !c.cfg.debug {
		return
	}
	c.log.ErrorObj("shield request failed", "shield_error", errorFields(err))
}

func errorFields(err error) map[string]any {
	var se *Error
	if !errors.As(err, &se) {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{
		"kind":        se.Kind.String(),
		"op":          se.Op,
		"status_code": se.StatusCode,
		"message":     se.Message,
		"error":       se.Err,
		"rate_limit":  se.RateLimit,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
