package shield

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/shield-moderation/shield-go/pkg/httpclient"
)

const (
	pathCheck        = "/api/v1/shield/check"
	pathReportAction = "/api/v1/shield/report-action"
	pathStats        = "/api/v1/shield/stats"

	opCheckUser    = "check user"
	opReportAction = "report action"
	opNetworkStats = "get network stats"
)

// Client talks to the Shield moderation-intelligence service.
// It is safe for concurrent use; the last observed rate limit is its only mutable state.
type Client struct {
	cfg  config
	http httpclient.Client
	log  Logger

	mu            sync.RWMutex
	lastRateLimit *RateLimitInfo
}

// New builds a client for apiKey. It performs no I/O.
func New(apiKey string, opts Options) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, configError("api key is required")
	}

	opts = normalizeOptions(opts)
	if err := validateBaseURL(opts.APIURL); err != nil {
		return nil, configError(err.Error())
	}

	transport := opts.HTTPClient
	if transport == nil {
		transport = httpclient.NewRestyClient(opts.Timeout)
	}

	return &Client{
		cfg: config{
			apiKey:  apiKey,
			baseURL: opts.APIURL,
			timeout: opts.Timeout,
			debug:   opts.Debug,
		},
		http: transport,
		log:  ensureLogger(opts.Logger),
	}, nil
}

type checkRequest struct {
	UserID string `json:"userId"`
}

// CheckUser fetches the network risk profile of userID.
func (c *Client) CheckUser(ctx context.Context, userID string) (*UserCheck, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationError(opCheckUser, "userId is required")
	}

	resp, err := c.send(ctx, http.MethodPost, pathCheck, checkRequest{UserID: userID})
	if err != nil {
		return nil, wrapOp(opCheckUser, err)
	}
	if resp.env.failed() {
		return nil, resp.operationFailure(opCheckUser)
	}

	var out UserCheck
	if err := resp.decodeData(&out); err != nil {
		return nil, wrapOp(opCheckUser, err)
	}
	out.RateLimit = resp.rateLimit.clone()
	return &out, nil
}

// ReportAction records a moderation action with the network. The report is validated
// before any request is made.
func (c *Client) ReportAction(ctx context.Context, report ActionReport) (*ReportResult, error) {
	if err := validateReport(report); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, http.MethodPost, pathReportAction, report)
	if err != nil {
		return nil, wrapOp(opReportAction, err)
	}
	if resp.env.failed() {
		return nil, resp.operationFailure(opReportAction)
	}

	var out ReportResult
	if err := resp.decodeAll(&out); err != nil {
		return nil, wrapOp(opReportAction, err)
	}
	out.RateLimit = resp.rateLimit.clone()
	return &out, nil
}

// NetworkStats fetches aggregate counters for the whole network.
func (c *Client) NetworkStats(ctx context.Context) (*NetworkStats, error) {
	resp, err := c.send(ctx, http.MethodGet, pathStats, nil)
	if err != nil {
		return nil, wrapOp(opNetworkStats, err)
	}
	if resp.env.failed() {
		return nil, resp.operationFailure(opNetworkStats)
	}

	var out NetworkStats
	if err := resp.decodeData(&out); err != nil {
		return nil, wrapOp(opNetworkStats, err)
	}
	return &out, nil
}

// VerifyAPIKey reports whether the configured key can read network stats.
// It never returns the underlying failure.
func (c *Client) VerifyAPIKey(ctx context.Context) bool {
	_, err := c.NetworkStats(ctx)
	if err != nil && c.cfg.debug {
		c.log.WarnObj("shield api key verification failed", "shield_error", errorFields(err))
	}
	return err == nil
}

// RateLimit returns the rate limit reported by the most recent response, or nil
// when no response has been received yet.
//
// Every response updates the snapshot, including non-2xx ones. A response
// without rate-limit headers resets it to nil, so a non-nil value always
// describes the latest reply and never an older one.
func (c *Client) RateLimit() *RateLimitInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRateLimit.clone()
}

func (c *Client) storeRateLimit(rl *RateLimitInfo) {
	c.mu.Lock()
	c.lastRateLimit = rl.clone()
	c.mu.Unlock()
}
