package shield

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shield-moderation/shield-go/pkg/httpclient"
)

const (
	// Version is the SDK release embedded in the User-Agent header.
	Version = "1.0.0"

	DefaultAPIURL  = "https://api.discordshield.net"
	DefaultTimeout = 10 * time.Second

	HeaderAPIKey = "X-API-Key"
	userAgent    = "shield-go-sdk/" + Version
)

// Options controls how a Client talks to the Shield service.
type Options struct {
	// APIURL overrides DefaultAPIURL.
	APIURL string
	// Timeout bounds each request round trip. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Debug logs every request attempt, response and failure to Logger.
	Debug bool
	Logger Logger
	// HTTPClient replaces the resty-backed transport.
	HTTPClient httpclient.Client
}

// config is the immutable, resolved form of Options.
type config struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	debug   bool
}

func normalizeOptions(opts Options) Options {
	opts.APIURL = strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return opts
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid api url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid api url %q: missing host", raw)
	}
	return nil
}
