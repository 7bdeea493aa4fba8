// Package storeproxy relays selected device calls to the upstream vendor
// store when an account is linked. The rest of the server consumes exactly
// two calls: the sync merge and the initialization resources document;
// everything else the device asks for is answered locally.
package storeproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	syncPath = "/v1/library/sync"
	initPath = "/v1/initialization"

	// Header names mirror the device-facing protocol so the passthrough
	// stays symmetric on both legs.
	headerSyncToken        = "x-bindery-synctoken"
	headerSyncContinuation = "x-bindery-sync"
	continuationValue      = "continue"
)

// Config is the store proxy section of the server configuration. Enabled
// gates construction of the client; the remaining knobs shape the retrying
// HTTP transport. DataDir is set by the owning application, not by the
// configuration file.
type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base-url"`
	RequestTimeout    time.Duration `mapstructure:"request-timeout"`
	RequestRetryDelay time.Duration `mapstructure:"retry-delay"`
	MaxRequestRetries int           `mapstructure:"retry-max"`

	DataDir string
}

// DefaultConfig returns the transport settings used against the vendor
// store unless overridden.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://store.bindery.example",
		RequestTimeout:    10 * time.Second,
		RequestRetryDelay: 500 * time.Millisecond,
		MaxRequestRetries: 3,
	}
}

// MergeResult carries one round of upstream records relayed to the device.
type MergeResult struct {
	// Records are upstream sync entries passed through verbatim.
	Records []json.RawMessage
	// Token is the opaque upstream continuation state to embed into the
	// next device token.
	Token string
	// Continuation reports that the upstream holds more data and the
	// device should call again.
	Continuation bool
}

// A wrapper around zap.Logger to make it compatible with
// retryablehttp.LeveledLogger interface.
type retryableHttpLogger struct {
	inner *zap.Logger
}

func (r retryableHttpLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHttpLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHttpLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHttpLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

// Client talks to the vendor store over retrying HTTP.
type Client struct {
	cfg     Config
	baseURL *url.URL
	client  *retryablehttp.Client
	logger  *zap.Logger
}

type Opt func(*Client)

func WithLogger(logger *zap.Logger) Opt {
	return func(c *Client) {
		c.logger = logger
		c.client.Logger = &retryableHttpLogger{inner: logger}
		c.client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
			c.logger.Debug(
				"store response received",
				zap.Stringer("url", resp.Request.URL),
				zap.Int("status", resp.StatusCode),
			)
		}
	}
}

func withCustomHttpClient(client *http.Client) Opt {
	return func(c *Client) {
		c.client.HTTPClient = client
	}
}

// New returns a store client for the configured vendor base url.
func New(cfg Config, opts ...Opt) (*Client, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing store url: %w", err)
	}
	if baseURL.Scheme == "" {
		baseURL.Scheme = "https"
	}

	c := &Client{
		cfg:     cfg,
		baseURL: baseURL,
		client: &retryablehttp.Client{
			HTTPClient:   &http.Client{Timeout: cfg.RequestTimeout},
			RetryMax:     cfg.MaxRequestRetries,
			RetryWaitMin: cfg.RequestRetryDelay,
			RetryWaitMax: 2 * cfg.RequestRetryDelay,
			Backoff:      retryablehttp.LinearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Info(
		"created store client",
		zap.Stringer("url", baseURL),
		zap.Int("max retries", c.client.RetryMax),
		zap.Duration("min retry wait", c.client.RetryWaitMin),
		zap.Duration("max retry wait", c.client.RetryWaitMax),
	)
	return c, nil
}

func (c *Client) Address() string {
	return c.baseURL.String()
}

// MergeSync forwards one sync round to the vendor store. upstream is the
// vendor token blob saved from the previous round, empty on a full resync.
func (c *Client) MergeSync(ctx context.Context, upstream string) (*MergeResult, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath(syncPath).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating sync request: %w", err)
	}
	if upstream != "" {
		req.Header.Set(headerSyncToken, upstream)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("merging store sync: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading store sync response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store sync: status code: %s, body: %s", res.Status, string(data))
	}

	result := &MergeResult{
		Token:        res.Header.Get(headerSyncToken),
		Continuation: res.Header.Get(headerSyncContinuation) == continuationValue,
	}
	if err := json.Unmarshal(data, &result.Records); err != nil {
		return nil, fmt.Errorf("decoding store sync records: %w", err)
	}
	return result, nil
}
