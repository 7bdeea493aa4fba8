package storeproxy

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// CacheFilename is the resources document cached under the data dir after a
// successful store fetch.
const CacheFilename = "store_resources.json"

// nativeResources answers device initialization when neither the store nor
// a cached copy is available.
//
//go:embed resources.json
var nativeResources []byte

// DefaultResources returns the built-in initialization document. Servers
// running without a linked store account answer device initialization with it
// directly.
func DefaultResources() json.RawMessage {
	return nativeResources
}

// Resources returns the vendor initialization document. It prefers a live
// store fetch, then the copy cached under the data dir, then the built-in
// defaults. Device initialization never fails on store trouble.
func (c *Client) Resources(ctx context.Context) json.RawMessage {
	doc, err := c.fetchResources(ctx)
	if err == nil {
		c.cacheResources(doc)
		return doc
	}
	c.logger.Warn("store resources unavailable", zap.Error(err))

	if c.cfg.DataDir != "" {
		if cached, cerr := os.ReadFile(c.cachePath()); cerr == nil {
			return cached
		}
	}
	return nativeResources
}

func (c *Client) fetchResources(ctx context.Context) (json.RawMessage, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath(initPath).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating initialization request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching initialization: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading initialization response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("initialization: status code: %s, body: %s", res.Status, string(data))
	}

	var envelope struct {
		Resources json.RawMessage `json:"Resources"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding initialization response: %w", err)
	}
	if len(envelope.Resources) == 0 {
		return nil, errors.New("initialization response misses the Resources field")
	}
	return envelope.Resources, nil
}

func (c *Client) cacheResources(doc json.RawMessage) {
	if c.cfg.DataDir == "" {
		return
	}
	if err := atomic.WriteFile(c.cachePath(), bytes.NewReader(doc)); err != nil {
		c.logger.Warn("failed to cache store resources", zap.Error(err))
	}
}

func (c *Client) cachePath() string {
	return filepath.Join(c.cfg.DataDir, CacheFilename)
}
