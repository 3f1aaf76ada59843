package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
)

const maxResponseSize = 32 << 20

// HTTPClient posts JSON-RPC envelopes to the daemon endpoint.
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client for url. Every call is bounded by timeout.
func NewHTTPClient(url string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (c *HTTPClient) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	req := newRequest(method, params)

	var resp response
	err := c.roundTrip(ctx, req, &resp)
	var v json.RawMessage
	if err == nil {
		v, err = resp.value(req.ID)
	}

	observe(method, err)
	if err != nil {
		c.logger.Debug("rpc call failed", "method", method, "error", err)
		return nil, err
	}
	return v, nil
}

func (c *HTTPClient) CallBatch(ctx context.Context, reqs []Request) []Result {
	envs := newRequests(reqs)

	var resps []response
	var results []Result
	if err := c.roundTrip(ctx, envs, &resps); err != nil {
		c.logger.Debug("rpc batch failed", "size", len(reqs), "error", err)
		results = failAll(len(reqs), err)
	} else {
		results = match(envs, resps)
	}

	for i, r := range results {
		observe(reqs[i].Method, r.Err)
	}
	return results
}

func (c *HTTPClient) roundTrip(ctx context.Context, body, out any) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		return errpkg.Unreachable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		return errpkg.Unreachable(err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errpkg.Protocol("http %d: %v", resp.StatusCode, err)
	}
	return nil
}
