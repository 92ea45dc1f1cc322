// Package upstream talks to the clinic's REST service of record. Reads get
// one retry; writes are sent exactly once.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryDelay sets the pause before the single read retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger attaches a logger for per-call diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client is a thin JSON client for the clinic service.
type Client struct {
	base       *url.URL
	http       *http.Client
	timeout    time.Duration
	retryDelay time.Duration
	logger     zerolog.Logger
}

const maxBody = 4 << 20

// New creates a Client for baseURL. Every attempt is bounded by timeout.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse upstream url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("upstream url must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		base:       u,
		http:       &http.Client{},
		timeout:    timeout,
		retryDelay: 200 * time.Millisecond,
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Timeout is the per-attempt deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Get reads path. A transport failure or 5xx answer is retried once.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (Body, error) {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err == nil || !errors.Is(err, ErrUnavailable) {
		return body, err
	}
	c.logger.Warn().Err(err).Str("path", path).Msg("retrying upstream read")
	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(c.retryDelay):
	}
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) Post(ctx context.Context, path string, payload any) (Body, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

func (c *Client) Put(ctx context.Context, path string, payload any) (Body, error) {
	return c.do(ctx, http.MethodPut, path, nil, payload)
}

func (c *Client) Patch(ctx context.Context, path string, payload any) (Body, error) {
	return c.do(ctx, http.MethodPatch, path, nil, payload)
}

func (c *Client) Delete(ctx context.Context, path string, query url.Values) error {
	_, err := c.do(ctx, http.MethodDelete, path, query, nil)
	return err
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (Body, error) {
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s %s", method, path)
		}
		reader = bytes.NewReader(buf)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("method", method).
			Str("path", path).
			Bool("timeout", isTimeout(err)).
			Dur("duration", time.Since(start)).
			Msg("upstream call failed")
		return nil, errors.WithMessagef(&transportError{err: err}, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.WithMessagef(&transportError{err: err}, "read %s %s", method, path)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("upstream call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Detail: detail(body)}
	}
	return Body(body), nil
}
