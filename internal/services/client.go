package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/crate/internal/metrics"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
	maxBodySize    = 16 << 20
)

// Option configures a service client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	timeout    time.Duration
	baseURL    string
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRateLimiter makes every call wait for a token from l.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimeout bounds each HTTP round trip. Waiting for a rate-limit token is bounded only by the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBaseURL overrides the API root; used by tests.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

func buildOptions(defaultURL string, opts []Option) options {
	o := options{httpClient: http.DefaultClient, timeout: defaultTimeout, baseURL: defaultURL}
	for _, opt := range opts {
		opt(&o)
	}
	o.baseURL = strings.TrimRight(o.baseURL, "/")
	return o
}

// client performs JSON calls against one service and maps failures to [*shared.ServiceError].
type client struct {
	service string
	opts    options
	header  http.Header
}

func newClient(service string, o options, header http.Header) *client {
	if header == nil {
		header = http.Header{}
	}
	return &client{service: service, opts: o, header: header}
}

// wait blocks until the service's limiter grants a token or the caller's ctx is done.
func (c *client) wait(ctx context.Context) error {
	if c.opts.limiter == nil {
		return nil
	}

	start := time.Now()
	err := c.opts.limiter.Wait(ctx)
	c.opts.metrics.ObserveLimiterWait(c.service, time.Since(start))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return shared.NewServiceError(c.service, 0, ctxErr)
	}
	// Wait fails early when the deadline would pass before a token is available.
	return shared.NewServiceError(c.service, 0, fmt.Errorf("%w: rate limit wait: %w", shared.ErrTimeout, err))
}

// getJSON issues a GET for path with query and decodes the response into out.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.decode(body, out)
}

// postJSON sends in as JSON and decodes the response into out when out is non-nil.
func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := c.do(ctx, http.MethodPost, path, nil, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return c.decode(body, out)
}

func (c *client) decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return shared.NewServiceError(c.service, http.StatusOK, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// do performs one rate-limited call and returns the response body of a 2xx response.
func (c *client) do(ctx context.Context, method, path string, query url.Values, in any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The call timeout bounds the round trip only; time queued for a token is not counted.
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	endpoint := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		endpoint = c.opts.baseURL + path
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		c.opts.metrics.ServiceCall(c.service, 0)
		return nil, shared.NewServiceError(c.service, 0, unwrapURLError(err))
	}
	defer resp.Body.Close()
	c.opts.metrics.ServiceCall(c.service, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, shared.NewServiceError(c.service, 0, fmt.Errorf("failed to read response: %w", err))
	}
	return body, nil
}

// statusError converts a non-2xx response, keeping a bounded excerpt of the body.
func (c *client) statusError(resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(excerpt))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var err error
	switch resp.StatusCode {
	case http.StatusNotFound:
		err = fmt.Errorf("%w: %s", shared.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		err = fmt.Errorf("%w: %s", shared.ErrAuthFailed, msg)
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		err = fmt.Errorf("%w: %s", shared.ErrServiceUnavailable, msg)
	default:
		err = errors.New(msg)
	}
	return shared.NewServiceError(c.service, resp.StatusCode, err)
}

// unwrapURLError drops the *url.Error wrapper so messages don't repeat the request URL.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
