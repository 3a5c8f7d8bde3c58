package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"

	"jobsched/pkg/retry"
)

// Client wraps http.Client with logging and retries of idempotent requests.
type Client struct {
	hc          *stdhttp.Client
	log         *slog.Logger
	retry       retry.Config
	headers     map[string]string
	urlRedactor func(*url.URL) string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries enables n retries with exponential backoff starting at backoff.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retry.MaxAttempts = n + 1
		if backoff > 0 {
			c.retry.InitialDelay = backoff
		}
	}
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConnsPerHost = 16
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second

	c := &Client{
		hc:      &stdhttp.Client{Timeout: 15 * time.Second, Transport: tr},
		log:     slog.Default(),
		headers: make(map[string]string),
		retry: retry.Config{
			MaxAttempts:  1,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// statusError is returned for retryable status codes.
type statusError struct {
	method, url string
	code        int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.method, e.url, e.code)
}

func retryableStatus(code int) bool {
	switch code {
	case stdhttp.StatusRequestTimeout, stdhttp.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func idempotent(method string) bool {
	switch method {
	case stdhttp.MethodGet, stdhttp.MethodHead, stdhttp.MethodOptions, stdhttp.MethodPut, stdhttp.MethodDelete:
		return true
	}
	return false
}

// Do sends a request without a body with context, logging and retries.
// 5xx, 408 and 429 responses of idempotent requests are retried; the last
// response is returned as is once attempts run out.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	cfg := c.retry
	if !idempotent(req.Method) || req.Body != nil {
		cfg.MaxAttempts = 1
	}
	u := c.redactURL(req.URL)

	var resp *stdhttp.Response
	attempt := 0
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		attempt++
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		st := time.Now()
		res, err := c.hc.Do(r)
		if err != nil {
			c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Any("error", err))
			return err
		}
		c.log.Debug("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", res.StatusCode), slog.Duration("dur", time.Since(st)), slog.Int("attempt", attempt))
		if retryableStatus(res.StatusCode) && attempt < cfg.MaxAttempts {
			_, _ = io.CopyN(io.Discard, res.Body, 64<<10)
			_ = res.Body.Close()
			return &statusError{method: r.Method, url: u, code: res.StatusCode}
		}
		resp = res
		return nil
	}, func(err error) bool {
		if _, ok := err.(*statusError); ok {
			return true
		}
		return retry.NetworkRetryable(err)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
