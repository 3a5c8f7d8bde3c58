// Package resource provides readiness gates a job waits on before a run may start.
package resource

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"jobsched/internal/platform/httpclient"
)

// Always is a gate that is always open.
type Always struct{}

// Ready implements job.Resource.
func (Always) Ready() bool { return true }

// File is ready once Path exists.
type File struct {
	Path string
}

// Ready implements job.Resource.
func (f File) Ready() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// HTTP is ready while a GET of URL answers 2xx within Timeout.
type HTTP struct {
	URL     string
	Timeout time.Duration

	client *httpclient.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP gate probing url.
func NewHTTP(url string, timeout time.Duration, logger *slog.Logger) *HTTP {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		URL:     url,
		Timeout: timeout,
		client:  httpclient.New(httpclient.WithTimeout(timeout), httpclient.WithLogger(logger)),
		logger:  logger,
	}
}

// Ready implements job.Resource.
func (h *HTTP) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		h.logger.Warn("bad resource url", "url", h.URL, "error", err)
		return false
	}
	resp, err := h.client.Do(ctx, req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
