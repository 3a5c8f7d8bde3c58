// Package httpapi exposes jobs and their runs over HTTP.
//
//	GET  /healthz
//	GET  /jobs
//	GET  /jobs/:name/runs?state=FAILED
//	POST /jobs/:name/runs
//	POST /jobs/:name/runs/:id/cancel
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobsched/internal/job"
)

// Pinger reports whether the run store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the API serves.
type Deps struct {
	Jobs   *job.Registry
	Store  Pinger
	Logger *slog.Logger
	// Webhook, when set, is mounted at WebhookPath (Telegram updates).
	Webhook http.Handler
}

// WebhookPath is where Telegram delivers updates in webhook mode.
const WebhookPath = "/telegram/webhook"

type handlers struct {
	jobs   *job.Registry
	store  Pinger
	logger *slog.Logger
}

// NewRouter builds the gin engine with all routes.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	h := &handlers{jobs: d.Jobs, store: d.Store, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(logger))

	r.GET("/healthz", h.health)
	r.GET("/jobs", h.listJobs)
	r.GET("/jobs/:name/runs", h.listRuns)
	r.POST("/jobs/:name/runs", h.startRun)
	r.POST("/jobs/:name/runs/:id/cancel", h.cancelRun)

	if d.Webhook != nil {
		r.POST(WebhookPath, gin.WrapH(d.Webhook))
	}
	return r
}

// Server runs the router on an address until shut down.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

// Start serves in a goroutine. Listen errors other than a clean shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for active ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
