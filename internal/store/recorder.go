package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jobsched/internal/job"
	"jobsched/internal/shared"
	"jobsched/pkg/retry"
)

type record struct {
	jobName string
	snap    job.Snapshot
}

// Recorder persists run transitions in the background. Hook is safe to
// call under a job lock: it never blocks and drops records when the queue
// is full.
type Recorder struct {
	store  Store
	logger *slog.Logger
	retry  retry.Config

	mu      sync.RWMutex
	closed  bool
	queue   chan record
	done    chan struct{}
	cancel  context.CancelFunc
	dropped atomic.Int64
}

// NewRecorder creates a recorder with a queue of size records.
func NewRecorder(s Store, size int, logger *slog.Logger) *Recorder {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  s,
		logger: logger.With("component", "recorder"),
		retry:  retry.DefaultConfig(),
		queue:  make(chan record, size),
		done:   make(chan struct{}),
	}
}

// Hooks returns job hooks feeding the recorder.
func (r *Recorder) Hooks() job.Hooks {
	return job.Hooks{OnTransition: r.Hook}
}

// Hook enqueues a snapshot for saving.
func (r *Recorder) Hook(jobName string, snap job.Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- record{jobName: jobName, snap: snap}:
	default:
		r.dropped.Add(1)
		r.logger.Warn("recorder queue full, snapshot dropped", "job", jobName, "run", snap.ID, "state", snap.State)
	}
}

// Dropped returns how many snapshots were dropped on a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	for rec := range r.queue {
		r.save(ctx, rec)
	}
}

func (r *Recorder) save(ctx context.Context, rec record) {
	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warn("snapshot save failed, retrying", "job", rec.jobName, "run", rec.snap.ID, "attempt", attempt, "delay", delay, "error", err)
	}
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		return r.store.Save(ctx, rec.jobName, rec.snap)
	}, func(err error) bool {
		return !shared.IsValidation(err) && !shared.IsIntegrity(err) && !errors.Is(err, context.Canceled)
	})
	if err != nil {
		r.logger.Error("snapshot lost", "job", rec.jobName, "run", rec.snap.ID, "state", rec.snap.State, "error", err)
	}
}

// Close stops accepting snapshots and waits until the queue is drained or
// ctx is done, in which case pending writes are abandoned.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	defer r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}
