// Package node executes run commands on the local machine.
package node

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"jobsched/internal/job"
)

// ExitNotStarted is reported when the shell itself could not be started.
const ExitNotStarted = 127

const reportTimeout = 5 * time.Second

// Local runs each command with `sh -c` in its own goroutine. Output goes to
// the job's output writer and the exit code is reported through Job.Report.
type Local struct {
	ctx       context.Context
	logger    *slog.Logger
	shell     string
	waitDelay time.Duration

	mu    sync.Mutex
	procs map[*job.Run]context.CancelFunc
	wg    sync.WaitGroup
}

// Option configures Local.
type Option func(*Local)

// WithShell overrides the shell binary ("sh" by default).
func WithShell(shell string) Option { return func(n *Local) { n.shell = shell } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Local) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewLocal creates a node. Cancelling ctx kills every process still running.
func NewLocal(ctx context.Context, opts ...Option) *Local {
	n := &Local{
		ctx:       ctx,
		logger:    slog.Default(),
		shell:     "sh",
		waitDelay: 5 * time.Second,
		procs:     make(map[*job.Run]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "node")
	return n
}

// Execute implements job.Node. It returns immediately.
func (n *Local) Execute(r *job.Run) {
	ctx, cancel := context.WithCancel(n.ctx)

	n.mu.Lock()
	n.procs[r] = cancel
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			n.mu.Lock()
			delete(n.procs, r)
			n.mu.Unlock()
			cancel()
		}()
		n.run(ctx, r)
	}()
}

// Kill implements job.Killer. The shell and every process in its group get SIGKILL.
func (n *Local) Kill(r *job.Run) {
	n.mu.Lock()
	cancel, ok := n.procs[r]
	n.mu.Unlock()
	if ok {
		n.logger.Info("killing run", "job", r.Job().Name(), "run", r.ID())
		cancel()
	}
}

// Running returns the number of processes in flight.
func (n *Local) Running() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.procs)
}

// Wait blocks until every started process has exited and been reported.
func (n *Local) Wait() {
	n.wg.Wait()
}

func (n *Local) run(ctx context.Context, r *job.Run) {
	j := r.Job()
	out := j.Output()

	cmd := exec.CommandContext(ctx, n.shell, "-c", r.Command())
	cmd.Stdout = out
	cmd.Stderr = out
	killGroup(cmd)
	// the shell may leave children holding the pipes
	cmd.WaitDelay = n.waitDelay

	started := time.Now()
	code := exitCode(cmd.Run())
	n.logger.Debug("process exited", "job", j.Name(), "run", r.ID(), "exit_status", code, "duration", time.Since(started))

	// the node context may already be cancelled on shutdown; the job still
	// gets a bounded chance to record the exit
	rctx, cancel := context.WithTimeout(context.WithoutCancel(n.ctx), reportTimeout)
	defer cancel()
	if err := j.Report(rctx, r, code); err != nil {
		n.logger.Warn("completion not reported", "job", j.Name(), "run", r.ID(), "exit_status", code, "error", err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	// Wait reports the context error instead of the signal when the
	// process was killed through its context
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return job.ExitKilled
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
		// killed by a signal
		return job.ExitKilled
	}
	return ExitNotStarted
}
