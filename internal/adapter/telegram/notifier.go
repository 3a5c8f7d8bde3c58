package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"

	"jobsched/internal/job"
	"jobsched/pkg/retry"
)

type notice struct {
	jobName string
	snap    job.Snapshot
}

// Notifier posts a message to one chat for every run that fails.
type Notifier struct {
	sender Sender
	chatID int64
	logger *slog.Logger
	retry  retry.Config

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan notice
	done    chan struct{}
}

// NewNotifier creates a notifier. Start must be called before notices are delivered.
func NewNotifier(s Sender, chatID int64, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	rc := retry.DefaultConfig()
	rc.MaxAttempts = 3
	rc.InitialDelay = 500 * time.Millisecond
	return &Notifier{
		sender: s,
		chatID: chatID,
		logger: logger.With("component", "telegram"),
		retry:  rc,
		queue:  make(chan notice, 64),
		done:   make(chan struct{}),
	}
}

// Hook is a job.Hooks transition callback. It only queues FAILED runs and never blocks.
func (n *Notifier) Hook(jobName string, snap job.Snapshot) {
	if snap.State != job.StateFailed {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- notice{jobName: jobName, snap: snap}:
	default:
		n.logger.Warn("notification queue full", "job", jobName, "run", snap.ID)
	}
}

// Start launches the sending goroutine. It exits when ctx is done or Close is called.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	n.started = true
	n.mu.Unlock()
	go func() {
		defer close(n.done)
		for {
			select {
			case <-ctx.Done():
				return
			case nt, ok := <-n.queue:
				if !ok {
					return
				}
				n.send(ctx, nt)
			}
		}
	}()
}

// Close stops accepting notices and waits for the sender goroutine.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	started := n.started
	n.mu.Unlock()
	if started {
		<-n.done
	}
}

func (n *Notifier) send(ctx context.Context, nt notice) {
	err := retry.DoWithRetryable(ctx, n.retry, func(ctx context.Context) error {
		_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: n.chatID,
			Text:   FormatFailure(nt.jobName, nt.snap),
		})
		return err
	}, retry.NetworkRetryable)
	if err != nil {
		n.logger.Error("failed to send notification", "job", nt.jobName, "run", nt.snap.ID, "error", err)
	}
}

// FormatFailure renders the message sent for a failed run.
func FormatFailure(jobName string, snap job.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ %s: run %s failed", jobName, snap.ID)
	if snap.ExitStatus != nil {
		fmt.Fprintf(&b, " (exit status %d)", *snap.ExitStatus)
	}
	if snap.StartTime != nil && snap.EndTime != nil {
		fmt.Fprintf(&b, " after %s", snap.EndTime.Sub(*snap.StartTime).Round(time.Second))
	}
	if snap.Command != "" {
		fmt.Fprintf(&b, "\n%s", snap.Command)
	}
	return b.String()
}
