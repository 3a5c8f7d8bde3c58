package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobsched/internal/job"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 5 * time.Second

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	a := append([]slog.Attr{slog.Any("error", err)}, attrs(keysAndValues)...)
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, a...)
}

func attrs(keysAndValues []interface{}) []slog.Attr {
	out := make([]slog.Attr, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, slog.Any(key, keysAndValues[i+1]))
	}
	return out
}

// Hooks содержит необязательные хуки для наблюдаемости.
type Hooks struct {
	OnTickStart  func()
	OnTickFinish func(started int, duration time.Duration)
	OnError      func(jobName string, err error)
}

// Config содержит конфигурацию поллера.
type Config struct {
	Jobs     *job.Registry
	Interval time.Duration
	Logger   *slog.Logger
	Hooks    Hooks
}

// Poller periodically schedules and starts runs of every registered job.
type Poller struct {
	jobs     *job.Registry
	interval time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
	hooks    Hooks

	ctx    context.Context
	cancel context.CancelFunc

	ticking   sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает поллер с background контекстом.
func New(cfg Config) (*Poller, error) {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает поллер с указанным родительским контекстом.
// Intervals are rounded down to whole seconds by cron, one second at least.
func NewWithContext(parentCtx context.Context, cfg Config) (*Poller, error) {
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("poller: nil job registry")
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < time.Second {
		return nil, fmt.Errorf("poller: interval %s is below one second", interval)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "poller")

	ctx, cancel := context.WithCancel(parentCtx)
	p := &Poller{
		jobs:     cfg.Jobs,
		interval: interval,
		cron:     cron.New(cron.WithLogger(cronLogger{logger: logger.With("component", "cron")})),
		logger:   logger,
		hooks:    cfg.Hooks,
		ctx:      ctx,
		cancel:   cancel,
	}
	if _, err := p.cron.AddFunc("@every "+interval.String(), p.runTick); err != nil {
		cancel()
		return nil, fmt.Errorf("poller: %w", err)
	}
	return p, nil
}

// Interval returns the tick interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Start запускает поллер.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting poller", "interval", p.interval, "jobs", len(p.jobs.List()))
		p.cron.Start()

		go func() {
			<-p.ctx.Done()
			p.stopOnce.Do(p.stop)
		}()
	})
}

// Stop останавливает поллер и ждет завершения текущего тика.
func (p *Poller) Stop() {
	p.cancel()
	p.stopOnce.Do(p.stop)
}

// StopContext останавливает поллер с учетом дедлайна контекста.
// If ctx expires first the error is returned, but shutdown still completes.
func (p *Poller) StopContext(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.stopOnce.Do(p.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("poller stop deadline exceeded, but shutdown will complete")
		<-done
		return ctx.Err()
	}
}

// IsRunning возвращает true, пока поллер не остановлен.
func (p *Poller) IsRunning() bool {
	return p.ctx.Err() == nil
}

func (p *Poller) stop() {
	<-p.cron.Stop().Done()
	p.logger.Info("poller stopped")
}

// runTick is the cron entry: skip if the previous tick is still running.
func (p *Poller) runTick() {
	if !p.ticking.TryLock() {
		p.logger.Debug("skipping tick, previous one still running")
		return
	}
	defer p.ticking.Unlock()
	p.tick(p.ctx)
}

// Tick runs one scheduling pass over all jobs and returns how many runs
// were asked to start.
func (p *Poller) Tick(ctx context.Context) int {
	p.ticking.Lock()
	defer p.ticking.Unlock()
	return p.tick(ctx)
}

func (p *Poller) tick(ctx context.Context) (started int) {
	if p.hooks.OnTickStart != nil {
		p.hooks.OnTickStart()
	}
	begin := time.Now()
	defer func() {
		if p.hooks.OnTickFinish != nil {
			p.hooks.OnTickFinish(started, time.Since(begin))
		}
	}()

	for _, j := range p.jobs.List() {
		if ctx.Err() != nil {
			return started
		}
		started += p.pollJob(j)
	}
	return started
}

// pollJob schedules the next run of j if it has none pending and starts
// the pending ones that are due. A panic in one job does not stop the tick.
func (p *Poller) pollJob(j *job.Job) (started int) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			p.logger.Error("job poll panicked", "job", j.Name(), "panic", r)
			p.reportError(j.Name(), err)
		}
	}()

	if len(j.RunsByState(job.StateScheduled)) == 0 && len(j.RunsByState(job.StateQueued)) == 0 {
		if r := j.NextRun(nil); r != nil {
			p.logger.Debug("run scheduled", "job", j.Name(), "run", r.ID(), "at", r.ScheduledTime())
		}
	}

	for _, r := range j.RunsByState(job.StateScheduled) {
		if !r.ShouldStart() {
			continue
		}
		if err := r.ScheduledStart(); err != nil {
			p.logger.Warn("scheduled start failed", "job", j.Name(), "run", r.ID(), "error", err)
			p.reportError(j.Name(), err)
			continue
		}
		started++
	}
	return started
}

func (p *Poller) reportError(jobName string, err error) {
	if p.hooks.OnError != nil {
		p.hooks.OnError(jobName, err)
	}
}
