// Package app wires the scheduler daemon together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jobsched/internal/adapter/httpapi"
	"jobsched/internal/adapter/node"
	"jobsched/internal/adapter/poller"
	"jobsched/internal/adapter/telegram"
	"jobsched/internal/adapter/telegram/handlers"
	"jobsched/internal/adapter/telegram/middleware"
	"jobsched/internal/config"
	"jobsched/internal/job"
	"jobsched/internal/platform/logger"
	"jobsched/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, NewLogger(cfg)), nil
}

// NewWithConfig creates an App from an already loaded configuration.
func NewWithConfig(cfg config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{cfg: cfg, log: log}
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.Config) *slog.Logger {
	return logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "jobsched",
	})
}

// OpenStore opens the run store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.OpenSQLite(ctx, cfg.Store.SQLitePath)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.Store.PostgresDSN, log)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve runs every component until ctx is done, then shuts them down in
// reverse order: no new runs, no new requests, running commands are
// killed and their exits recorded, pending snapshots are flushed.
func (a *App) Serve(ctx context.Context) error {
	a.log.Info("starting", "jobs_file", a.cfg.JobsFile, "store", a.cfg.Store.Driver)
	defer func() { _ = logger.Close(a.log) }()

	jobsFile, err := config.LoadJobs(a.cfg.JobsFile)
	if err != nil {
		return err
	}

	st, err := OpenStore(ctx, a.cfg, a.log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	rec := store.NewRecorder(st, 0, a.log)
	rec.Start()
	defer func() { _ = rec.Close(context.Background()) }()
	hooks := []job.Hooks{rec.Hooks()}

	var tg *telegramBot
	if a.cfg.Telegram.Token != "" {
		tg, err = a.newTelegramBot()
		if err != nil {
			return err
		}
		hooks = append(hooks, job.Hooks{OnTransition: tg.notifier.Hook})
	}

	// the node outlives ctx so that killed commands still report their exit
	nodeCtx, killAll := context.WithCancel(context.Background())
	defer killAll()
	local := node.NewLocal(nodeCtx, node.WithLogger(a.log))

	reg, err := jobsFile.Build(config.BuildOptions{
		Node:   local,
		Hooks:  job.MergeHooks(hooks...),
		Logger: a.log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	stats, err := store.RestoreHistory(ctx, st, reg.List(), a.log)
	if err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	a.log.Info("history restored", "restored", stats.Restored, "skipped", stats.Skipped, "lost", stats.Lost)

	serveCtx, stopServing := context.WithCancel(context.Background())
	var serving sync.WaitGroup
	for _, j := range reg.List() {
		serving.Add(1)
		go func() {
			defer serving.Done()
			j.Serve(serveCtx)
		}()
	}

	p, err := poller.NewWithContext(ctx, poller.Config{
		Jobs:     reg,
		Interval: a.cfg.PollInterval,
		Logger:   a.log,
		Hooks: poller.Hooks{
			OnError: func(jobName string, err error) {
				a.log.Warn("poll error", "job", jobName, "error", err)
			},
		},
	})
	if err != nil {
		stopServing()
		serving.Wait()
		return err
	}

	if tg != nil {
		if err := tg.start(ctx, a.cfg, reg, a.log); err != nil {
			a.log.Error("telegram bot not started", "error", err)
		}
	}

	var srv *httpapi.Server
	if a.cfg.HTTP.Addr != "" {
		deps := httpapi.Deps{Jobs: reg, Store: st, Logger: a.log}
		if tg != nil && a.cfg.Telegram.WebhookURL != "" {
			deps.Webhook = tg.bot.WebhookHandler()
		}
		srv = httpapi.NewServer(a.cfg.HTTP.Addr, deps)
		srv.Start()
	}

	p.Start()
	a.log.Info("started", "jobs", len(reg.List()), "poll_interval", a.cfg.PollInterval)
	<-ctx.Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := p.StopContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("stop http: %w", err))
		}
	}
	if tg != nil {
		tg.stop()
	}
	// queued runs must survive the kill below for the next process
	reg.Drain()
	killAll()
	local.Wait()
	stopServing()
	serving.Wait()
	if err := rec.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush run history: %w", err))
	}
	if n := rec.Dropped(); n > 0 {
		a.log.Warn("run snapshots dropped", "count", n)
	}
	a.log.Info("stopped")
	return errors.Join(errs...)
}

// telegramBot bundles the bot client, the failure notifier and the command dispatcher.
type telegramBot struct {
	bot      *bot.Bot
	notifier *telegram.Notifier
	disp     *telegram.Dispatcher
}

func (a *App) newTelegramBot() (*telegramBot, error) {
	tg := &telegramBot{}
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, upd *models.Update) {
			if tg.disp != nil {
				tg.disp.Dispatch(ctx, upd)
			}
		}),
		bot.WithAllowedUpdates([]string{"message"}),
	}
	if a.cfg.Telegram.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(a.cfg.Telegram.WebhookSecret))
	}
	b, err := bot.New(a.cfg.Telegram.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	tg.bot = b
	tg.notifier = telegram.NewNotifier(b, a.cfg.Telegram.ChatID, a.log)
	return tg, nil
}

// start begins delivering notifications and receiving commands.
func (tg *telegramBot) start(ctx context.Context, cfg config.Config, reg *job.Registry, log *slog.Logger) error {
	tg.notifier.Start(ctx)

	ids, err := middleware.ParseIDs(cfg.Telegram.AllowedIDs)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		ids = []int64{cfg.Telegram.ChatID}
	}
	commands := handlers.NewCommands(reg, log)
	handler := middleware.Chain(commands.Handle,
		middleware.NewACL(ids...).Middleware,
		middleware.NewRateLimiter(time.Second).Middleware,
	)
	tg.disp = telegram.NewDispatcher(tg.bot, 4, handler)

	if cfg.Telegram.WebhookURL != "" {
		if _, err := tg.bot.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         cfg.Telegram.WebhookURL,
			SecretToken: cfg.Telegram.WebhookSecret,
		}); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		go tg.bot.StartWebhook(ctx)
		return nil
	}
	go tg.bot.Start(ctx)
	return nil
}

func (tg *telegramBot) stop() {
	if tg.disp != nil {
		tg.disp.Close()
	}
	tg.notifier.Close()
}
