package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobsched/pkg/retry"
)

// PoolOptions содержит настройки для пула подключений PostgreSQL.
type PoolOptions struct {
	// MaxConns - максимальное количество соединений в пуле
	MaxConns int32
	// MinConns - минимальное количество соединений в пуле
	MinConns int32
	// HealthCheckPeriod - интервал проверки здоровья соединений
	HealthCheckPeriod time.Duration
	// MaxConnLifetime - максимальное время жизни соединения
	MaxConnLifetime time.Duration
	// PingTimeout - таймаут одной попытки ping
	PingTimeout time.Duration
	// ConnectAttempts - сколько раз пытаться достучаться до БД при старте
	ConnectAttempts int
}

// DefaultPoolOptions возвращает настройки по умолчанию. Планировщик пишет
// по одному снимку за раз, поэтому пул небольшой.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          4,
		MinConns:          1,
		HealthCheckPeriod: 30 * time.Second,
		MaxConnLifetime:   time.Hour,
		PingTimeout:       5 * time.Second,
		ConnectAttempts:   5,
	}
}

// NewPool создает пул подключений с настройками по умолчанию.
func NewPool(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	return NewPoolWithOptions(ctx, dsn, DefaultPoolOptions(), logger)
}

// NewPoolWithOptions создает пул и ждет, пока БД начнет отвечать на ping.
func NewPoolWithOptions(ctx context.Context, dsn string, opts PoolOptions, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.HealthCheckPeriod = opts.HealthCheckPeriod
	cfg.MaxConnLifetime = opts.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// БД может подниматься одновременно с нами (docker compose), поэтому ping с ретраями
	rc := retry.DefaultConfig()
	rc.MaxAttempts = max(opts.ConnectAttempts, 1)
	rc.InitialDelay = 200 * time.Millisecond
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("postgres not ready", "attempt", attempt, "delay", delay, "error", err)
	}
	err = retry.Do(ctx, rc, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
