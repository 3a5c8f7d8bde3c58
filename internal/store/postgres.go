package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobsched/internal/job"
	"jobsched/internal/platform/pg"
	"jobsched/internal/shared"
)

// Postgres stores snapshots in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
	tx   *pg.TxRunner
}

// OpenPostgres migrates the database behind dsn and connects a pool to it.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pg.NewPool(ctx, dsn, logger)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	info, err := pg.ApplyMigrationsFromFS(dsn, migrations, "migrations/postgres")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if logger != nil && info.Applied {
		logger.Info("postgres migrations applied", "from", info.CurrentVersion, "to", info.FinalVersion)
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an already migrated pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, tx: pg.NewTxRunner(pool)}
}

const postgresUpsert = `
INSERT INTO runs (job_name, run_id, state, scheduled_time, start_time, end_time, exit_status, command, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (job_name, run_id) DO UPDATE SET
    state = EXCLUDED.state,
    scheduled_time = EXCLUDED.scheduled_time,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    exit_status = EXCLUDED.exit_status,
    command = EXCLUDED.command,
    updated_at = now()`

// Save implements Store.
func (p *Postgres) Save(ctx context.Context, jobName string, snap job.Snapshot) error {
	return p.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := p.tx.GetQuerier(ctx).Exec(ctx, postgresUpsert,
			jobName, snap.ID, string(snap.State), snap.ScheduledTime,
			snap.StartTime, snap.EndTime, snap.ExitStatus, snap.Command)
		if err != nil {
			return fmt.Errorf("save run %s: %w", snap.ID, err)
		}
		return nil
	})
}

// Load implements Store.
func (p *Postgres) Load(ctx context.Context, jobName string) ([]job.Snapshot, error) {
	rows, err := p.tx.GetQuerier(ctx).Query(ctx, `
SELECT run_id, state, scheduled_time, start_time, end_time, exit_status, command
FROM runs WHERE job_name = $1 ORDER BY pos`, jobName)
	if err != nil {
		return nil, fmt.Errorf("load runs of %s: %w", jobName, err)
	}
	defer rows.Close()

	var out []job.Snapshot
	for rows.Next() {
		var snap job.Snapshot
		var state string
		if err := rows.Scan(&snap.ID, &state, &snap.ScheduledTime, &snap.StartTime, &snap.EndTime, &snap.ExitStatus, &snap.Command); err != nil {
			return nil, err
		}
		snap.State = job.State(state)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
