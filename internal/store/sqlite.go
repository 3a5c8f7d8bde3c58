package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"jobsched/internal/job"
	"jobsched/internal/platform/sqlite"
	"jobsched/internal/shared"
)

// SQLite stores snapshots in an embedded database.
type SQLite struct {
	db *sql.DB
	tx *sqlite.TxRunner
}

// OpenSQLite opens (or creates) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	var (
		db  *sql.DB
		err error
	)
	if path == ":memory:" {
		db, err = sqlite.NewInMemoryDB(ctx)
	} else {
		db, err = sqlite.NewDB(ctx, path)
	}
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	if _, err := sqlite.ApplyMigrations(db, migrations, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, tx: sqlite.NewTxRunner(db)}, nil
}

const sqliteUpsert = `
INSERT INTO runs (job_name, run_id, state, scheduled_time, start_time, end_time, exit_status, command, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (job_name, run_id) DO UPDATE SET
    state = excluded.state,
    scheduled_time = excluded.scheduled_time,
    start_time = excluded.start_time,
    end_time = excluded.end_time,
    exit_status = excluded.exit_status,
    command = excluded.command,
    updated_at = excluded.updated_at`

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, jobName string, snap job.Snapshot) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.tx.GetQuerier(ctx).ExecContext(ctx, sqliteUpsert,
			jobName, snap.ID, string(snap.State),
			formatTime(&snap.ScheduledTime), formatTime(snap.StartTime), formatTime(snap.EndTime),
			nullInt(snap.ExitStatus), snap.Command, formatTime(ptr(time.Now())),
		)
		if err != nil {
			return fmt.Errorf("save run %s: %w", snap.ID, err)
		}
		return nil
	})
}

// Load implements Store.
func (s *SQLite) Load(ctx context.Context, jobName string) ([]job.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, state, scheduled_time, start_time, end_time, exit_status, command
FROM runs WHERE job_name = ? ORDER BY pos`, jobName)
	if err != nil {
		return nil, fmt.Errorf("load runs of %s: %w", jobName, err)
	}
	defer rows.Close()

	var out []job.Snapshot
	for rows.Next() {
		var (
			snap               job.Snapshot
			state, scheduled   string
			startTime, endTime sql.NullString
			exitStatus         sql.NullInt64
		)
		if err := rows.Scan(&snap.ID, &state, &scheduled, &startTime, &endTime, &exitStatus, &snap.Command); err != nil {
			return nil, err
		}
		snap.State = job.State(state)
		if snap.ScheduledTime, err = time.Parse(time.RFC3339Nano, scheduled); err != nil {
			return nil, shared.MarkKind(fmt.Errorf("run %s: scheduled_time: %w", snap.ID, err), shared.KindIntegrity)
		}
		if snap.StartTime, err = parseNullTime(startTime); err != nil {
			return nil, shared.MarkKind(fmt.Errorf("run %s: start_time: %w", snap.ID, err), shared.KindIntegrity)
		}
		if snap.EndTime, err = parseNullTime(endTime); err != nil {
			return nil, shared.MarkKind(fmt.Errorf("run %s: end_time: %w", snap.ID, err), shared.KindIntegrity)
		}
		if exitStatus.Valid {
			snap.ExitStatus = ptr(int(exitStatus.Int64))
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func ptr[T any](v T) *T { return &v }
