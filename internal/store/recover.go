package store

import (
	"context"
	"fmt"
	"log/slog"

	"jobsched/internal/job"
)

// RecoveryStats summarizes a RestoreHistory pass.
type RecoveryStats struct {
	Restored int
	Skipped  int
	Lost     int
}

// RestoreHistory rebuilds every job's history from s. Snapshots failing
// validation are skipped and logged. Runs left RUNNING by a previous
// process are failed with exit status -1, after which queued runs whose
// predecessor has finished are started.
func RestoreHistory(ctx context.Context, s Store, jobs []*job.Job, logger *slog.Logger) (RecoveryStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats RecoveryStats
	for _, j := range jobs {
		snaps, err := s.Load(ctx, j.Name())
		if err != nil {
			return stats, fmt.Errorf("load history of %s: %w", j.Name(), err)
		}
		for _, snap := range snaps {
			if _, err := j.Restore(snap.ID, snap); err != nil {
				stats.Skipped++
				logger.Error("skipping stored run", "job", j.Name(), "run", snap.ID, "error", err)
				continue
			}
			stats.Restored++
		}
	}

	for _, j := range jobs {
		for _, r := range j.RunsByState(job.StateRunning) {
			if err := r.Fail(job.ExitKilled); err != nil {
				logger.Error("failed to close lost run", "job", j.Name(), "run", r.ID(), "error", err)
				continue
			}
			stats.Lost++
			logger.Warn("run was interrupted by a restart", "job", j.Name(), "run", r.ID())
		}
		j.Resume()
	}
	return stats, nil
}
