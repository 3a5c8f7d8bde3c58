package job

import "time"

// Run is one scheduled or executed attempt of a Job.
//
// Identity, predecessor, command and scheduled time are fixed at
// construction. The mutable part is guarded by the owning job's lock, so
// every transition of every run of a job is serialized.
type Run struct {
	id            string
	job           *Job
	prev          *Run
	command       string
	scheduledTime time.Time

	state      State
	startTime  *time.Time
	endTime    *time.Time
	exitStatus *int
}

// ID returns the run identifier, unique within its job's history.
func (r *Run) ID() string { return r.id }

// Job returns the owning job.
func (r *Run) Job() *Job { return r.job }

// Prev returns the nearest non-cancelled predecessor resolved when the run
// was created, or nil.
func (r *Run) Prev() *Run { return r.prev }

// Command returns the command rendered at construction.
func (r *Run) Command() string { return r.command }

// ScheduledTime returns the time the run is due.
func (r *Run) ScheduledTime() time.Time { return r.scheduledTime }

// State returns the current state.
func (r *Run) State() State {
	r.job.mu.Lock()
	defer r.job.mu.Unlock()
	return r.state
}

// Snapshot returns a copy of the run's persisted fields.
func (r *Run) Snapshot() Snapshot {
	r.job.mu.Lock()
	defer r.job.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() Snapshot {
	return Snapshot{
		ID:            r.id,
		State:         r.state,
		ScheduledTime: r.scheduledTime,
		StartTime:     copyTime(r.startTime),
		EndTime:       copyTime(r.endTime),
		ExitStatus:    copyInt(r.exitStatus),
		Command:       r.command,
	}
}

func (r *Run) IsScheduled() bool { return r.State() == StateScheduled }
func (r *Run) IsQueued() bool    { return r.State() == StateQueued }
func (r *Run) IsRunning() bool   { return r.State() == StateRunning }
func (r *Run) IsSuccess() bool   { return r.State() == StateSuccess }
func (r *Run) IsFailed() bool    { return r.State() == StateFailed }
func (r *Run) IsCancelled() bool { return r.State() == StateCancelled }

// IsDone reports whether the run reached a terminal state.
func (r *Run) IsDone() bool { return r.State().IsTerminal() }

// ShouldStart reports whether the run is due and every resource of its job
// is ready. It has no side effects and is meant to be polled.
func (r *Run) ShouldStart() bool {
	if r.job.Now().Before(r.scheduledTime) {
		return false
	}
	for _, res := range r.job.Resources() {
		if !res.Ready() {
			return false
		}
	}
	return true
}

// ScheduledStart is the start attempt made when the run becomes due.
// Depending on the predecessor and the job's queueing policy the run moves
// to RUNNING, QUEUED or CANCELLED.
func (r *Run) ScheduledStart() error { return r.job.scheduledStart(r) }

// Start moves a SCHEDULED or QUEUED run to RUNNING regardless of its
// predecessor. Used for manual and dependency-triggered runs.
func (r *Run) Start() error { return r.job.start(r) }

// Succeed finishes a RUNNING run with the given exit status (0 by default).
// The job then promotes a queued successor and triggers its dependants.
func (r *Run) Succeed(status ...int) error {
	code := 0
	if len(status) > 0 {
		code = status[0]
	}
	return r.job.finish(r, StateSuccess, code)
}

// Fail finishes a RUNNING run with the given exit status. Dependants are not triggered.
func (r *Run) Fail(status int) error { return r.job.finish(r, StateFailed, status) }

// Cancel stops a run for good. A run that never started keeps no
// timestamps; a RUNNING run is ended with exit status -1 and its node is
// asked to kill it.
func (r *Run) Cancel() error { return r.job.cancel(r) }
