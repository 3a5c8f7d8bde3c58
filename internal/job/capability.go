package job

import "time"

// Scheduler computes when the next run of a job is due.
// It must be a pure function of the job configuration and prev; returning
// false means no further run is currently due.
type Scheduler interface {
	NextRunTime(j *Job, prev *Run) (time.Time, bool)
}

// Resource is an external readiness check polled before a run may start.
type Resource interface {
	Ready() bool
}

// Node executes a run's command. Execute must return promptly and the node
// must eventually report exactly one completion through Job.Report (or call
// Succeed/Fail directly).
type Node interface {
	Execute(r *Run)
}

// Killer is implemented by nodes that can stop a running command.
type Killer interface {
	Kill(r *Run)
}
