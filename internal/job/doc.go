// Package job implements jobs and their runs.
//
// A Job owns an append-only history of Runs. Each Run moves through
// SCHEDULED, QUEUED, RUNNING and one of SUCCESS, FAILED or CANCELLED.
// When a run becomes due while its predecessor is still active, the job's
// queueing policy decides whether it waits in QUEUED or is cancelled.
// Successful runs trigger immediate runs of every dependant job.
//
// All transitions of all runs of one job are serialized by the job's lock.
// Node dispatch, kills and dependant triggering happen after the lock is
// released.
package job
