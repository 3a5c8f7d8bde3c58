// Package schedule provides the scheduler variants a job can be configured with.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"jobsched/internal/job"
	"jobsched/internal/shared"
)

// Constant makes every run due immediately. With Limit > 0 it stops
// supplying runs once the job's history holds Limit runs.
type Constant struct {
	Limit int
}

// NextRunTime implements job.Scheduler.
func (c Constant) NextRunTime(j *job.Job, _ *job.Run) (time.Time, bool) {
	if c.Limit > 0 && j.Len() >= c.Limit {
		return time.Time{}, false
	}
	return j.Now(), true
}

func (c Constant) String() string {
	if c.Limit > 0 {
		return fmt.Sprintf("constant(limit=%d)", c.Limit)
	}
	return "constant"
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Cron schedules runs at the activations of a cron expression.
type Cron struct {
	expr  string
	sched cron.Schedule
}

// NewCron parses expr. Five and six field forms and descriptors such as
// @hourly or @every 10m are accepted.
func NewCron(expr string) (*Cron, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %v", shared.ErrValidation, expr, err)
	}
	return &Cron{expr: expr, sched: sched}, nil
}

// NextRunTime returns the first activation strictly after prev's scheduled
// time, or after the job's now when there is no prev.
func (c *Cron) NextRunTime(j *job.Job, prev *job.Run) (time.Time, bool) {
	from := j.Now()
	if prev != nil {
		from = prev.ScheduledTime()
	}
	next := c.sched.Next(from)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func (c *Cron) String() string { return "cron(" + c.expr + ")" }

// Daily schedules one run per day at local midnight.
type Daily struct {
	Cron
}

// NewDaily creates a Daily scheduler.
func NewDaily() *Daily {
	c, _ := NewCron("@daily")
	return &Daily{Cron: *c}
}

func (d *Daily) String() string { return "daily" }
