package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"jobsched/internal/shared"
)

// Snapshot is the persisted shape of a Run. It is enough to rebuild a
// terminal or in-flight run without replaying the scheduler.
type Snapshot struct {
	ID            string     `json:"id" validate:"required"`
	State         State      `json:"state" validate:"required,oneof=SCHEDULED QUEUED RUNNING SUCCESS FAILED CANCELLED"`
	ScheduledTime time.Time  `json:"scheduled_time" validate:"required"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	ExitStatus    *int       `json:"exit_status,omitempty"`
	Command       string     `json:"command"`
}

var validate = validator.New()

// Validate checks field tags and the timestamp rules of the lifecycle:
// start time iff the run passed through RUNNING, end time and exit status
// iff it finished after running.
func (s Snapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return integrityError(err)
	}

	started := s.StartTime != nil
	finished := s.EndTime != nil || s.ExitStatus != nil

	switch s.State {
	case StateScheduled, StateQueued:
		if started || finished {
			return integrityError(fmt.Errorf("%s run %s has execution timestamps", s.State, s.ID))
		}
	case StateRunning:
		if !started || finished {
			return integrityError(fmt.Errorf("RUNNING run %s needs a start time and no end time or exit status", s.ID))
		}
	case StateSuccess, StateFailed:
		if !started || s.EndTime == nil || s.ExitStatus == nil {
			return integrityError(fmt.Errorf("%s run %s needs start time, end time and exit status", s.State, s.ID))
		}
	case StateCancelled:
		if started != (s.EndTime != nil && s.ExitStatus != nil) || (!started && finished) {
			return integrityError(fmt.Errorf("CANCELLED run %s has a partial execution record", s.ID))
		}
	}

	if s.StartTime != nil && s.EndTime != nil && s.EndTime.Before(*s.StartTime) {
		return integrityError(fmt.Errorf("run %s ends before it starts", s.ID))
	}
	return nil
}

func integrityError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		err = fmt.Errorf("snapshot: %s", verrs.Error())
	}
	return shared.MarkKind(shared.MarkKind(err, shared.KindIntegrity), shared.KindValidation)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
