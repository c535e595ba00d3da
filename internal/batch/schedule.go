package batch

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSchedule is returned by Schedule.Validate.
var ErrInvalidSchedule = errors.New("invalid poll schedule")

// Phase polls every Interval while elapsed time is below Until. A zero Until
// marks the open-ended final phase.
type Phase struct {
	Until    time.Duration
	Interval time.Duration
}

// Schedule is a phased polling plan measured from submission time.
type Schedule struct {
	Phases  []Phase
	Ceiling time.Duration
}

// DefaultSchedule polls every 5s for the first 30s, every 15s until 90s and
// every 60s after that, giving up at 10 minutes.
func DefaultSchedule() Schedule {
	return Schedule{
		Phases: []Phase{
			{Until: 30 * time.Second, Interval: 5 * time.Second},
			{Until: 90 * time.Second, Interval: 15 * time.Second},
			{Interval: 60 * time.Second},
		},
		Ceiling: 10 * time.Minute,
	}
}

// IntervalFor returns the wait before the next poll when elapsed time has
// passed since submission. Phase bounds are exclusive: at exactly 30s the
// second phase applies.
func (s Schedule) IntervalFor(elapsed time.Duration) time.Duration {
	for _, p := range s.Phases {
		if p.Until == 0 || elapsed < p.Until {
			return p.Interval
		}
	}
	return s.Phases[len(s.Phases)-1].Interval
}

// Validate checks that phases are ordered, intervals positive and the
// ceiling set.
func (s Schedule) Validate() error {
	if len(s.Phases) == 0 {
		return fmt.Errorf("%w: no phases", ErrInvalidSchedule)
	}
	if s.Ceiling <= 0 {
		return fmt.Errorf("%w: ceiling must be positive", ErrInvalidSchedule)
	}
	var prev time.Duration
	for i, p := range s.Phases {
		if p.Interval <= 0 {
			return fmt.Errorf("%w: phase %d interval must be positive", ErrInvalidSchedule, i)
		}
		last := i == len(s.Phases)-1
		if p.Until == 0 && !last {
			return fmt.Errorf("%w: only the last phase may be open-ended", ErrInvalidSchedule)
		}
		if p.Until != 0 && p.Until <= prev {
			return fmt.Errorf("%w: phase %d ends before the previous phase", ErrInvalidSchedule, i)
		}
		prev = p.Until
	}
	return nil
}
