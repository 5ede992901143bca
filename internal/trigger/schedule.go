package trigger

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule fires a trigger on a recurring cron expression. Like Delay it
// only advances inside Group.Update; robfig/cron is used as a parser and
// next-time calculator, never as a background runner.
type Schedule struct {
	target *Trigger
	spec   string
	sched  cron.Schedule
	next   TimeUnit
	done   bool
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression. Accepts the standard five
// fields, an optional leading seconds field, and descriptors such as
// "@every 5s" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

func newSchedule(target *Trigger, spec string, sched cron.Schedule, now TimeUnit) *Schedule {
	s := &Schedule{target: target, spec: spec, sched: sched}
	s.next = s.after(now)
	return s
}

func (s *Schedule) after(now TimeUnit) TimeUnit {
	next := s.sched.Next(now.Time())
	if next.IsZero() {
		return TimeUnit(-1)
	}
	return TimeUnit(next.UnixMilli())
}

// Spec returns the cron expression.
func (s *Schedule) Spec() string { return s.spec }

// Next returns the next due time, or -1 when the expression has no future
// activation.
func (s *Schedule) Next() TimeUnit { return s.next }

// Target returns the scheduled trigger.
func (s *Schedule) Target() *Trigger { return s.target }

// Update fires the target when due. Missed activations between two updates
// collapse into one fire; the next due time is computed from now.
func (s *Schedule) Update(now TimeUnit) (bool, error) {
	if s.done || s.next < 0 || now < s.next {
		return false, nil
	}
	if s.target.Removed() {
		s.done = true
		return false, nil
	}
	s.next = s.after(now)
	return true, s.target.Fire()
}

// Interval is a convenience for fixed-period schedules.
func Interval(d time.Duration) string {
	return "@every " + d.String()
}
