package trigger

import (
	"sync/atomic"
	"time"
)

// TimeUnit is an absolute time in milliseconds. Delay due times and
// Database.Update compare against it.
type TimeUnit int64

// Milliseconds converts a duration to TimeUnit, truncating sub-millisecond
// precision.
func Milliseconds(d time.Duration) TimeUnit {
	return TimeUnit(d / time.Millisecond)
}

// Duration converts back to a time.Duration.
func (t TimeUnit) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}

// Time interprets t as Unix milliseconds.
func (t TimeUnit) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// Clock supplies the current time to delays and schedules.
type Clock interface {
	Now() TimeUnit
}

// SystemClock reads the wall clock as Unix milliseconds.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() TimeUnit {
	return TimeUnit(time.Now().UnixMilli())
}

// Sequencer hands out strictly increasing sequence numbers for recorded
// events. Journal order is seq order, never wall-clock order.
type Sequencer struct {
	seq atomic.Int64
}

// NewSequencerAt creates a sequencer whose next value is start+1.
// Used when appending to an existing journal.
func NewSequencerAt(start int64) *Sequencer {
	s := &Sequencer{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() int64 {
	return s.seq.Load()
}
