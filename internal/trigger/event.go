package trigger

import "github.com/roach88/trigdb/internal/param"

// EventKind names a recorded database event.
type EventKind string

const (
	EventNamespaceCreated EventKind = "namespace_created"
	EventNamespaceRemoved EventKind = "namespace_removed"
	EventGroupCreated     EventKind = "group_created"
	EventGroupRemoved     EventKind = "group_removed"
	EventTriggerAdded     EventKind = "trigger_added"
	EventTriggerRemoved   EventKind = "trigger_removed"
	EventRegistered       EventKind = "registered"
	EventUnregistered     EventKind = "unregistered"
	EventFired            EventKind = "fired"
	EventDelivered        EventKind = "delivered"
	EventDeliveryFailed   EventKind = "delivery_failed"
	EventDeliverySkipped  EventKind = "delivery_skipped"
	EventDelayScheduled   EventKind = "delay_scheduled"
	EventDelayCancelled   EventKind = "delay_cancelled"
	EventScheduleAdded    EventKind = "schedule_added"
)

// Event is one entry of the activity trail handed to a Recorder.
type Event struct {
	// Seq is strictly increasing per Database.
	Seq  int64
	Kind EventKind

	// Time is the database clock reading when the event happened.
	Time TimeUnit

	Namespace string
	Group     string
	Trigger   string

	Env      EnvID
	Callback string

	// Params is set for fired and delivery events.
	Params param.Set

	// Synthetic marks a late-join delivery on a joinable group.
	Synthetic bool

	// Due is set for delay events.
	Due TimeUnit

	// Detail carries the failure text or a schedule expression.
	Detail string
}

// Path returns the dotted location of the event.
func (e Event) Path() string {
	return joinPath(e.Namespace, e.Group, e.Trigger)
}

// Recorder observes database activity. The journal and the scenario
// harness implement it. A Recorder error is logged and otherwise ignored.
type Recorder interface {
	Record(Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event) error

// Record implements Recorder.
func (f RecorderFunc) Record(e Event) error {
	return f(e)
}

// MultiRecorder fans events out to several recorders. Every recorder sees
// every event; the first error is returned.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(e Event) error {
	var first error
	for _, r := range m {
		if err := r.Record(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
