package trigger

import (
	"errors"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/param"
)

// Group is a named collection of triggers inside a namespace. It owns its
// triggers, their pending delays and their recurring schedules.
type Group struct {
	db        *Database
	namespace string
	name      string

	triggers  map[string]*Trigger
	delays    []*Delay
	schedules []*Schedule

	joinable bool
	refs     int
	orphaned bool
	removed  bool
}

func newGroup(db *Database, namespace, name string) *Group {
	return &Group{
		db:        db,
		namespace: namespace,
		name:      name,
		triggers:  make(map[string]*Trigger),
	}
}

// Namespace returns the namespace the group lives in.
func (g *Group) Namespace() string { return g.namespace }

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Removed reports whether the group was torn down.
func (g *Group) Removed() bool { return g.removed }

// References returns the number of outstanding GroupHandles.
func (g *Group) References() int { return g.refs }

// Joinable reports whether late subscribers receive the state of permanent
// active triggers on registration.
func (g *Group) Joinable() bool { return g.joinable }

// SetJoinable changes the late-join policy. It affects registrations made
// after the call only.
func (g *Group) SetJoinable(joinable bool) *Group {
	g.joinable = joinable
	return g
}

// AddTrigger creates the named trigger if absent. Adding an existing name
// leaves its state untouched.
func (g *Group) AddTrigger(name string) *Group {
	if g.removed {
		return g
	}
	if _, ok := g.triggers[name]; ok {
		return g
	}
	g.triggers[name] = newTrigger(g, name)
	g.db.record(Event{Kind: EventTriggerAdded, Namespace: g.namespace, Group: g.name, Trigger: name})
	return g
}

// Trigger returns the named trigger.
func (g *Group) Trigger(name string) (*Trigger, error) {
	if g.removed {
		return nil, groupNotFound(g.namespace, g.name)
	}
	t, ok := g.triggers[name]
	if !ok {
		return nil, triggerNotFound(g.namespace, g.name, name)
	}
	return t, nil
}

// RemoveTrigger tears down one trigger together with its delays and
// schedules. Weak references to it report gone afterwards.
func (g *Group) RemoveTrigger(name string) error {
	t, err := g.Trigger(name)
	if err != nil {
		return err
	}
	g.CancelDelays(name)
	g.schedules = slices.DeleteFunc(g.schedules, func(s *Schedule) bool { return s.target == t })
	t.teardown()
	delete(g.triggers, name)
	g.db.record(Event{Kind: EventTriggerRemoved, Namespace: g.namespace, Group: g.name, Trigger: name})
	return nil
}

// Fire fires the named trigger immediately. When the trigger exists the
// group is returned even if some callbacks failed.
func (g *Group) Fire(name string) (*Group, error) {
	t, err := g.Trigger(name)
	if err != nil {
		return nil, err
	}
	return g, t.Fire()
}

// DelayTriggerState schedules a one-shot activation after delay, measured
// on the database clock.
func (g *Group) DelayTriggerState(name string, delay time.Duration) (*Group, error) {
	t, err := g.Trigger(name)
	if err != nil {
		return nil, err
	}
	due := g.db.clock.Now() + Milliseconds(delay)
	g.delays = append(g.delays, newDelay(t, due))
	g.db.record(Event{Kind: EventDelayScheduled, Namespace: g.namespace, Group: g.name, Trigger: name, Due: due})
	return g, nil
}

// CancelDelays drops every pending delay for the named trigger and returns
// how many were dropped. Unknown names cancel nothing.
func (g *Group) CancelDelays(name string) int {
	n := 0
	for _, d := range g.delays {
		if d.target.name == name && !d.finished {
			d.cancel()
			n++
			g.db.record(Event{Kind: EventDelayCancelled, Namespace: g.namespace, Group: g.name, Trigger: name, Due: d.due})
		}
	}
	g.pruneDelays()
	return n
}

// PendingDelays returns the unfired delays in creation order.
func (g *Group) PendingDelays() []*Delay {
	var out []*Delay
	for _, d := range g.delays {
		if !d.finished {
			out = append(out, d)
		}
	}
	return out
}

// ScheduleTrigger fires the named trigger on a recurring cron expression.
func (g *Group) ScheduleTrigger(name, spec string) (*Group, error) {
	t, err := g.Trigger(name)
	if err != nil {
		return nil, err
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, &Error{
			Code:      CodeInvalidSchedule,
			Message:   "cannot parse schedule " + spec,
			Namespace: g.namespace,
			Group:     g.name,
			Trigger:   name,
			Cause:     err,
		}
	}
	g.schedules = append(g.schedules, newSchedule(t, spec, sched, g.db.clock.Now()))
	g.db.record(Event{Kind: EventScheduleAdded, Namespace: g.namespace, Group: g.name, Trigger: name, Detail: spec})
	return g, nil
}

// Unschedule removes every schedule of the named trigger.
func (g *Group) Unschedule(name string) int {
	before := len(g.schedules)
	g.schedules = slices.DeleteFunc(g.schedules, func(s *Schedule) bool { return s.target.name == name })
	return before - len(g.schedules)
}

// Schedules returns the active schedules.
func (g *Group) Schedules() []*Schedule {
	return slices.Clone(g.schedules)
}

// SetPermanent proxies Trigger.SetPermanent.
func (g *Group) SetPermanent(name string, permanent bool) (*Group, error) {
	t, err := g.Trigger(name)
	if err != nil {
		return nil, err
	}
	t.SetPermanent(permanent)
	return g, nil
}

// State proxies Trigger.State.
func (g *Group) State(name string) (bool, error) {
	t, err := g.Trigger(name)
	if err != nil {
		return false, err
	}
	return t.State(), nil
}

// PushParameter proxies Trigger.PushParameter.
func (g *Group) PushParameter(triggerName, paramName string, v param.Value) error {
	t, err := g.Trigger(triggerName)
	if err != nil {
		return err
	}
	t.PushParameter(paramName, v)
	return nil
}

// PushParameterFromAny converts a foreign Go value and pushes it. A value
// with no parameter kind fails with PARAMETER_TYPE_MISMATCH wrapping
// param.ErrTypeMismatch; nothing is pushed.
func (g *Group) PushParameterFromAny(triggerName, paramName string, v any) error {
	t, err := g.Trigger(triggerName)
	if err != nil {
		return err
	}
	pv, err := param.FromAny(v)
	if err != nil {
		return MismatchError(t, paramName, err)
	}
	t.PushParameter(paramName, pv)
	return nil
}

// MismatchError wraps a conversion failure for the named parameter of t.
// Scripting adapters use it so every boundary reports the same code.
func MismatchError(t *Trigger, paramName string, cause error) *Error {
	var me *param.MismatchError
	if errors.As(cause, &me) && me.Name == "" {
		me.Name = paramName
	}
	return &Error{
		Code:      CodeParameterTypeMismatch,
		Message:   "cannot convert parameter " + paramName,
		Namespace: t.group.namespace,
		Group:     t.group.name,
		Trigger:   t.name,
		Cause:     cause,
	}
}

// TriggerNames returns the trigger names in sorted order.
func (g *Group) TriggerNames() []string {
	names := make([]string, 0, len(g.triggers))
	for n := range g.triggers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Triggers returns the triggers sorted by name. The slice is a snapshot;
// triggers are removed through the group, not through it.
func (g *Group) Triggers() []*Trigger {
	out := make([]*Trigger, 0, len(g.triggers))
	for _, n := range g.TriggerNames() {
		out = append(out, g.triggers[n])
	}
	return out
}

// Update advances every pending delay and schedule against now. Delays and
// schedules added by callbacks during the update are first polled on the
// next one. Stops early if a callback removes the group.
func (g *Group) Update(now TimeUnit) error {
	if g.removed {
		return nil
	}
	var errs []error

	delays := slices.Clone(g.delays)
	for _, d := range delays {
		if g.removed {
			return errors.Join(errs...)
		}
		if _, err := d.Update(now); err != nil {
			errs = append(errs, err)
		}
	}
	g.pruneDelays()

	schedules := slices.Clone(g.schedules)
	for _, s := range schedules {
		if g.removed {
			break
		}
		if _, err := s.Update(now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Group) pruneDelays() {
	g.delays = slices.DeleteFunc(g.delays, func(d *Delay) bool { return d.finished })
}

func (g *Group) acquire() {
	g.refs++
	g.orphaned = false
}

func (g *Group) release() {
	if g.refs == 0 {
		return
	}
	g.refs--
	if g.refs == 0 {
		g.orphaned = true
	}
}

// teardown destroys every trigger and pending activation.
func (g *Group) teardown() {
	if g.refs > 0 {
		g.db.logger.Warn("removing trigger group with outstanding handles",
			zap.String("namespace", g.namespace),
			zap.String("group", g.name),
			zap.Int("references", g.refs),
		)
	}
	for _, d := range g.delays {
		d.cancel()
	}
	for _, t := range g.triggers {
		t.teardown()
	}
	g.delays = nil
	g.schedules = nil
	g.triggers = make(map[string]*Trigger)
	g.removed = true
}
