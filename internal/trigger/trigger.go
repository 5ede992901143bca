package trigger

import (
	"errors"
	"slices"

	"github.com/roach88/trigdb/internal/param"
)

// Trigger is a named, stateful event inside a Group.
//
// Triggers are created by Group.AddTrigger and owned by their group. A
// trigger outlives its removal as a Go value; Removed reports whether the
// database still knows it.
type Trigger struct {
	group *Group
	name  string

	active    bool
	permanent bool
	params    param.Set
	regs      []Registration
	removed   bool
}

func newTrigger(g *Group, name string) *Trigger {
	return &Trigger{
		group:  g,
		name:   name,
		params: param.Set{},
	}
}

// Name returns the trigger name.
func (t *Trigger) Name() string { return t.name }

// Namespace returns the namespace of the owning group.
func (t *Trigger) Namespace() string { return t.group.namespace }

// Group returns the owning group name.
func (t *Trigger) Group() string { return t.group.name }

// Path returns namespace.group.name.
func (t *Trigger) Path() string {
	return joinPath(t.group.namespace, t.group.name, t.name)
}

// Removed reports whether the trigger, its group or its namespace has been
// torn down.
func (t *Trigger) Removed() bool { return t.removed }

// State returns whether the trigger is active.
func (t *Trigger) State() bool { return t.active }

// Permanent reports whether activation persists after delivery.
func (t *Trigger) Permanent() bool { return t.permanent }

// SetPermanent changes the permanent flag. Clearing it does not reset an
// already-active trigger; the next Fire does.
func (t *Trigger) SetPermanent(permanent bool) {
	t.permanent = permanent
}

// PushParameter stores a parameter for the next activation, overwriting any
// value with the same name.
func (t *Trigger) PushParameter(name string, v param.Value) {
	if v == nil {
		v = param.Null{}
	}
	t.params[name] = v
}

// Parameters returns a copy of the pending parameters.
func (t *Trigger) Parameters() param.Set {
	return t.params.Clone()
}

// Registrations returns a copy of the registrations in delivery order.
func (t *Trigger) Registrations() []Registration {
	return slices.Clone(t.regs)
}

// IsRegistered reports whether env has a registration.
func (t *Trigger) IsRegistered(id EnvID) bool {
	return t.indexOf(id) >= 0
}

func (t *Trigger) indexOf(id EnvID) int {
	for i, r := range t.regs {
		if r.Env.ID() == id {
			return i
		}
	}
	return -1
}

// RegisterEnvironment subscribes env to this trigger.
//
// An environment holds at most one registration per trigger: registering it
// again replaces the callback and liveness in place, keeping its position in
// delivery order.
//
// When the group is joinable and the trigger is permanent and active, the
// new registration immediately receives the current parameters. The error of
// that synthetic delivery is returned.
func (t *Trigger) RegisterEnvironment(env Environment, callback string, alive Liveness) error {
	if t.removed {
		return t.gone()
	}
	reg := Registration{Env: env, Callback: callback, Alive: alive}
	if i := t.indexOf(env.ID()); i >= 0 {
		t.regs[i] = reg
	} else {
		t.regs = append(t.regs, reg)
	}

	db := t.group.db
	db.record(Event{
		Kind:      EventRegistered,
		Namespace: t.group.namespace,
		Group:     t.group.name,
		Trigger:   t.name,
		Env:       env.ID(),
		Callback:  callback,
	})

	if t.group.joinable && t.permanent && t.active && reg.live() {
		return db.deliver(t, reg, t.params.Clone(), true)
	}
	return nil
}

// UnregisterEnvironment removes the registration for id. Absent
// registrations are a no-op. Returns whether one was removed.
func (t *Trigger) UnregisterEnvironment(id EnvID) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	cb := t.regs[i].Callback
	t.regs = slices.Delete(t.regs, i, i+1)
	t.group.db.record(Event{
		Kind:      EventUnregistered,
		Namespace: t.group.namespace,
		Group:     t.group.name,
		Trigger:   t.name,
		Env:       id,
		Callback:  cb,
	})
	return true
}

// Fire activates the trigger and delivers its parameters to every live
// registration in registration order.
//
// Registrations are snapshotted before delivery. An environment unregistered
// by an earlier callback of the same Fire is skipped. Non-permanent triggers
// return to inactive and drop their parameters afterwards.
//
// Callback failures do not stop delivery; they are joined into the returned
// error.
func (t *Trigger) Fire() error {
	if t.removed {
		return t.gone()
	}
	db := t.group.db
	if err := db.depth.enter(t); err != nil {
		db.logger.Error(err.Error())
		return err
	}
	defer db.depth.leave()

	t.active = true
	params := t.params.Clone()
	snapshot := slices.Clone(t.regs)

	db.record(Event{
		Kind:      EventFired,
		Namespace: t.group.namespace,
		Group:     t.group.name,
		Trigger:   t.name,
		Params:    params,
	})

	var errs []error
	for _, reg := range snapshot {
		if t.removed {
			break
		}
		i := t.indexOf(reg.Env.ID())
		if i < 0 {
			continue
		}
		current := t.regs[i]
		if !current.live() {
			db.record(Event{
				Kind:      EventDeliverySkipped,
				Namespace: t.group.namespace,
				Group:     t.group.name,
				Trigger:   t.name,
				Env:       reg.Env.ID(),
				Callback:  current.Callback,
				Detail:    "environment not alive",
			})
			continue
		}
		if err := db.deliver(t, current, params.Clone(), false); err != nil {
			errs = append(errs, err)
		}
	}

	if !t.permanent {
		t.active = false
		t.params = param.Set{}
	}
	return errors.Join(errs...)
}

func (t *Trigger) gone() *Error {
	return &Error{
		Code:      CodeTriggerNotFound,
		Message:   "trigger was removed",
		Namespace: t.group.namespace,
		Group:     t.group.name,
		Trigger:   t.name,
	}
}

// teardown drops all state. Called by the group on removal.
func (t *Trigger) teardown() {
	t.removed = true
	t.active = false
	t.params = param.Set{}
	t.regs = nil
}
