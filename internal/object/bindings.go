package object

import (
	"errors"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/script"
	"github.com/roach88/trigdb/internal/trigger"
)

// bind installs the script-facing API:
//
//	Private          the object's private namespace key
//	Local            table for Local.Init / Local.Delete callbacks
//	This.*           object lifecycle and subscriptions
//	Triggers.*       trigger database access
func (o *Object) bind() {
	l := o.env.State()

	l.PushString(o.key)
	l.SetGlobal("Private")
	l.NewTable()
	l.SetGlobal(LocalGroup)

	o.env.SetGlobalTable("This", []lua.RegistryFunction{
		{Name: "id", Function: func(l *lua.State) int { l.PushString(o.id); return 1 }},
		{Name: "type", Function: func(l *lua.State) int { l.PushString(o.typ); return 1 }},
		{Name: "key", Function: func(l *lua.State) int { l.PushString(o.key); return 1 }},
		{Name: "handle", Function: func(l *lua.State) int { script.PushHandle(l, o.Handle()); return 1 }},
		{Name: "useTrigger", Function: o.luaUseTrigger},
		{Name: "removeTrigger", Function: o.luaRemoveTrigger},
		{Name: "sendInitArg", Function: o.luaSendInitArg},
		{Name: "initialize", Function: func(l *lua.State) int { raise(l, o.Initialize()); return 0 }},
		{Name: "delete", Function: func(l *lua.State) int { raise(l, o.Delete()); return 0 }},
	})

	o.env.SetGlobalTable("Triggers", []lua.RegistryFunction{
		{Name: "add", Function: o.luaAdd},
		{Name: "fire", Function: o.luaFire},
		{Name: "push", Function: o.luaPush},
		{Name: "delay", Function: o.luaDelay},
		{Name: "schedule", Function: o.luaSchedule},
		{Name: "cancel", Function: o.luaCancel},
		{Name: "state", Function: o.luaState},
		{Name: "setPermanent", Function: o.luaSetPermanent},
		{Name: "setJoinable", Function: o.luaSetJoinable},
		{Name: "names", Function: o.luaNames},
	})
}

// raise turns err into a Lua error. Callback failures of nested fires have
// already been logged and recorded, so they are not raised again.
func raise(l *lua.State, err error) {
	if err = dropCallbackFailures(err); err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
}

// dropCallbackFailures removes CALLBACK_FAILED errors from err, looking
// inside joined errors. Whatever else was joined is kept.
func dropCallbackFailures(err error) error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var kept []error
		for _, e := range joined.Unwrap() {
			if e = dropCallbackFailures(e); e != nil {
				kept = append(kept, e)
			}
		}
		return errors.Join(kept...)
	}
	if errors.Is(err, trigger.ErrCallbackFailed) {
		return nil
	}
	return err
}

func (o *Object) luaUseTrigger(l *lua.State) int {
	ns := lua.CheckString(l, 1)
	grp := lua.CheckString(l, 2)
	name := lua.CheckString(l, 3)
	alias := lua.OptString(l, 4, "")
	raise(l, o.UseTrigger(ns, grp, name, alias))
	return 0
}

func (o *Object) luaRemoveTrigger(l *lua.State) int {
	raise(l, o.RemoveTrigger(lua.CheckString(l, 1), lua.CheckString(l, 2), lua.CheckString(l, 3)))
	return 0
}

func (o *Object) luaSendInitArg(l *lua.State) int {
	name := lua.CheckString(l, 1)
	lua.CheckAny(l, 2)
	g, ok := o.local.Group()
	if !ok {
		lua.Errorf(l, "object %s: local trigger group is gone", o.id)
		return 0
	}
	raise(l, script.PushParameterFromLua(g, InitTrigger, name, l, 2))
	return 0
}

// groupArgs resolves (ns, group) from arguments 1 and 2.
func (o *Object) groupArgs(l *lua.State) *trigger.Group {
	g, err := o.db.TriggerGroup(lua.CheckString(l, 1), lua.CheckString(l, 2))
	raise(l, err)
	return g
}

// luaAdd creates group and trigger in the object's private namespace:
// Triggers.add(group, name).
func (o *Object) luaAdd(l *lua.State) int {
	g, err := o.db.CreateTriggerGroup(o.key, lua.CheckString(l, 1))
	raise(l, err)
	g.AddTrigger(lua.CheckString(l, 2))
	return 0
}

// Triggers.fire(ns, group, name [, params]) pushes every entry of the
// optional params table before firing. A table holding an unsupported
// value pushes nothing and does not fire.
func (o *Object) luaFire(l *lua.State) int {
	g := o.groupArgs(l)
	name := lua.CheckString(l, 3)
	if !l.IsNoneOrNil(4) {
		params, err := script.SetAt(l, 4)
		if err != nil {
			t, terr := g.Trigger(name)
			raise(l, terr)
			paramName := "params"
			var me *param.MismatchError
			if errors.As(err, &me) && me.Name != "" {
				paramName = me.Name
			}
			raise(l, trigger.MismatchError(t, paramName, err))
		}
		for _, k := range params.SortedKeys() {
			raise(l, g.PushParameter(name, k, params[k]))
		}
	}
	_, err := g.Fire(name)
	raise(l, err)
	return 0
}

// Triggers.push(ns, group, name, param, value)
func (o *Object) luaPush(l *lua.State) int {
	g := o.groupArgs(l)
	name := lua.CheckString(l, 3)
	paramName := lua.CheckString(l, 4)
	lua.CheckAny(l, 5)
	raise(l, script.PushParameterFromLua(g, name, paramName, l, 5))
	return 0
}

// Triggers.delay(ns, group, name, ms)
func (o *Object) luaDelay(l *lua.State) int {
	g := o.groupArgs(l)
	ms := lua.CheckNumber(l, 4)
	_, err := g.DelayTriggerState(lua.CheckString(l, 3), time.Duration(ms*float64(time.Millisecond)))
	raise(l, err)
	return 0
}

// Triggers.schedule(ns, group, name, spec)
func (o *Object) luaSchedule(l *lua.State) int {
	g := o.groupArgs(l)
	_, err := g.ScheduleTrigger(lua.CheckString(l, 3), lua.CheckString(l, 4))
	raise(l, err)
	return 0
}

// Triggers.cancel(ns, group, name) returns the number of cancelled delays.
func (o *Object) luaCancel(l *lua.State) int {
	g := o.groupArgs(l)
	l.PushInteger(g.CancelDelays(lua.CheckString(l, 3)))
	return 1
}

func (o *Object) luaState(l *lua.State) int {
	g := o.groupArgs(l)
	state, err := g.State(lua.CheckString(l, 3))
	raise(l, err)
	l.PushBoolean(state)
	return 1
}

// Triggers.setPermanent(ns, group, name, bool)
func (o *Object) luaSetPermanent(l *lua.State) int {
	g := o.groupArgs(l)
	lua.CheckType(l, 4, lua.TypeBoolean)
	_, err := g.SetPermanent(lua.CheckString(l, 3), l.ToBoolean(4))
	raise(l, err)
	return 0
}

// Triggers.setJoinable(ns, group, bool)
func (o *Object) luaSetJoinable(l *lua.State) int {
	g := o.groupArgs(l)
	lua.CheckType(l, 3, lua.TypeBoolean)
	g.SetJoinable(l.ToBoolean(3))
	return 0
}

// Triggers.names(ns, group) returns an array of trigger names.
func (o *Object) luaNames(l *lua.State) int {
	g := o.groupArgs(l)
	names := g.TriggerNames()
	l.CreateTable(len(names), 0)
	for i, n := range names {
		l.PushString(n)
		l.RawSetInt(-2, i+1)
	}
	return 1
}
