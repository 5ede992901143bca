package object

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/script"
	"github.com/roach88/trigdb/internal/trigger"
)

const (
	// LocalGroup is the group every object creates in its private namespace.
	LocalGroup = "Local"

	// InitTrigger fires once on Initialize.
	InitTrigger = "Init"

	// DeleteTrigger fires first thing on Delete.
	DeleteTrigger = "Delete"
)

// Object is a scripted entity. It owns a private namespace named by a
// random key, a Local group holding Init and Delete, and one Lua
// environment whose callbacks are gated by the object's active flag.
type Object struct {
	id     string
	typ    string
	key    string
	db     *trigger.Database
	env    *script.Environment
	local  *trigger.GroupHandle
	active *trigger.Flag
	logger *zap.Logger

	subs    []subscription
	deleted bool
}

type subscription struct {
	ref      trigger.Ref
	callback string
}

// Option configures an Object.
type Option func(*options)

type options struct {
	keys   KeyGenerator
	logger *zap.Logger
	envID  trigger.EnvID
}

// WithKeys sets the private key generator. Default: UUIDKeys.
func WithKeys(g KeyGenerator) Option {
	return func(o *options) {
		o.keys = g
	}
}

// WithLogger sets the logger for the object and its environment.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithEnvID fixes the environment id. Default: script.NextID().
func WithEnvID(id trigger.EnvID) Option {
	return func(o *options) {
		o.envID = id
	}
}

// New creates an inactive object: private namespace, Local group with Init
// and Delete, a fresh environment subscribed to its own Local triggers as
// Local.Init and Local.Delete, and the This/Triggers bindings.
func New(db *trigger.Database, typ, id string, opts ...Option) (*Object, error) {
	o := options{keys: UUIDKeys{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	key := o.keys.Generate()
	if err := db.CreateNamespace(key); err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	g, err := db.CreateTriggerGroup(key, LocalGroup)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	g.AddTrigger(InitTrigger).AddTrigger(DeleteTrigger)

	logger := o.logger.With(zap.String("object", id), zap.String("type", typ))
	obj := &Object{
		id:     id,
		typ:    typ,
		key:    key,
		db:     db,
		local:  trigger.NewGroupHandle(g),
		active: trigger.NewFlag(false),
		logger: logger,
		env: script.New(o.envID,
			script.WithLogger(logger),
			script.WithName(typ+"/"+id),
		),
	}
	obj.bind()

	if err := obj.UseTrigger(key, LocalGroup, "*", LocalGroup+".*"); err != nil {
		_ = obj.Delete()
		return nil, err
	}
	logger.Debug("object created", zap.String("key", key), zap.Uint64("env", uint64(obj.env.ID())))
	return obj, nil
}

// ID returns the object id.
func (o *Object) ID() string { return o.id }

// Type returns the object type.
func (o *Object) Type() string { return o.typ }

// Key returns the private namespace key.
func (o *Object) Key() string { return o.key }

// Env returns the object's environment.
func (o *Object) Env() *script.Environment { return o.env }

// Active reports whether the object is initialised and not deleted.
func (o *Object) Active() bool { return o.active.Alive() }

// Deleted reports whether Delete ran.
func (o *Object) Deleted() bool { return o.deleted }

// Handle returns the parameter handle that refers to this object.
func (o *Object) Handle() param.Handle {
	return param.Handle{Type: o.typ, ID: o.id}
}

// LocalGroup returns the object's Local group while it exists.
func (o *Object) LocalGroup() (*trigger.Group, bool) {
	return o.local.Group()
}

// LoadString runs Lua source in the object's environment.
func (o *Object) LoadString(code string) error {
	return o.env.DoString(code)
}

// LoadFile runs a Lua file in the object's environment.
func (o *Object) LoadFile(path string) error {
	return o.env.DoFile(path)
}

// Initialize activates the object and fires Local.Init. Initialising an
// active object logs a warning and does nothing.
func (o *Object) Initialize() error {
	if o.deleted {
		return fmt.Errorf("object %s: initialize after delete", o.id)
	}
	if o.active.Alive() {
		o.logger.Warn("object has already been initialised")
		return nil
	}
	o.logger.Debug("initialising object")
	o.active.Set(true)
	g, ok := o.local.Group()
	if !ok {
		return fmt.Errorf("object %s: local trigger group is gone", o.id)
	}
	_, err := g.Fire(InitTrigger)
	return err
}

// SendInitArg pushes a parameter onto Local.Init for the upcoming
// Initialize.
func (o *Object) SendInitArg(name string, v param.Value) error {
	g, ok := o.local.Group()
	if !ok {
		return fmt.Errorf("object %s: local trigger group is gone", o.id)
	}
	o.logger.Debug("sending Local.Init argument", zap.String("arg", name))
	return g.PushParameter(InitTrigger, name, v)
}

// UseTrigger subscribes the object's environment to ns.group.name.
//
// name "*" subscribes to every trigger currently in the group; a "*" in
// alias is replaced by each trigger name, and an alias without "*" is
// ignored for wildcards. Without an alias the callback is
// "ns.group.name". Subscribing again to the same trigger replaces the
// callback.
func (o *Object) UseTrigger(ns, group, name, alias string) error {
	if o.deleted {
		return fmt.Errorf("object %s: use trigger after delete", o.id)
	}
	if name == "*" {
		names, err := o.db.AllTriggerNames(ns, group)
		if err != nil {
			return err
		}
		var errs []error
		for _, n := range names {
			a := ""
			if strings.Contains(alias, "*") {
				a = strings.ReplaceAll(alias, "*", n)
			}
			if err := o.UseTrigger(ns, group, n, a); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	ref, err := o.db.TriggerRef(ns, group, name)
	if err != nil {
		return err
	}
	t, _ := ref.Get()
	callback := alias
	if callback == "" {
		callback = ns + "." + group + "." + name
	}

	if i := o.subscriptionIndex(t); i >= 0 {
		o.subs[i].callback = callback
		t.UnregisterEnvironment(o.env.ID())
	} else {
		o.subs = append(o.subs, subscription{ref: ref, callback: callback})
	}
	return t.RegisterEnvironment(o.env, callback, o.active)
}

// RemoveTrigger unsubscribes from ns.group.name. Removing a subscription
// that does not exist is a no-op; a trigger that does not exist is an
// error.
func (o *Object) RemoveTrigger(ns, group, name string) error {
	ref, err := o.db.TriggerRef(ns, group, name)
	if err != nil {
		return err
	}
	t, _ := ref.Get()
	t.UnregisterEnvironment(o.env.ID())
	if i := o.subscriptionIndex(t); i >= 0 {
		o.subs = append(o.subs[:i], o.subs[i+1:]...)
	}
	return nil
}

// Subscriptions returns "path -> callback" for every still-alive
// subscription, in subscription order.
func (o *Object) Subscriptions() map[string]string {
	out := make(map[string]string, len(o.subs))
	for _, s := range o.subs {
		if s.ref.Alive() {
			out[s.ref.Path()] = s.callback
		}
	}
	return out
}

func (o *Object) subscriptionIndex(t *trigger.Trigger) int {
	for i, s := range o.subs {
		if cur, ok := s.ref.Get(); ok && cur == t {
			return i
		}
	}
	return -1
}

// Delete tears the object down: fire Local.Delete, deactivate, unregister
// from every still-alive subscription, release the Local handle, remove
// the private namespace and close the environment. Deleting twice is a
// no-op. Delete callback failures are returned after teardown completes.
func (o *Object) Delete() error {
	if o.deleted {
		return nil
	}
	o.deleted = true
	o.logger.Debug("deleting object")

	var errs []error
	if g, ok := o.local.Group(); ok {
		if _, err := g.Fire(DeleteTrigger); err != nil {
			errs = append(errs, err)
		}
	}
	o.active.Set(false)
	for _, s := range o.subs {
		if t, ok := s.ref.Get(); ok {
			t.UnregisterEnvironment(o.env.ID())
		}
	}
	o.subs = nil
	o.local.Release()
	if err := o.db.RemoveNamespace(o.key); err != nil && !errors.Is(err, trigger.ErrNamespaceNotFound) {
		errs = append(errs, err)
	}
	o.env.Close()
	return errors.Join(errs...)
}
