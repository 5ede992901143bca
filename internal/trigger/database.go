package trigger

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/param"
)

// Database is the root registry: namespace -> group -> trigger.
//
// Namespaces and groups are iterated in creation order wherever order is
// observable (Update, Shutdown, Namespaces), so a run is reproducible.
//
// Database is not safe for concurrent use. The runtime drives it from a
// single goroutine.
type Database struct {
	clock    Clock
	logger   *zap.Logger
	recorder Recorder
	seq      *Sequencer
	depth    depthQuota

	namespaces map[string]*namespace
	order      []string
}

type namespace struct {
	name   string
	groups map[string]*Group
	order  []string
}

// Option configures a Database.
type Option func(*Database)

// WithClock sets the clock used for delay due times. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(db *Database) {
		db.clock = c
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(db *Database) {
		db.logger = l
	}
}

// WithRecorder attaches an activity recorder.
func WithRecorder(r Recorder) Option {
	return func(db *Database) {
		db.recorder = r
	}
}

// WithSequencer continues event numbering from an existing sequencer.
func WithSequencer(s *Sequencer) Option {
	return func(db *Database) {
		db.seq = s
	}
}

// WithMaxDepth bounds nested dispatch. Default: DefaultMaxDepth.
// Use WithMaxDepth(2) in tests to exercise the limit.
func WithMaxDepth(n int) Option {
	return func(db *Database) {
		db.depth.max = n
	}
}

// New creates an empty database.
func New(opts ...Option) *Database {
	db := &Database{
		clock:      SystemClock{},
		logger:     zap.NewNop(),
		seq:        &Sequencer{},
		depth:      depthQuota{max: DefaultMaxDepth},
		namespaces: make(map[string]*namespace),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Clock returns the database clock.
func (db *Database) Clock() Clock { return db.clock }

// Logger returns the database logger.
func (db *Database) Logger() *zap.Logger { return db.logger }

// CreateNamespace allocates an empty namespace. Creating an existing
// namespace fails with NAMESPACE_ALREADY_EXISTS.
func (db *Database) CreateNamespace(name string) error {
	if _, ok := db.namespaces[name]; ok {
		return &Error{Code: CodeNamespaceAlreadyExists, Message: "namespace already exists", Namespace: name}
	}
	db.namespaces[name] = &namespace{name: name, groups: make(map[string]*Group)}
	db.order = append(db.order, name)
	db.logger.Debug("namespace created", zap.String("namespace", name))
	db.record(Event{Kind: EventNamespaceCreated, Namespace: name})
	return nil
}

// HasNamespace reports whether the namespace exists.
func (db *Database) HasNamespace(name string) bool {
	_, ok := db.namespaces[name]
	return ok
}

// Namespaces returns namespace names in creation order.
func (db *Database) Namespaces() []string {
	return slices.Clone(db.order)
}

// RemoveNamespace destroys every group and trigger under name, dropping all
// of their registrations, delays and schedules. Outstanding handles and
// references become invalid and report so; they are not an error.
func (db *Database) RemoveNamespace(name string) error {
	ns, ok := db.namespaces[name]
	if !ok {
		return namespaceNotFound(name)
	}
	// Unlink first so callbacks observing the teardown see a consistent view.
	delete(db.namespaces, name)
	db.order = slices.DeleteFunc(db.order, func(n string) bool { return n == name })

	for _, gname := range ns.order {
		g := ns.groups[gname]
		g.teardown()
		db.record(Event{Kind: EventGroupRemoved, Namespace: name, Group: gname})
	}
	db.logger.Debug("namespace removed", zap.String("namespace", name), zap.Int("groups", len(ns.order)))
	db.record(Event{Kind: EventNamespaceRemoved, Namespace: name})
	return nil
}

// CreateTriggerGroup returns the named group, creating it if absent.
func (db *Database) CreateTriggerGroup(ns, name string) (*Group, error) {
	n, ok := db.namespaces[ns]
	if !ok {
		return nil, namespaceNotFound(ns)
	}
	if g, ok := n.groups[name]; ok {
		return g, nil
	}
	g := newGroup(db, ns, name)
	n.groups[name] = g
	n.order = append(n.order, name)
	db.logger.Debug("trigger group created", zap.String("namespace", ns), zap.String("group", name))
	db.record(Event{Kind: EventGroupCreated, Namespace: ns, Group: name})
	return g, nil
}

// TriggerGroup looks up an existing group.
func (db *Database) TriggerGroup(ns, name string) (*Group, error) {
	n, ok := db.namespaces[ns]
	if !ok {
		return nil, namespaceNotFound(ns)
	}
	g, ok := n.groups[name]
	if !ok {
		return nil, groupNotFound(ns, name)
	}
	return g, nil
}

// TriggerGroups returns the group names of ns in creation order.
func (db *Database) TriggerGroups(ns string) ([]string, error) {
	n, ok := db.namespaces[ns]
	if !ok {
		return nil, namespaceNotFound(ns)
	}
	return slices.Clone(n.order), nil
}

// RemoveTriggerGroup destroys one group. It refuses with GROUP_IN_USE while
// any GroupHandle holds the group.
func (db *Database) RemoveTriggerGroup(ns, name string) error {
	g, err := db.TriggerGroup(ns, name)
	if err != nil {
		return err
	}
	if g.refs > 0 {
		return &Error{
			Code:      CodeGroupInUse,
			Message:   fmt.Sprintf("trigger group has %d outstanding handles", g.refs),
			Namespace: ns,
			Group:     name,
		}
	}
	db.removeGroup(g)
	return nil
}

func (db *Database) removeGroup(g *Group) {
	n := db.namespaces[g.namespace]
	delete(n.groups, g.name)
	n.order = slices.DeleteFunc(n.order, func(s string) bool { return s == g.name })
	g.teardown()
	db.logger.Debug("trigger group removed", zap.String("namespace", g.namespace), zap.String("group", g.name))
	db.record(Event{Kind: EventGroupRemoved, Namespace: g.namespace, Group: g.name})
}

// Collect removes every group whose last handle has been released and that
// has not been re-acquired since. Groups that never had a handle are kept.
// Returns the number of groups removed. Update calls it once per tick.
func (db *Database) Collect() int {
	var victims []*Group
	for _, nsName := range db.order {
		n := db.namespaces[nsName]
		for _, gname := range n.order {
			if g := n.groups[gname]; g.orphaned && g.refs == 0 {
				victims = append(victims, g)
			}
		}
	}
	for _, g := range victims {
		db.removeGroup(g)
	}
	return len(victims)
}

// Trigger looks up a trigger directly. Prefer TriggerRef for references
// held across ticks.
func (db *Database) Trigger(ns, group, name string) (*Trigger, error) {
	g, err := db.TriggerGroup(ns, group)
	if err != nil {
		return nil, err
	}
	return g.Trigger(name)
}

// TriggerRef returns a weak reference to a trigger. Lookup failures name the
// first missing level.
func (db *Database) TriggerRef(ns, group, name string) (Ref, error) {
	t, err := db.Trigger(ns, group, name)
	if err != nil {
		return Ref{}, err
	}
	return RefOf(t), nil
}

// AllTriggerNames lists the triggers of a group in sorted order. Used to
// expand wildcard subscriptions.
func (db *Database) AllTriggerNames(ns, group string) ([]string, error) {
	g, err := db.TriggerGroup(ns, group)
	if err != nil {
		return nil, err
	}
	return g.TriggerNames(), nil
}

// Update advances the delays and schedules of every group, namespaces and
// groups in creation order, then collects orphaned groups. A failure in one
// group does not stop the others.
func (db *Database) Update(now TimeUnit) error {
	var errs []error
	for _, nsName := range slices.Clone(db.order) {
		n, ok := db.namespaces[nsName]
		if !ok {
			continue
		}
		for _, gname := range slices.Clone(n.order) {
			g, ok := n.groups[gname]
			if !ok {
				continue
			}
			if err := g.Update(now); err != nil {
				errs = append(errs, err)
			}
		}
	}
	db.Collect()
	return errors.Join(errs...)
}

// Shutdown removes every namespace, newest first.
func (db *Database) Shutdown() {
	for i := len(db.order) - 1; i >= 0; i-- {
		_ = db.RemoveNamespace(db.order[i])
	}
}

// deliver invokes one registration. Panics inside the environment are
// recovered and reported like any other callback failure.
func (db *Database) deliver(t *Trigger, reg Registration, params param.Set, synthetic bool) error {
	err := invoke(reg, params)
	if err == nil {
		db.record(Event{
			Kind:      EventDelivered,
			Namespace: t.group.namespace,
			Group:     t.group.name,
			Trigger:   t.name,
			Env:       reg.Env.ID(),
			Callback:  reg.Callback,
			Params:    params,
			Synthetic: synthetic,
		})
		return nil
	}

	fail := &Error{
		Code:      CodeCallbackFailed,
		Message:   "callback failed",
		Namespace: t.group.namespace,
		Group:     t.group.name,
		Trigger:   t.name,
		Env:       reg.Env.ID(),
		Callback:  reg.Callback,
		Cause:     err,
	}
	db.logger.Error("trigger callback failed",
		zap.String("trigger", t.Path()),
		zap.Uint64("env", uint64(reg.Env.ID())),
		zap.String("callback", reg.Callback),
		zap.Error(err),
	)
	db.record(Event{
		Kind:      EventDeliveryFailed,
		Namespace: t.group.namespace,
		Group:     t.group.name,
		Trigger:   t.name,
		Env:       reg.Env.ID(),
		Callback:  reg.Callback,
		Params:    params,
		Synthetic: synthetic,
		Detail:    err.Error(),
	})
	return fail
}

func invoke(reg Registration, params param.Set) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in callback: %v", r)
		}
	}()
	return reg.Env.Invoke(reg.Callback, params)
}

func (db *Database) record(e Event) {
	if db.recorder == nil {
		return
	}
	e.Seq = db.seq.Next()
	e.Time = db.clock.Now()
	if err := db.recorder.Record(e); err != nil {
		db.logger.Warn("recorder failed",
			zap.String("kind", string(e.Kind)),
			zap.Int64("seq", e.Seq),
			zap.Error(err),
		)
	}
}

var defaultDB atomic.Pointer[Database]

// Default returns the process-wide database, creating it on first use.
// Tests should construct their own with New instead.
func Default() *Database {
	if db := defaultDB.Load(); db != nil {
		return db
	}
	defaultDB.CompareAndSwap(nil, New())
	return defaultDB.Load()
}

// SetDefault installs db as the process-wide database and returns the
// previous one, which may be nil.
func SetDefault(db *Database) *Database {
	return defaultDB.Swap(db)
}
