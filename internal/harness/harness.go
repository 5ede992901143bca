package harness

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/go-lua"
	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/manifest"
	"github.com/roach88/trigdb/internal/object"
	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/testutil"
	"github.com/roach88/trigdb/internal/trigger"
)

// Harness executes one scenario against an isolated database.
//
// Recording environments are created on first use and are alive until a
// kill_env step. Objects get predictable private keys ("obj-1", "obj-2",
// ...) so traces are identical across runs.
type Harness struct {
	scenario *Scenario
	db       *trigger.Database
	clock    *testutil.ManualClock
	log      *testutil.CallLog
	keys     *testutil.FixedKeyGenerator
	logger   *zap.Logger
	result   *Result

	envs    map[trigger.EnvID]*testutil.RecordingEnv
	flags   map[trigger.EnvID]*trigger.Flag
	hooks   map[trigger.EnvID]map[string][]Step
	handles map[string]*trigger.GroupHandle
	objects map[string]*object.Object
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes database and object logs. Default: discarded.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns its result.
//
// Step failures and assertion failures are reported in the Result. The
// returned error is reserved for problems that stop execution, such as an
// unreadable manifest.
func Run(s *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: s,
		clock:    testutil.NewManualClock(trigger.TimeUnit(s.Start)),
		log:      &testutil.CallLog{},
		keys:     testutil.NewFixedKeyGenerator("obj"),
		logger:   zap.NewNop(),
		result:   NewResult(),
		envs:     make(map[trigger.EnvID]*testutil.RecordingEnv),
		flags:    make(map[trigger.EnvID]*trigger.Flag),
		hooks:    make(map[trigger.EnvID]map[string][]Step),
		handles:  make(map[string]*trigger.GroupHandle),
		objects:  make(map[string]*object.Object),
	}
	for _, opt := range opts {
		opt(h)
	}

	dbOpts := []trigger.Option{
		trigger.WithClock(h.clock),
		trigger.WithLogger(h.logger),
		trigger.WithRecorder(trigger.RecorderFunc(h.record)),
	}
	if s.MaxDepth > 0 {
		dbOpts = append(dbOpts, trigger.WithMaxDepth(s.MaxDepth))
	}
	h.db = trigger.New(dbOpts...)

	if s.Manifest != "" {
		m, err := manifest.Load(s.Manifest)
		if err != nil {
			return nil, fmt.Errorf("load manifest: %w", err)
		}
		if err := m.Apply(h.db); err != nil {
			return nil, fmt.Errorf("apply manifest: %w", err)
		}
	}

	for i, st := range s.Steps {
		if err := h.step(st); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, st.Op, err))
		}
	}

	h.result.Calls = h.log.Calls()
	for _, msg := range EvaluateAssertions(h.result, s.Assertions, h) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// DB returns the scenario database. Valid after Run for inspection.
func (h *Harness) DB() *trigger.Database { return h.db }

func (h *Harness) record(e trigger.Event) error {
	h.result.Trace = append(h.result.Trace, NewTraceEvent(e))
	return nil
}

// step runs st and checks its outcome against st.Error.
func (h *Harness) step(st Step) error {
	err := h.exec(st)
	if st.Error == "" {
		return err
	}
	if err == nil {
		return fmt.Errorf("expected error %s, got none", st.Error)
	}
	if !errors.Is(err, &trigger.Error{Code: trigger.Code(st.Error)}) {
		return fmt.Errorf("expected error %s, got: %w", st.Error, err)
	}
	return nil
}

func (h *Harness) exec(st Step) error {
	switch st.Op {
	case OpCreateNamespace:
		p, err := h.path(st.Path)
		if err != nil {
			return err
		}
		return h.db.CreateNamespace(p[0])

	case OpRemoveNamespace:
		p, err := h.path(st.Path)
		if err != nil {
			return err
		}
		return h.db.RemoveNamespace(p[0])

	case OpCreateGroup:
		p, err := h.path(st.Path)
		if err != nil {
			return err
		}
		_, err = h.db.CreateTriggerGroup(p[0], p[1])
		return err

	case OpRemoveGroup:
		p, err := h.path(st.Path)
		if err != nil {
			return err
		}
		return h.db.RemoveTriggerGroup(p[0], p[1])

	case OpSetJoinable:
		g, _, err := h.group(st.Path)
		if err != nil {
			return err
		}
		g.SetJoinable(st.Value.(bool))
		return nil

	case OpAcquire:
		g, _, err := h.group(st.Path)
		if err != nil {
			return err
		}
		if hd, ok := h.handles[st.Handle]; ok {
			hd.Reset(g)
		} else {
			h.handles[st.Handle] = trigger.NewGroupHandle(g)
		}
		return nil

	case OpRelease:
		hd, ok := h.handles[st.Handle]
		if !ok {
			return fmt.Errorf("unknown handle %q", st.Handle)
		}
		hd.Release()
		return nil

	case OpAddTrigger:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		g.AddTrigger(p[2])
		return nil

	case OpRemoveTrigger:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		return g.RemoveTrigger(p[2])

	case OpSetPermanent:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		_, err = g.SetPermanent(p[2], st.Value.(bool))
		return err

	case OpRegister:
		t, err := h.trigger(st.Path)
		if err != nil {
			return err
		}
		id := trigger.EnvID(st.Env)
		env, err := h.env(id)
		if err != nil {
			return err
		}
		if len(st.Then) > 0 {
			h.hooks[id][st.Callback] = st.Then
		}
		return t.RegisterEnvironment(env, st.Callback, h.flags[id])

	case OpUnregister:
		t, err := h.trigger(st.Path)
		if err != nil {
			return err
		}
		t.UnregisterEnvironment(trigger.EnvID(st.Env))
		return nil

	case OpPush:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		return g.PushParameterFromAny(p[2], st.Param, st.Value)

	case OpFire:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		_, err = g.Fire(p[2])
		return err

	case OpDelay:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		d, _ := time.ParseDuration(st.After)
		_, err = g.DelayTriggerState(p[2], d)
		return err

	case OpCancel:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		g.CancelDelays(p[2])
		return nil

	case OpSchedule:
		g, p, err := h.group(st.Path)
		if err != nil {
			return err
		}
		_, err = g.ScheduleTrigger(p[2], st.Spec)
		return err

	case OpAdvance:
		d, _ := time.ParseDuration(st.After)
		return h.db.Update(h.clock.Advance(d))

	case OpUpdate:
		return h.db.Update(h.clock.Now())

	case OpKillEnv, OpReviveEnv:
		if _, err := h.env(trigger.EnvID(st.Env)); err != nil {
			return err
		}
		h.flags[trigger.EnvID(st.Env)].Set(st.Op == OpReviveEnv)
		return nil

	case OpFailEnv:
		env, err := h.env(trigger.EnvID(st.Env))
		if err != nil {
			return err
		}
		msg := "injected failure"
		if s, ok := st.Value.(string); ok && s != "" {
			msg = s
		}
		env.FailOn(st.Callback, errors.New(msg))
		return nil

	case OpSpawn:
		return h.spawn(st)

	case OpInitialize:
		o, err := h.object(st.Object)
		if err != nil {
			return err
		}
		return o.Initialize()

	case OpSendInitArg:
		o, err := h.object(st.Object)
		if err != nil {
			return err
		}
		g, ok := o.LocalGroup()
		if !ok {
			return fmt.Errorf("object %s: local group is gone", st.Object)
		}
		return g.PushParameterFromAny(object.InitTrigger, st.Param, st.Value)

	case OpUseTrigger, OpUnuseTrigger:
		o, err := h.object(st.Object)
		if err != nil {
			return err
		}
		p, err := h.path(st.Path)
		if err != nil {
			return err
		}
		if st.Op == OpUseTrigger {
			return o.UseTrigger(p[0], p[1], p[2], st.Alias)
		}
		return o.RemoveTrigger(p[0], p[1], p[2])

	case OpDeleteObject:
		o, err := h.object(st.Object)
		if err != nil {
			return err
		}
		return o.Delete()

	case OpShutdown:
		h.db.Shutdown()
		return nil
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

// path splits a dotted path, replacing a leading "@name" with the private
// key of object name.
func (h *Harness) path(path string) ([]string, error) {
	parts := strings.Split(path, ".")
	if strings.HasPrefix(parts[0], "@") {
		o, err := h.object(parts[0][1:])
		if err != nil {
			return nil, err
		}
		parts[0] = o.Key()
	}
	return parts, nil
}

func (h *Harness) group(path string) (*trigger.Group, []string, error) {
	p, err := h.path(path)
	if err != nil {
		return nil, nil, err
	}
	g, err := h.db.TriggerGroup(p[0], p[1])
	if err != nil {
		return nil, nil, err
	}
	return g, p, nil
}

func (h *Harness) trigger(path string) (*trigger.Trigger, error) {
	p, err := h.path(path)
	if err != nil {
		return nil, err
	}
	return h.db.Trigger(p[0], p[1], p[2])
}

func (h *Harness) object(name string) (*object.Object, error) {
	o, ok := h.objects[name]
	if !ok {
		return nil, fmt.Errorf("unknown object %q", name)
	}
	return o, nil
}

// env returns the recording environment id, creating it alive on first
// use.
func (h *Harness) env(id trigger.EnvID) (*testutil.RecordingEnv, error) {
	if env, ok := h.envs[id]; ok {
		return env, nil
	}
	for name, o := range h.objects {
		if o.Env().ID() == id {
			return nil, fmt.Errorf("env %d belongs to object %s", id, name)
		}
	}
	env := testutil.NewRecordingEnv(id, h.log)
	env.OnInvoke = func(callback string, _ param.Set) error {
		return h.runHooks(id, callback)
	}
	h.envs[id] = env
	h.flags[id] = trigger.NewFlag(true)
	h.hooks[id] = make(map[string][]Step)
	return env, nil
}

// runHooks executes the then-steps registered for id and callback. A step
// that fails unexpectedly fails the callback, like a script error would.
func (h *Harness) runHooks(id trigger.EnvID, callback string) error {
	var errs []error
	for i, st := range h.hooks[id][callback] {
		if err := h.step(st); err != nil {
			errs = append(errs, fmt.Errorf("then[%d] (%s): %w", i, st.Op, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Harness) spawn(st Step) error {
	if _, ok := h.objects[st.Object]; ok {
		return fmt.Errorf("object %q already spawned", st.Object)
	}
	id := trigger.EnvID(st.Env)
	if _, ok := h.envs[id]; ok {
		return fmt.Errorf("env %d is a recording environment", id)
	}
	o, err := object.New(h.db, st.Object, st.Object,
		object.WithKeys(h.keys),
		object.WithEnvID(id),
		object.WithLogger(h.logger),
	)
	if err != nil {
		return err
	}
	// report(label) lets scripts show up in the calls assertion as
	// "env:label".
	o.Env().Register("report", func(l *lua.State) int {
		h.log.Add(testutil.Call{Env: id, Callback: lua.CheckString(l, 1)})
		return 0
	})
	if st.Script != "" {
		if err := o.LoadString(st.Script); err != nil {
			_ = o.Delete()
			return err
		}
	}
	h.objects[st.Object] = o
	return nil
}
