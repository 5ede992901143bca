package trigger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/testutil"
	"github.com/roach88/trigdb/internal/trigger"
)

func TestCreateNamespaceTwiceFails(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("obj1"))

	err := db.CreateNamespace("obj1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, trigger.ErrNamespaceAlreadyExists))
	assert.Equal(t, "NAMESPACE_ALREADY_EXISTS: namespace already exists (namespace=obj1)", err.Error())
}

func TestLookupFailuresNameTheMissingLevel(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("ns"))
	g, err := db.CreateTriggerGroup("ns", "grp")
	require.NoError(t, err)
	g.AddTrigger("A")

	tests := []struct {
		name          string
		ns, grp, trig string
		code          trigger.Code
	}{
		{"namespace", "nope", "grp", "A", trigger.CodeNamespaceNotFound},
		{"group", "ns", "nope", "A", trigger.CodeGroupNotFound},
		{"trigger", "ns", "grp", "nope", trigger.CodeTriggerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.TriggerRef(tt.ns, tt.grp, tt.trig)
			require.Error(t, err)
			assert.True(t, trigger.IsCode(err, tt.code))
			assert.True(t, trigger.IsNotFound(err))
		})
	}

	_, err = g.Fire("missing")
	var te *trigger.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "ns.grp.missing", te.Path())
}

func TestCreateTriggerGroupIdempotent(t *testing.T) {
	db := trigger.New()
	_, err := db.CreateTriggerGroup("ns", "grp")
	assert.True(t, errors.Is(err, trigger.ErrNamespaceNotFound))

	require.NoError(t, db.CreateNamespace("ns"))
	a, err := db.CreateTriggerGroup("ns", "grp")
	require.NoError(t, err)
	a.AddTrigger("X")
	b, err := db.CreateTriggerGroup("ns", "grp")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, []string{"X"}, b.TriggerNames())
}

func TestRemoveNamespaceInvalidatesReferences(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("obj1"))
	g, err := db.CreateTriggerGroup("obj1", "Local")
	require.NoError(t, err)
	g.AddTrigger("Init")
	env := testutil.NewRecordingEnv(1, nil)
	tr := mustTrigger(t, g, "Init")
	require.NoError(t, tr.RegisterEnvironment(env, "onInit", nil))

	ref, err := db.TriggerRef("obj1", "Local", "Init")
	require.NoError(t, err)
	handle := trigger.NewGroupHandle(g)
	require.True(t, ref.Alive())

	require.NoError(t, db.RemoveNamespace("obj1"))

	got, ok := ref.Get()
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, "obj1.Local.Init", ref.Path())
	assert.False(t, handle.Valid())
	assert.True(t, g.Removed())
	assert.True(t, tr.Removed())
	assert.Empty(t, tr.Registrations())
	assert.False(t, db.HasNamespace("obj1"))

	_, err = db.TriggerRef("obj1", "Local", "Init")
	assert.True(t, errors.Is(err, trigger.ErrNamespaceNotFound))

	// Releasing a handle on a removed group is harmless.
	handle.Release()
	assert.True(t, errors.Is(db.RemoveNamespace("obj1"), trigger.ErrNamespaceNotFound))
}

func TestZeroRefIsGone(t *testing.T) {
	var ref trigger.Ref
	_, ok := ref.Get()
	assert.False(t, ok)
}

func TestInitScenario(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("obj1"))
	g, err := db.CreateTriggerGroup("obj1", "Local")
	require.NoError(t, err)
	g.AddTrigger("Init").AddTrigger("Delete")

	e1 := testutil.NewRecordingEnv(1, nil)
	require.NoError(t, mustTrigger(t, g, "Init").RegisterEnvironment(e1, "onInit", nil))

	_, err = g.Fire("Init")
	require.NoError(t, err)

	calls := e1.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "onInit", calls[0].Callback)
	assert.Empty(t, calls[0].Params)
}

func TestRemoveTriggerGroupRespectsHandles(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("ns"))
	g, err := db.CreateTriggerGroup("ns", "grp")
	require.NoError(t, err)

	h := trigger.NewGroupHandle(g)
	err = db.RemoveTriggerGroup("ns", "grp")
	assert.True(t, errors.Is(err, trigger.ErrGroupInUse))

	h.Release()
	require.NoError(t, db.RemoveTriggerGroup("ns", "grp"))
	assert.True(t, g.Removed())
	names, err := db.TriggerGroups("ns")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestGroupHandleCounting(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("ns"))
	a, _ := db.CreateTriggerGroup("ns", "a")
	b, _ := db.CreateTriggerGroup("ns", "b")

	h1 := trigger.NewGroupHandle(a)
	h2 := trigger.NewGroupHandle(a)
	assert.Equal(t, 2, a.References())
	assert.NotEqual(t, h1.ID(), h2.ID())

	h1.Reset(a)
	assert.Equal(t, 2, a.References(), "reset to same group is a no-op")

	h1.Reset(b)
	assert.Equal(t, 1, a.References())
	assert.Equal(t, 1, b.References())
	got, ok := h1.Group()
	require.True(t, ok)
	assert.Same(t, b, got)

	h2.Release()
	h2.Release()
	assert.Equal(t, 0, a.References())

	var zero trigger.GroupHandle
	assert.False(t, zero.Valid())
	zero.Release()
}

func TestGroupHandleCloneCountsSeparately(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("ns"))
	g, _ := db.CreateTriggerGroup("ns", "g")

	h1 := trigger.NewGroupHandle(g)
	h2 := h1.Clone()
	assert.Equal(t, 2, g.References())
	assert.NotEqual(t, h1.ID(), h2.ID())

	h1.Release()
	assert.Equal(t, 1, g.References())
	got, ok := h2.Group()
	require.True(t, ok)
	assert.Same(t, g, got)

	h2.Release()
	assert.Equal(t, 1, db.Collect())
	assert.False(t, h2.Clone().Valid(), "clone of a released handle is empty")
	assert.False(t, h1.Clone().Valid())
}

func TestCollectRemovesOrphanedGroups(t *testing.T) {
	db := trigger.New()
	require.NoError(t, db.CreateNamespace("ns"))
	kept, _ := db.CreateTriggerGroup("ns", "kept")
	orphan, _ := db.CreateTriggerGroup("ns", "orphan")

	h := trigger.NewGroupHandle(orphan)
	assert.Equal(t, 0, db.Collect())
	h.Release()

	require.NoError(t, db.Update(0))
	assert.True(t, orphan.Removed())
	assert.False(t, kept.Removed())
}

func TestDelayFiresOnceWhenDue(t *testing.T) {
	clock := testutil.NewManualClock(1000)
	db := trigger.New(trigger.WithClock(clock))
	require.NoError(t, db.CreateNamespace("ns"))
	g, _ := db.CreateTriggerGroup("ns", "grp")
	g.AddTrigger("Boom")
	env := testutil.NewRecordingEnv(1, nil)
	require.NoError(t, mustTrigger(t, g, "Boom").RegisterEnvironment(env, "onBoom", nil))

	_, err := g.DelayTriggerState("Boom", 500*time.Millisecond)
	require.NoError(t, err)
	pending := g.PendingDelays()
	require.Len(t, pending, 1)
	assert.EqualValues(t, 1500, pending[0].Due())

	require.NoError(t, db.Update(1499))
	assert.Empty(t, env.Calls())

	require.NoError(t, db.Update(1500))
	assert.Len(t, env.Calls(), 1)
	assert.Empty(t, g.PendingDelays())

	require.NoError(t, db.Update(5000))
	assert.Len(t, env.Calls(), 1)
}

func TestDelayUpdateIdempotent(t *testing.T) {
	_, g := setup(t, "A")
	_, err := g.DelayTriggerState("A", 0)
	require.NoError(t, err)
	d := g.PendingDelays()[0]

	fired, err := d.Update(-1)
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = d.Update(0)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.True(t, d.Finished())

	fired, err = d.Update(100)
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestDelayStillFiresAfterUnregister(t *testing.T) {
	clock := testutil.NewManualClock(0)
	db := trigger.New(trigger.WithClock(clock))
	require.NoError(t, db.CreateNamespace("ns"))
	g, _ := db.CreateTriggerGroup("ns", "grp")
	g.AddTrigger("A")
	tr := mustTrigger(t, g, "A")
	gone := testutil.NewRecordingEnv(1, nil)
	stays := testutil.NewRecordingEnv(2, nil)
	require.NoError(t, tr.RegisterEnvironment(gone, "cb", nil))
	require.NoError(t, tr.RegisterEnvironment(stays, "cb", nil))

	_, err := g.DelayTriggerState("A", time.Second)
	require.NoError(t, err)
	tr.UnregisterEnvironment(1)

	require.NoError(t, db.Update(clock.Advance(time.Second)))
	assert.Empty(t, gone.Calls())
	assert.Len(t, stays.Calls(), 1)
}

func TestCancelDelays(t *testing.T) {
	_, g := setup(t, "A", "B")
	_, err := g.DelayTriggerState("A", time.Second)
	require.NoError(t, err)
	_, err = g.DelayTriggerState("A", 2*time.Second)
	require.NoError(t, err)
	_, err = g.DelayTriggerState("B", time.Second)
	require.NoError(t, err)

	assert.Equal(t, 2, g.CancelDelays("A"))
	assert.Equal(t, 0, g.CancelDelays("nope"))
	require.Len(t, g.PendingDelays(), 1)
	assert.Equal(t, "B", g.PendingDelays()[0].Target().Name())

	_, err = g.DelayTriggerState("nope", time.Second)
	assert.True(t, errors.Is(err, trigger.ErrTriggerNotFound))
}

func TestScheduleFiresOnEachInterval(t *testing.T) {
	clock := testutil.NewManualClock(trigger.TimeUnit(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()))
	db := trigger.New(trigger.WithClock(clock))
	require.NoError(t, db.CreateNamespace("ns"))
	g, _ := db.CreateTriggerGroup("ns", "grp")
	g.AddTrigger("Tick")
	env := testutil.NewRecordingEnv(1, nil)
	require.NoError(t, mustTrigger(t, g, "Tick").RegisterEnvironment(env, "onTick", nil))

	_, err := g.ScheduleTrigger("Tick", trigger.Interval(10*time.Second))
	require.NoError(t, err)

	require.NoError(t, db.Update(clock.Advance(5*time.Second)))
	assert.Empty(t, env.Calls())
	require.NoError(t, db.Update(clock.Advance(5*time.Second)))
	assert.Len(t, env.Calls(), 1)
	require.NoError(t, db.Update(clock.Advance(10*time.Second)))
	assert.Len(t, env.Calls(), 2)

	assert.Equal(t, 1, g.Unschedule("Tick"))
	require.NoError(t, db.Update(clock.Advance(time.Minute)))
	assert.Len(t, env.Calls(), 2)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	_, g := setup(t, "A")
	_, err := g.ScheduleTrigger("A", "every tuesday")
	require.Error(t, err)
	assert.True(t, errors.Is(err, trigger.ErrInvalidSchedule))
}

func TestUpdateStopsGroupRemovedByCallback(t *testing.T) {
	clock := testutil.NewManualClock(0)
	db := trigger.New(trigger.WithClock(clock))
	require.NoError(t, db.CreateNamespace("ns"))
	g, _ := db.CreateTriggerGroup("ns", "grp")
	g.AddTrigger("Kill").AddTrigger("Later")
	killer := testutil.NewRecordingEnv(1, nil)
	killer.OnInvoke = func(string, param.Set) error { return db.RemoveNamespace("ns") }
	later := testutil.NewRecordingEnv(2, nil)
	require.NoError(t, mustTrigger(t, g, "Kill").RegisterEnvironment(killer, "cb", nil))
	require.NoError(t, mustTrigger(t, g, "Later").RegisterEnvironment(later, "cb", nil))

	_, err := g.DelayTriggerState("Kill", 0)
	require.NoError(t, err)
	_, err = g.DelayTriggerState("Later", 0)
	require.NoError(t, err)

	require.NoError(t, db.Update(0))
	assert.Len(t, killer.Calls(), 1)
	assert.Empty(t, later.Calls())
}

func TestPushParameterFromAny(t *testing.T) {
	_, g := setup(t, "A")
	require.NoError(t, g.PushParameterFromAny("A", "n", 3))

	err := g.PushParameterFromAny("A", "bad", []int{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, trigger.ErrParameterTypeMismatch))
	assert.True(t, errors.Is(err, param.ErrTypeMismatch))
	assert.Equal(t, param.Set{"n": param.Number(3)}, mustTrigger(t, g, "A").Parameters())
}

func TestRecorderSeesLifecycle(t *testing.T) {
	var events []trigger.Event
	rec := trigger.RecorderFunc(func(e trigger.Event) error {
		events = append(events, e)
		return nil
	})
	db := trigger.New(trigger.WithRecorder(rec), trigger.WithClock(testutil.NewManualClock(7)))
	require.NoError(t, db.CreateNamespace("ns"))
	g, _ := db.CreateTriggerGroup("ns", "grp")
	g.AddTrigger("A")
	env := testutil.NewRecordingEnv(1, nil)
	require.NoError(t, mustTrigger(t, g, "A").RegisterEnvironment(env, "cb", nil))
	_, err := g.Fire("A")
	require.NoError(t, err)
	require.NoError(t, db.RemoveNamespace("ns"))

	var kinds []trigger.EventKind
	for i, e := range events {
		kinds = append(kinds, e.Kind)
		assert.EqualValues(t, i+1, e.Seq)
		assert.EqualValues(t, 7, e.Time)
	}
	assert.Equal(t, []trigger.EventKind{
		trigger.EventNamespaceCreated,
		trigger.EventGroupCreated,
		trigger.EventTriggerAdded,
		trigger.EventRegistered,
		trigger.EventFired,
		trigger.EventDelivered,
		trigger.EventGroupRemoved,
		trigger.EventNamespaceRemoved,
	}, kinds)
}

func TestRecorderErrorIsNotFatal(t *testing.T) {
	rec := trigger.RecorderFunc(func(trigger.Event) error { return errors.New("disk full") })
	db := trigger.New(trigger.WithRecorder(rec))
	assert.NoError(t, db.CreateNamespace("ns"))
}

func TestShutdownRemovesEverything(t *testing.T) {
	db := trigger.New()
	for _, ns := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateNamespace(ns))
	}
	assert.Equal(t, []string{"a", "b", "c"}, db.Namespaces())

	db.Shutdown()
	assert.Empty(t, db.Namespaces())
	assert.NoError(t, db.Update(0), "empty database is safe to update")
}

func TestDefaultDatabase(t *testing.T) {
	mine := trigger.New()
	prev := trigger.SetDefault(mine)
	t.Cleanup(func() { trigger.SetDefault(prev) })

	assert.Same(t, mine, trigger.Default())
}

func TestAllTriggerNamesSorted(t *testing.T) {
	db, _ := setup(t, "b", "c", "a")
	names, err := db.AllTriggerNames("ns", "grp")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	_, err = db.AllTriggerNames("ns", "missing")
	assert.True(t, errors.Is(err, trigger.ErrGroupNotFound))
}
