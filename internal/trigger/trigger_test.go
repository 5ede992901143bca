package trigger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/testutil"
	"github.com/roach88/trigdb/internal/trigger"
)

// setup creates a database with one namespace and group and the given
// triggers.
func setup(t *testing.T, names ...string) (*trigger.Database, *trigger.Group) {
	t.Helper()
	db := trigger.New(trigger.WithClock(testutil.NewManualClock(0)))
	require.NoError(t, db.CreateNamespace("ns"))
	g, err := db.CreateTriggerGroup("ns", "grp")
	require.NoError(t, err)
	for _, n := range names {
		g.AddTrigger(n)
	}
	return db, g
}

func mustTrigger(t *testing.T, g *trigger.Group, name string) *trigger.Trigger {
	t.Helper()
	tr, err := g.Trigger(name)
	require.NoError(t, err)
	return tr
}

func TestAddTriggerIdempotent(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	tr.SetPermanent(true)
	require.NoError(t, tr.Fire())
	require.True(t, tr.State())

	g.AddTrigger("A")

	assert.Equal(t, []string{"A"}, g.TriggerNames())
	again := mustTrigger(t, g, "A")
	assert.Same(t, tr, again)
	assert.True(t, again.State(), "second AddTrigger must not reset state")
}

func TestFireDeliversInRegistrationOrder(t *testing.T) {
	_, g := setup(t, "Move")
	tr := mustTrigger(t, g, "Move")

	log := &testutil.CallLog{}
	envs := []*testutil.RecordingEnv{
		testutil.NewRecordingEnv(3, log),
		testutil.NewRecordingEnv(1, log),
		testutil.NewRecordingEnv(2, log),
	}
	for _, e := range envs {
		require.NoError(t, tr.RegisterEnvironment(e, "onMove", nil))
	}
	tr.PushParameter("dx", param.Number(5))

	require.NoError(t, tr.Fire())

	calls := log.Calls()
	require.Len(t, calls, 3)
	for i, want := range []trigger.EnvID{3, 1, 2} {
		assert.Equal(t, want, calls[i].Env)
		assert.Equal(t, "onMove", calls[i].Callback)
		assert.Equal(t, param.Set{"dx": param.Number(5)}, calls[i].Params)
	}
	assert.False(t, tr.State())
	assert.Empty(t, tr.Parameters())
}

func TestPermanentTriggerKeepsState(t *testing.T) {
	_, g := setup(t, "Open")
	tr := mustTrigger(t, g, "Open")
	tr.SetPermanent(true)
	tr.PushParameter("by", param.String("key"))

	require.NoError(t, tr.Fire())

	assert.True(t, tr.State())
	assert.Equal(t, param.Set{"by": param.String("key")}, tr.Parameters())
}

func TestJoinableGroupDeliversToLateJoiner(t *testing.T) {
	_, g := setup(t, "Open")
	g.SetJoinable(true)
	tr := mustTrigger(t, g, "Open")
	tr.SetPermanent(true)
	tr.PushParameter("by", param.String("key"))
	require.NoError(t, tr.Fire())

	late := testutil.NewRecordingEnv(7, nil)
	require.NoError(t, tr.RegisterEnvironment(late, "onOpen", nil))

	calls := late.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "onOpen", calls[0].Callback)
	assert.Equal(t, param.Set{"by": param.String("key")}, calls[0].Params)
}

func TestNonJoinableGroupWaitsForNextFire(t *testing.T) {
	_, g := setup(t, "Open")
	tr := mustTrigger(t, g, "Open")
	tr.SetPermanent(true)
	require.NoError(t, tr.Fire())

	late := testutil.NewRecordingEnv(7, nil)
	require.NoError(t, tr.RegisterEnvironment(late, "onOpen", nil))
	assert.Empty(t, late.Calls())

	require.NoError(t, tr.Fire())
	assert.Len(t, late.Calls(), 1)
}

func TestJoinableIgnoresInactiveOrNonPermanent(t *testing.T) {
	_, g := setup(t, "Once", "Idle")
	g.SetJoinable(true)
	once := mustTrigger(t, g, "Once")
	require.NoError(t, once.Fire())
	mustTrigger(t, g, "Idle").SetPermanent(true)

	env := testutil.NewRecordingEnv(1, nil)
	require.NoError(t, once.RegisterEnvironment(env, "a", nil))
	require.NoError(t, mustTrigger(t, g, "Idle").RegisterEnvironment(env, "b", nil))
	assert.Empty(t, env.Calls())
}

func TestRegisterReplacesCallback(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	first := testutil.NewRecordingEnv(1, nil)
	second := testutil.NewRecordingEnv(2, nil)

	require.NoError(t, tr.RegisterEnvironment(first, "old", nil))
	require.NoError(t, tr.RegisterEnvironment(second, "other", nil))
	require.NoError(t, tr.RegisterEnvironment(first, "new", nil))

	regs := tr.Registrations()
	require.Len(t, regs, 2)
	assert.Equal(t, trigger.EnvID(1), regs[0].Env.ID(), "replacement keeps position")
	assert.Equal(t, "new", regs[0].Callback)

	require.NoError(t, tr.Fire())
	assert.Equal(t, []string{"new"}, first.Callbacks())
}

func TestUnregisterIsNoOpWhenAbsent(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	dead := trigger.NewFlag(false)
	env := testutil.NewRecordingEnv(1, nil)
	require.NoError(t, tr.RegisterEnvironment(env, "cb", dead))

	assert.True(t, tr.UnregisterEnvironment(1))
	assert.False(t, tr.UnregisterEnvironment(1))
	assert.False(t, tr.UnregisterEnvironment(99))
	assert.Empty(t, tr.Registrations())
}

func TestDeadEnvironmentIsSkipped(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	alive := trigger.NewFlag(true)
	a := testutil.NewRecordingEnv(1, nil)
	b := testutil.NewRecordingEnv(2, nil)
	require.NoError(t, tr.RegisterEnvironment(a, "cb", alive))
	require.NoError(t, tr.RegisterEnvironment(b, "cb", nil))

	alive.Set(false)
	require.NoError(t, tr.Fire())

	assert.Empty(t, a.Calls())
	assert.Len(t, b.Calls(), 1)
}

func TestUnregisterDuringDeliverySkipsLaterEnv(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	a := testutil.NewRecordingEnv(1, nil)
	b := testutil.NewRecordingEnv(2, nil)
	a.OnInvoke = func(string, param.Set) error {
		tr.UnregisterEnvironment(2)
		return nil
	}
	require.NoError(t, tr.RegisterEnvironment(a, "cb", nil))
	require.NoError(t, tr.RegisterEnvironment(b, "cb", nil))

	require.NoError(t, tr.Fire())
	assert.Len(t, a.Calls(), 1)
	assert.Empty(t, b.Calls())
}

func TestCallbackFailureDoesNotStopDelivery(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	a := testutil.NewRecordingEnv(1, nil)
	b := testutil.NewRecordingEnv(2, nil)
	c := testutil.NewRecordingEnv(3, nil)
	a.FailOn("cb", errors.New("boom"))
	c.OnInvoke = func(string, param.Set) error { panic("kaboom") }
	for _, e := range []*testutil.RecordingEnv{a, b, c} {
		require.NoError(t, tr.RegisterEnvironment(e, "cb", nil))
	}

	err := tr.Fire()
	require.Error(t, err)
	assert.True(t, errors.Is(err, trigger.ErrCallbackFailed))
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "kaboom")
	assert.Len(t, b.Calls(), 1)

	var te *trigger.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, trigger.EnvID(1), te.Env)
}

func TestParametersOverwriteNotMerge(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	tr.PushParameter("x", param.Number(1))
	tr.PushParameter("x", param.Number(2))
	tr.PushParameter("y", nil)

	assert.Equal(t, param.Set{"x": param.Number(2), "y": param.Null{}}, tr.Parameters())
}

func TestSpeedScenario(t *testing.T) {
	_, g := setup(t, "Move")
	tr := mustTrigger(t, g, "Move")
	e1 := testutil.NewRecordingEnv(1, nil)
	e2 := testutil.NewRecordingEnv(2, nil)
	require.NoError(t, tr.RegisterEnvironment(e1, "onMove", nil))
	require.NoError(t, tr.RegisterEnvironment(e2, "onMove", nil))

	require.NoError(t, g.PushParameter("Move", "speed", param.Number(42)))
	_, err := g.Fire("Move")
	require.NoError(t, err)
	_, err = g.Fire("Move")
	require.NoError(t, err)

	for _, e := range []*testutil.RecordingEnv{e1, e2} {
		calls := e.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, param.Set{"speed": param.Number(42)}, calls[0].Params)
		assert.Empty(t, calls[1].Params)
	}
}

func TestNestedDispatchDepth(t *testing.T) {
	db := trigger.New(trigger.WithMaxDepth(3))
	require.NoError(t, db.CreateNamespace("ns"))
	g, err := db.CreateTriggerGroup("ns", "grp")
	require.NoError(t, err)
	g.AddTrigger("Loop")
	tr := mustTrigger(t, g, "Loop")

	env := testutil.NewRecordingEnv(1, nil)
	env.OnInvoke = func(string, param.Set) error { return tr.Fire() }
	require.NoError(t, tr.RegisterEnvironment(env, "again", nil))

	err = tr.Fire()
	require.Error(t, err)
	assert.True(t, errors.Is(err, trigger.ErrDispatchDepthExceeded))
	assert.Len(t, env.Calls(), 3)

	// Depth is released after the chain unwinds.
	env.OnInvoke = nil
	assert.NoError(t, tr.Fire())
}

func TestRemovedTriggerRejectsOperations(t *testing.T) {
	_, g := setup(t, "A")
	tr := mustTrigger(t, g, "A")
	require.NoError(t, g.RemoveTrigger("A"))

	assert.True(t, tr.Removed())
	assert.True(t, errors.Is(tr.Fire(), trigger.ErrTriggerNotFound))
	err := tr.RegisterEnvironment(testutil.NewRecordingEnv(1, nil), "cb", nil)
	assert.True(t, trigger.IsNotFound(err))
}
