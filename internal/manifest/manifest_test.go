package manifest_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trigdb/internal/manifest"
	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/testutil"
	"github.com/roach88/trigdb/internal/trigger"
)

func TestCompileString(t *testing.T) {
	m, err := manifest.CompileString(`
		namespace: world: group: Doors: {
			joinable: true
			trigger: {
				Open: permanent: true
				Move: params: {speed: 42, ratio: 0.5, who: {handle: "Player", id: "p1"}, ok: true, none: null}
				Close: {}
			}
		}
	`, "inline.cue")
	require.NoError(t, err)

	require.Len(t, m.Namespaces, 1)
	ns := m.Namespaces[0]
	assert.Equal(t, "world", ns.Name)
	require.Len(t, ns.Groups, 1)
	g := ns.Groups[0]
	assert.Equal(t, "Doors", g.Name)
	assert.True(t, g.Joinable)

	require.Len(t, g.Triggers, 3)
	assert.Equal(t, "Open", g.Triggers[0].Name)
	assert.True(t, g.Triggers[0].Permanent)
	assert.Equal(t, "Move", g.Triggers[1].Name)
	assert.Equal(t, param.Set{
		"speed": param.Number(42),
		"ratio": param.Number(0.5),
		"who":   param.Handle{Type: "Player", ID: "p1"},
		"ok":    param.Bool(true),
		"none":  param.Null{},
	}, g.Triggers[1].Params)
	assert.Equal(t, "Close", g.Triggers[2].Name)
	assert.False(t, g.Triggers[2].Permanent)
	assert.Equal(t, 3, m.TriggerCount())
}

func TestCompileEmpty(t *testing.T) {
	m, err := manifest.CompileString(``, "empty.cue")
	require.NoError(t, err)
	assert.Empty(t, m.Namespaces)
	assert.Zero(t, m.TriggerCount())
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
		msg   string
	}{
		{
			name:  "unknown top-level field",
			src:   `namespaces: world: {}`,
			field: "manifest",
			msg:   `unknown field "namespaces"`,
		},
		{
			name:  "unknown trigger field",
			src:   `namespace: w: group: g: trigger: T: {persistent: true}`,
			field: "w.g.T",
			msg:   `unknown field "persistent"`,
		},
		{
			name:  "bad schedule",
			src:   `namespace: w: group: g: trigger: T: schedule: "not a schedule"`,
			field: "w.g.T.schedule",
			msg:   "INVALID_SCHEDULE",
		},
		{
			name:  "dotted name",
			src:   `namespace: w: group: "a.b": {}`,
			field: "w.a.b",
			msg:   "invalid name",
		},
		{
			name:  "wrong flag type",
			src:   `namespace: w: group: g: joinable: "yes"`,
			field: "manifest",
			msg:   "",
		},
		{
			name:  "list parameter",
			src:   `namespace: w: group: g: trigger: T: params: xs: [1, 2]`,
			field: "manifest",
			msg:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manifest.CompileString(tt.src, "bad.cue")
			require.Error(t, err)
			var ce *manifest.CompileError
			require.True(t, errors.As(err, &ce), "want *CompileError, got %T", err)
			assert.Equal(t, tt.field, ce.Field)
			if tt.msg != "" {
				assert.Contains(t, ce.Message, tt.msg)
			}
		})
	}
}

func TestCompileErrorHasPosition(t *testing.T) {
	_, err := manifest.CompileString("namespace: w: group: g: trigger: T: {\n\tschedule: \"nope\"\n}", "pos.cue")
	require.Error(t, err)
	var ce *manifest.CompileError
	require.True(t, errors.As(err, &ce))
	require.True(t, ce.Pos.IsValid())
	assert.Equal(t, 2, ce.Pos.Line())
	assert.True(t, strings.HasPrefix(err.Error(), "pos.cue:2:"), err.Error())
}

func TestLoadDirectory(t *testing.T) {
	m, err := manifest.Load("testdata/valid")
	require.NoError(t, err)
	assert.Len(t, m.Files, 2)
	require.Len(t, m.Namespaces, 1)
	assert.Equal(t, 3, m.TriggerCount())
}

func TestLoadInvalidDirectory(t *testing.T) {
	_, err := manifest.Load("testdata/invalid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_SCHEDULE")

	_, err = manifest.Load("testdata/missing")
	require.Error(t, err)

	_, err = manifest.Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestApply(t *testing.T) {
	clock := testutil.NewManualClock(0)
	db := trigger.New(trigger.WithClock(clock))

	m, err := manifest.Load("testdata/valid")
	require.NoError(t, err)
	require.NoError(t, m.Apply(db))

	assert.True(t, db.HasNamespace("world"))
	doors, err := db.TriggerGroup("world", "Doors")
	require.NoError(t, err)
	assert.True(t, doors.Joinable())
	assert.Equal(t, []string{"Close", "Open"}, doors.TriggerNames())

	open, err := doors.Trigger("Open")
	require.NoError(t, err)
	assert.True(t, open.Permanent())

	clockGroup, err := db.TriggerGroup("world", "Clock")
	require.NoError(t, err)
	require.Len(t, clockGroup.Schedules(), 1)
	tick, err := clockGroup.Trigger("Tick")
	require.NoError(t, err)
	assert.Equal(t, param.Set{"interval": param.Number(1000), "label": param.String("tick")}, tick.Parameters())

	log := &testutil.CallLog{}
	require.NoError(t, tick.RegisterEnvironment(testutil.NewRecordingEnv(1, log), "onTick", nil))
	require.NoError(t, db.Update(clock.Advance(time.Second)))
	require.Len(t, log.Calls(), 1)
	assert.Equal(t, "onTick", log.Calls()[0].Callback)
}

func TestApplyTwiceIsStable(t *testing.T) {
	db := trigger.New(trigger.WithClock(testutil.NewManualClock(0)))
	m, err := manifest.Load("testdata/valid")
	require.NoError(t, err)

	require.NoError(t, m.Apply(db))
	doors, err := db.TriggerGroup("world", "Doors")
	require.NoError(t, err)
	open, err := doors.Trigger("Open")
	require.NoError(t, err)
	require.NoError(t, open.RegisterEnvironment(testutil.NewRecordingEnv(1, &testutil.CallLog{}), "onOpen", nil))

	require.NoError(t, m.Apply(db))

	again, err := doors.Trigger("Open")
	require.NoError(t, err)
	assert.Same(t, open, again)
	assert.True(t, again.IsRegistered(1))

	clockGroup, err := db.TriggerGroup("world", "Clock")
	require.NoError(t, err)
	assert.Len(t, clockGroup.Schedules(), 1)
}
