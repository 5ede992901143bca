package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_ShippedScenariosPass(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(strings.TrimSuffix(filepath.Base(f), ".yaml"), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

const minimal = `
name: minimal
description: "one trigger, one env"
steps:
  - op: create_namespace
    path: world
  - op: create_group
    path: world.Doors
  - op: add_trigger
    path: world.Doors.Open
  - op: register
    path: world.Doors.Open
    env: 1
    callback: onOpen
  - op: fire
    path: world.Doors.Open
assertions:
  - type: calls
    calls: ["1:onOpen"]
`

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(mustParse(t, minimal))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 6)
	assert.Equal(t, "fired", result.Trace[4].Kind)
	assert.Equal(t, "world.Doors.Open", result.Trace[4].Path)
	assert.Equal(t, uint64(1), result.Trace[5].Env)
	assert.Equal(t, []string{"1:onOpen"}, result.CallKeys())
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(mustParse(t, minimal))
	require.NoError(t, err)
	second, err := Run(mustParse(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, Golden(first), Golden(second))
}

func TestRun_UnexpectedStepError(t *testing.T) {
	result, err := Run(mustParse(t, `
name: missing
description: "fire on a namespace that was never created"
steps:
  - op: fire
    path: world.Doors.Open
assertions:
  - type: trace_count
    kind: fired
    count: 0
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[0] (fire)")
	assert.Contains(t, result.Errors[0], "NAMESPACE_NOT_FOUND")
}

func TestRun_ExpectedErrorNotRaised(t *testing.T) {
	result, err := Run(mustParse(t, `
name: no_error
description: "creating a namespace succeeds"
steps:
  - op: create_namespace
    path: world
    error: NAMESPACE_ALREADY_EXISTS
assertions:
  - type: namespaces
    names: [world]
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error NAMESPACE_ALREADY_EXISTS, got none")
}

func TestRun_WrongErrorCode(t *testing.T) {
	result, err := Run(mustParse(t, `
name: wrong_code
description: "group lookup names the missing level"
steps:
  - op: create_namespace
    path: world
  - op: fire
    path: world.Doors.Open
    error: TRIGGER_NOT_FOUND
assertions:
  - type: namespaces
    names: [world]
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "GROUP_NOT_FOUND")
}

func TestRun_AssertionFailureReported(t *testing.T) {
	result, err := Run(mustParse(t, `
name: failing
description: "asks for a delivery that never happens"
steps:
  - op: create_namespace
    path: world
assertions:
  - type: trace_contains
    kind: delivered
  - type: namespaces
    names: [world]
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "not found in trace")
}

func TestRun_NestedStepFailureFailsCallback(t *testing.T) {
	result, err := Run(mustParse(t, `
name: nested_failure
description: "a then step that fails turns into a callback failure"
steps:
  - op: create_namespace
    path: world
  - op: create_group
    path: world.Doors
  - op: add_trigger
    path: world.Doors.Open
  - op: register
    path: world.Doors.Open
    env: 1
    callback: onOpen
    then:
      - op: fire
        path: world.Doors.Missing
  - op: fire
    path: world.Doors.Open
    error: TRIGGER_NOT_FOUND
assertions:
  - type: trace_contains
    kind: delivery_failed
    env: 1
`))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_ManifestMissing(t *testing.T) {
	s := mustParse(t, minimal)
	s.Manifest = filepath.Join(t.TempDir(), "nope")

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load manifest")
}

func TestRun_UnknownHandle(t *testing.T) {
	result, err := Run(mustParse(t, `
name: handle
description: "releasing a handle that was never acquired"
steps:
  - op: release
    handle: ghost
assertions:
  - type: namespaces
    names: []
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `unknown handle "ghost"`)
}

func TestRun_SpawnScriptError(t *testing.T) {
	result, err := Run(mustParse(t, `
name: bad_script
description: "a script that does not compile leaves no object behind"
steps:
  - op: spawn
    object: broken
    env: 9
    script: "function ("
assertions:
  - type: namespaces
    names: []
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[0] (spawn)")
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
