package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
start: 250
steps:
  - op: create_namespace
    path: world
  - op: push
    path: world.Doors.Open
    param: by
    value: 7
assertions:
  - type: trace_contains
    kind: namespace_created
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", s.Name)
	assert.Equal(t, int64(250), s.Start)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, OpPush, s.Steps[1].Op)
	assert.Equal(t, 7, s.Steps[1].Value)
	assert.Equal(t, filepath.Dir(path), s.dir)
}

func TestLoadScenario_ManifestRelativeToFile(t *testing.T) {
	path := writeScenario(t, `
name: m
description: "manifest"
manifest: manifests/world
steps:
  - op: update
assertions:
  - type: namespaces
    names: []
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "manifests", "world"), s.Manifest)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, "name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse YAML")
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "misspelled field"
steps:
  - op: fire
    pth: world.Doors.Open
assertions:
  - type: namespaces
    names: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pth")
}

func TestParseScenario_Validation(t *testing.T) {
	const assertions = `
assertions:
  - type: namespaces
    names: []
`
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - op: update\n" + assertions,
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps:\n  - op: update\n" + assertions,
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n" + assertions,
			want: "steps list is required",
		},
		{
			name: "no assertions",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: update\n",
			want: "assertions list is required",
		},
		{
			name: "unknown op",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: explode\n" + assertions,
			want: "unknown op",
		},
		{
			name: "wrong path depth",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: fire\n    path: world.Doors\n" + assertions,
			want: "must have 3 segments",
		},
		{
			name: "register without env",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: register\n    path: a.b.c\n    callback: cb\n" + assertions,
			want: "env is required",
		},
		{
			name: "bad duration",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: advance\n    after: soon\n" + assertions,
			want: "after",
		},
		{
			name: "joinable needs bool",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: set_joinable\n    path: a.b\n    value: yes please\n" + assertions,
			want: "value must be a bool",
		},
		{
			name: "then outside register",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: fire\n    path: a.b.c\n    then:\n      - op: update\n" + assertions,
			want: "then is only valid on register",
		},
		{
			name: "invalid nested step",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: register\n    path: a.b.c\n    env: 1\n    callback: cb\n    then:\n      - op: fire\n" + assertions,
			want: "then[0]",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: update\nassertions:\n  - type: vibes\n",
			want: "unknown assertion type",
		},
		{
			name: "state without expectations",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: update\nassertions:\n  - type: state\n    path: a.b.c\n",
			want: "state needs active, permanent or params",
		},
		{
			name: "calls without list",
			yaml: "name: n\ndescription: d\nsteps:\n  - op: update\nassertions:\n  - type: calls\n",
			want: "calls list is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_ObjectPathPrefixAllowed(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: obj
description: "object path"
steps:
  - op: spawn
    object: o
    env: 5
  - op: fire
    path: "@o.Local.Init"
assertions:
  - type: triggers
    path: "@o.Local"
    names: [Delete, Init]
`))
	require.NoError(t, err)
	assert.Equal(t, "@o.Local.Init", s.Steps[1].Path)
}

func TestLoadScenario_ShippedScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	names := map[string]bool{}
	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err, f)
		assert.False(t, names[s.Name], "duplicate scenario name %s", s.Name)
		names[s.Name] = true
	}
}
