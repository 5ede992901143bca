package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trigdb/internal/journal"
	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

// seedJournal writes a small door-opening history and returns its path.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trigdb.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	events := []trigger.Event{
		{Seq: 1, Kind: trigger.EventNamespaceCreated, Namespace: "world"},
		{Seq: 2, Kind: trigger.EventGroupCreated, Namespace: "world", Group: "Doors"},
		{Seq: 3, Kind: trigger.EventTriggerAdded, Namespace: "world", Group: "Doors", Trigger: "Open"},
		{Seq: 4, Kind: trigger.EventRegistered, Namespace: "world", Group: "Doors", Trigger: "Open", Env: 1, Callback: "onOpen"},
		{Seq: 5, Kind: trigger.EventFired, Time: 1500, Namespace: "world", Group: "Doors", Trigger: "Open",
			Params: param.Set{"by": param.String("alice")}},
		{Seq: 6, Kind: trigger.EventDelivered, Time: 1500, Namespace: "world", Group: "Doors", Trigger: "Open",
			Env: 1, Callback: "onOpen", Params: param.Set{"by": param.String("alice")}},
		{Seq: 7, Kind: trigger.EventTriggerAdded, Namespace: "world", Group: "Doors", Trigger: "Close"},
	}
	for _, e := range events {
		require.NoError(t, j.Write(ctx, e))
	}
	return path
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeTrace(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceMissingDatabaseFile(t *testing.T) {
	out, err := executeTrace(t, "text", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "journal not found")
}

func TestTraceText(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "00:00:00.000 0001 namespace_created world")
	assert.Contains(t, out, `00:00:01.500 0006 delivered world.Doors.Open env=1 callback=onOpen params={by="alice"}`)
	assert.Contains(t, out, "7 entries (seq 1-7)")
	assert.Contains(t, out, "trigger_added")
}

func TestTraceFilters(t *testing.T) {
	path := seedJournal(t)

	tests := []struct {
		name string
		args []string
		want []int64
	}{
		{"trigger", []string{"--trigger", "Close"}, []int64{7}},
		{"kind", []string{"--kind", "trigger_added"}, []int64{3, 7}},
		{"group", []string{"--namespace", "world", "--group", "Doors", "--trigger", "Open"}, []int64{3, 4, 5, 6}},
		{"after", []string{"--after", "5"}, []int64{6, 7}},
		{"limit", []string{"--limit", "2"}, []int64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeTrace(t, "json", append([]string{"--db", path}, tt.args...)...)
			require.NoError(t, err)

			var resp struct {
				Status string      `json:"status"`
				Data   TraceResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			var seqs []int64
			for _, e := range resp.Data.Entries {
				seqs = append(seqs, e.Seq)
			}
			assert.Equal(t, tt.want, seqs)
		})
	}
}

func TestTraceJSONStats(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, "json", "--db", path)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 7, resp.Data.Stats.Total)
	assert.Equal(t, int64(1), resp.Data.Stats.FirstSeq)
	assert.Equal(t, int64(7), resp.Data.Stats.LastSeq)
	assert.Equal(t, 2, resp.Data.Stats.ByKind["trigger_added"])

	delivered := resp.Data.Entries[5]
	assert.Equal(t, "world.Doors.Open", delivered.Path)
	assert.Equal(t, uint64(1), delivered.Env)
	assert.Equal(t, "onOpen", delivered.Callback)
	assert.Equal(t, map[string]any{"by": "alice"}, delivered.Params)
}

func TestTraceNoMatches(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", path, "--namespace", "elsewhere")
	require.NoError(t, err)
	assert.Contains(t, out, "No journal entries match.")
}

func TestTraceParamsHash(t *testing.T) {
	path := seedJournal(t)
	hash, err := param.Hash(param.Set{"by": param.String("alice")})
	require.NoError(t, err)

	out, err := executeTrace(t, "json", "--db", path, "--params-hash", hash)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Entries, 2)
	assert.Equal(t, int64(5), resp.Data.Entries[0].Seq)
	assert.Equal(t, int64(6), resp.Data.Entries[1].Seq)
	for _, e := range resp.Data.Entries {
		assert.Equal(t, hash, e.Hash)
	}
}
