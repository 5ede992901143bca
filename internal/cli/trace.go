package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/trigdb/internal/harness"
	"github.com/roach88/trigdb/internal/journal"
	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	Namespace string
	Group     string
	Trigger   string
	Kind      string
	Hash      string
	After     int64
	Limit     int
}

// JournalEntry is one journal row in JSON output.
type JournalEntry struct {
	Seq       int64          `json:"seq"`
	Kind      string         `json:"kind"`
	Time      int64          `json:"time"`
	Path      string         `json:"path,omitempty"`
	Env       uint64         `json:"env,omitempty"`
	Callback  string         `json:"callback,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Hash      string         `json:"params_hash,omitempty"`
	Synthetic bool           `json:"synthetic,omitempty"`
	Due       int64          `json:"due,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// TraceResult is the JSON payload of the trace command.
type TraceResult struct {
	Entries []JournalEntry `json:"entries"`
	Stats   TraceStats     `json:"stats"`
}

// TraceStats summarises the selected entries.
type TraceStats struct {
	Total    int            `json:"total"`
	ByKind   map[string]int `json:"by_kind"`
	FirstSeq int64          `json:"first_seq,omitempty"`
	LastSeq  int64          `json:"last_seq,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print journal entries",
		Long: `Print the activity journal written by "trigdb run --journal".

Entries are printed in sequence order. Filters narrow the output to one
namespace, group, trigger, event kind or parameter digest.

Examples:
  trigdb trace --db ./trigdb.db
  trigdb trace --db ./trigdb.db --namespace world --trigger Open
  trigdb trace --db ./trigdb.db --kind delivery_failed --format json
  trigdb trace --db ./trigdb.db --params-hash 3f9a...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "only this namespace")
	cmd.Flags().StringVar(&opts.Group, "group", "", "only this trigger group")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "only this trigger name")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only this event kind")
	cmd.Flags().StringVar(&opts.Hash, "params-hash", "", "only events carrying this parameter digest")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only entries with a larger sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Opening creates the file, so check first.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Database), nil)
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	events, err := j.Read(ctx, journal.Filter{
		Namespace:  opts.Namespace,
		Group:      opts.Group,
		Trigger:    opts.Trigger,
		Kind:       trigger.EventKind(opts.Kind),
		ParamsHash: opts.Hash,
		AfterSeq:   opts.After,
		Limit:      opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result, err := buildTraceResult(events)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash parameters", err)
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}

	if len(events) == 0 {
		fmt.Fprintln(formatter.Writer, "No journal entries match.")
		return nil
	}
	for _, e := range events {
		fmt.Fprintf(formatter.Writer, "%s %s\n",
			e.Time.Time().UTC().Format("15:04:05.000"), harness.NewTraceEvent(e))
	}
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "%d entries (seq %d-%d)\n", result.Stats.Total, result.Stats.FirstSeq, result.Stats.LastSeq)
	kinds := make([]string, 0, len(result.Stats.ByKind))
	for k := range result.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(formatter.Writer, "  %-18s %d\n", k, result.Stats.ByKind[k])
	}
	return nil
}

func buildTraceResult(events []trigger.Event) (TraceResult, error) {
	result := TraceResult{
		Entries: make([]JournalEntry, 0, len(events)),
		Stats:   TraceStats{Total: len(events), ByKind: map[string]int{}},
	}
	for _, e := range events {
		entry := JournalEntry{
			Seq:       e.Seq,
			Kind:      string(e.Kind),
			Time:      int64(e.Time),
			Path:      e.Path(),
			Env:       uint64(e.Env),
			Callback:  e.Callback,
			Synthetic: e.Synthetic,
			Due:       int64(e.Due),
			Detail:    e.Detail,
		}
		if e.Params != nil {
			entry.Params = param.SetToMap(e.Params)
			hash, err := param.Hash(e.Params)
			if err != nil {
				return TraceResult{}, fmt.Errorf("event %d: %w", e.Seq, err)
			}
			entry.Hash = hash
		}
		result.Entries = append(result.Entries, entry)
		result.Stats.ByKind[entry.Kind]++
	}
	if len(events) > 0 {
		result.Stats.FirstSeq = events[0].Seq
		result.Stats.LastSeq = events[len(events)-1].Seq
	}
	return result, nil
}
