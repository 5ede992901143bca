package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/testutil"
	"github.com/roach88/trigdb/internal/trigger"
)

// TraceEvent is one recorded database event in scenario form.
type TraceEvent struct {
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path,omitempty"`
	Env       uint64    `json:"env,omitempty"`
	Callback  string    `json:"callback,omitempty"`
	Params    param.Set `json:"-"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Due       int64     `json:"due,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// NewTraceEvent converts a recorded database event.
func NewTraceEvent(e trigger.Event) TraceEvent {
	return TraceEvent{
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		Path:      e.Path(),
		Env:       uint64(e.Env),
		Callback:  e.Callback,
		Params:    e.Params,
		Synthetic: e.Synthetic,
		Due:       int64(e.Due),
		Detail:    e.Detail,
	}
}

// Key returns "kind path", the form trace_order assertions use.
func (e TraceEvent) Key() string {
	return e.Kind + " " + e.Path
}

// String renders the event on one line, as written to golden files.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%04d %s %s", e.Seq, e.Kind, e.Path)
	if e.Env != 0 {
		fmt.Fprintf(&b, " env=%d", e.Env)
	}
	if e.Callback != "" {
		fmt.Fprintf(&b, " callback=%s", e.Callback)
	}
	if e.Params != nil {
		fmt.Fprintf(&b, " params=%s", e.Params)
	}
	if e.Synthetic {
		b.WriteString(" synthetic")
	}
	if e.Due != 0 {
		fmt.Fprintf(&b, " due=%d", e.Due)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " detail=%q", e.Detail)
	}
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds every recorded database event in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Calls holds the invocations seen by recording environments.
	Calls []testutil.Call `json:"-"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// CallKeys returns the calls as "env:callback" strings.
func (r *Result) CallKeys() []string {
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = fmt.Sprintf("%d:%s", c.Env, c.Callback)
	}
	return out
}
