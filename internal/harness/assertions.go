package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		buf.WriteString("\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", ev)
		}
	}
	return buf.String()
}

// matches reports whether ev satisfies the event selector of a.
// Params is a subset match.
func matches(ev TraceEvent, a Assertion) bool {
	if a.Kind != "" && ev.Kind != a.Kind {
		return false
	}
	if a.Path != "" && ev.Path != a.Path {
		return false
	}
	if a.Env != 0 && ev.Env != a.Env {
		return false
	}
	if a.Callback != "" && ev.Callback != a.Callback {
		return false
	}
	if a.Synthetic != nil && ev.Synthetic != *a.Synthetic {
		return false
	}
	return paramsContain(ev.Params, a.Params)
}

func paramsContain(actual param.Set, expected map[string]any) bool {
	for k, raw := range expected {
		want, err := param.FromAny(raw)
		if err != nil {
			return false
		}
		got, ok := actual.Get(k)
		if !ok || !param.Equal(got, want) {
			return false
		}
	}
	return true
}

func describe(a Assertion) string {
	var parts []string
	parts = append(parts, "kind="+a.Kind)
	if a.Path != "" {
		parts = append(parts, "path="+a.Path)
	}
	if a.Env != 0 {
		parts = append(parts, fmt.Sprintf("env=%d", a.Env))
	}
	if a.Callback != "" {
		parts = append(parts, "callback="+a.Callback)
	}
	if a.Synthetic != nil {
		parts = append(parts, fmt.Sprintf("synthetic=%t", *a.Synthetic))
	}
	if len(a.Params) > 0 {
		parts = append(parts, fmt.Sprintf("params=%v", a.Params))
	}
	return strings.Join(parts, " ")
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if matches(ev, a) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d events matching %s", a.Count, describe(a)),
		Actual:   fmt.Sprintf("%d events", n),
		Trace:    trace,
	}
}

// assertTraceOrder checks that the listed "kind path" keys occur in order.
// Other events may appear in between, and each key consumes the first
// matching event after the previous one.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if ev.Key() == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: strings.Join(a.Events, " -> "),
				Actual:   fmt.Sprintf("%q not found in order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertCalls(r *Result, a Assertion) error {
	got := r.CallKeys()
	if slices.Equal(got, a.Calls) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCalls,
		Expected: fmt.Sprintf("%v", a.Calls),
		Actual:   fmt.Sprintf("%v", got),
	}
}

func assertState(h *Harness, a Assertion) error {
	t, err := h.trigger(a.Path)
	if err != nil {
		return &AssertionError{Type: AssertState, Expected: "trigger " + a.Path, Actual: err.Error()}
	}
	if a.Active != nil && t.State() != *a.Active {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s active=%t", a.Path, *a.Active),
			Actual:   fmt.Sprintf("active=%t", t.State()),
		}
	}
	if a.Permanent != nil && t.Permanent() != *a.Permanent {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s permanent=%t", a.Path, *a.Permanent),
			Actual:   fmt.Sprintf("permanent=%t", t.Permanent()),
		}
	}
	if a.Params != nil {
		want, err := param.SetFromMap(a.Params)
		if err != nil {
			return fmt.Errorf("%s: params: %w", AssertState, err)
		}
		if got := t.Parameters(); !got.Equal(want) {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("%s params=%s", a.Path, want),
				Actual:   fmt.Sprintf("params=%s", got),
			}
		}
	}
	return nil
}

func assertExists(h *Harness, a Assertion) error {
	p, err := h.path(a.Path)
	if err == nil {
		switch len(p) {
		case 1:
			if !h.db.HasNamespace(p[0]) {
				err = &trigger.Error{Code: trigger.CodeNamespaceNotFound, Namespace: p[0]}
			}
		case 2:
			_, err = h.db.TriggerGroup(p[0], p[1])
		default:
			_, err = h.db.Trigger(p[0], p[1], p[2])
		}
	}
	if exists := err == nil; exists != *a.Exists {
		actual := "exists"
		if err != nil {
			actual = err.Error()
		}
		return &AssertionError{
			Type:     AssertExists,
			Expected: fmt.Sprintf("%s exists=%t", a.Path, *a.Exists),
			Actual:   actual,
		}
	}
	return nil
}

func assertNames(typ string, want, got []string) error {
	if slices.Equal(want, got) || (len(want) == 0 && len(got) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
	}
}

func assertTriggers(h *Harness, a Assertion) error {
	g, _, err := h.group(a.Path)
	if err != nil {
		return &AssertionError{Type: AssertTriggers, Expected: "group " + a.Path, Actual: err.Error()}
	}
	return assertNames(AssertTriggers, a.Names, g.TriggerNames())
}

func assertRegistrations(h *Harness, a Assertion) error {
	t, err := h.trigger(a.Path)
	if err != nil {
		return &AssertionError{Type: AssertRegistrations, Expected: "trigger " + a.Path, Actual: err.Error()}
	}
	var got []uint64
	for _, r := range t.Registrations() {
		got = append(got, uint64(r.Env.ID()))
	}
	if slices.Equal(got, a.Envs) || (len(got) == 0 && len(a.Envs) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     AssertRegistrations,
		Expected: fmt.Sprintf("%v", a.Envs),
		Actual:   fmt.Sprintf("%v", got),
	}
}

// EvaluateAssertions evaluates all assertions against the result and the
// final database state of h. Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertCalls:
			err = assertCalls(result, a)
		case AssertState:
			err = assertState(h, a)
		case AssertExists:
			err = assertExists(h, a)
		case AssertNamespaces:
			err = assertNames(AssertNamespaces, a.Names, h.db.Namespaces())
		case AssertTriggers:
			err = assertTriggers(h, a)
		case AssertRegistrations:
			err = assertRegistrations(h, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errors
}
