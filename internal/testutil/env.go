package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

// Call is one invocation observed by a RecordingEnv.
type Call struct {
	Env      trigger.EnvID
	Callback string
	Params   param.Set
}

// CallLog collects calls across several environments in global order.
type CallLog struct {
	mu    sync.Mutex
	calls []Call
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Reset forgets all calls.
func (l *CallLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

// Add appends a call observed outside a RecordingEnv, such as a script
// reporting back to a test.
func (l *CallLog) Add(c Call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// RecordingEnv is a trigger.Environment that records every invocation.
// Callbacks listed in Fail return an error instead; OnInvoke, if set, runs
// after recording and its error is returned.
type RecordingEnv struct {
	id  trigger.EnvID
	log *CallLog

	mu       sync.Mutex
	calls    []Call
	fail     map[string]error
	OnInvoke func(callback string, params param.Set) error
}

// NewRecordingEnv creates an environment. log may be nil.
func NewRecordingEnv(id trigger.EnvID, log *CallLog) *RecordingEnv {
	return &RecordingEnv{id: id, log: log, fail: make(map[string]error)}
}

// ID implements trigger.Environment.
func (e *RecordingEnv) ID() trigger.EnvID { return e.id }

// Invoke implements trigger.Environment.
func (e *RecordingEnv) Invoke(callback string, params param.Set) error {
	c := Call{Env: e.id, Callback: callback, Params: params.Clone()}
	e.mu.Lock()
	e.calls = append(e.calls, c)
	failErr := e.fail[callback]
	hook := e.OnInvoke
	e.mu.Unlock()

	if e.log != nil {
		e.log.Add(c)
	}
	if failErr != nil {
		return failErr
	}
	if hook != nil {
		return hook(callback, params)
	}
	return nil
}

// FailOn makes callback return err. A nil err clears the failure.
func (e *RecordingEnv) FailOn(callback string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.fail, callback)
		return
	}
	e.fail[callback] = err
}

// Calls returns a copy of the recorded invocations.
func (e *RecordingEnv) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Callbacks returns just the callback names, in call order.
func (e *RecordingEnv) Callbacks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = c.Callback
	}
	return out
}

// String identifies the env in test failure output.
func (e *RecordingEnv) String() string {
	return fmt.Sprintf("env#%d", e.id)
}
