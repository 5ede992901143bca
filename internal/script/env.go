package script

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/Shopify/go-lua"
	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

var (
	// ErrClosed is returned by operations on a closed Environment.
	ErrClosed = errors.New("script environment closed")

	// ErrCallbackNotDefined is wrapped when a callback path does not resolve
	// to a function.
	ErrCallbackNotDefined = errors.New("callback not defined")
)

var envIDs atomic.Uint64

// NextID returns a process-unique environment id.
func NextID() trigger.EnvID {
	return trigger.EnvID(envIDs.Add(1))
}

// Environment is a trigger.Environment running Lua code.
type Environment struct {
	id     trigger.EnvID
	name   string
	state  *lua.State
	logger *zap.Logger
	strict bool
	closed bool
}

// Option configures an Environment.
type Option func(*Environment)

// WithLogger routes the script's print() output and diagnostics to l.
func WithLogger(l *zap.Logger) Option {
	return func(e *Environment) {
		e.logger = l
	}
}

// WithStrictCallbacks makes Invoke fail with ErrCallbackNotDefined when the
// callback path does not resolve to a function. By default such deliveries
// are skipped, since wildcard subscriptions routinely name callbacks a
// script does not implement.
func WithStrictCallbacks() Option {
	return func(e *Environment) {
		e.strict = true
	}
}

// WithName labels the environment in logs.
func WithName(name string) Option {
	return func(e *Environment) {
		e.name = name
	}
}

// New creates an environment with the standard Lua libraries loaded.
// An id of 0 allocates one with NextID.
func New(id trigger.EnvID, opts ...Option) *Environment {
	if id == 0 {
		id = NextID()
	}
	e := &Environment{
		id:     id,
		state:  lua.NewState(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.name == "" {
		e.name = fmt.Sprintf("env-%d", id)
	}
	lua.OpenLibraries(e.state)
	registerHandleType(e.state)
	e.state.Register("print", e.luaPrint)
	return e
}

// ID implements trigger.Environment.
func (e *Environment) ID() trigger.EnvID { return e.id }

// Name returns the log label.
func (e *Environment) Name() string { return e.name }

// State exposes the Lua state for bindings. Use only on the loop thread.
func (e *Environment) State() *lua.State { return e.state }

// Closed reports whether Close was called.
func (e *Environment) Closed() bool { return e.closed }

// DoString runs a chunk of Lua source.
func (e *Environment) DoString(code string) error {
	if e.closed {
		return ErrClosed
	}
	if err := lua.DoString(e.state, code); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

// DoFile runs a Lua file.
func (e *Environment) DoFile(path string) error {
	if e.closed {
		return ErrClosed
	}
	if err := lua.DoFile(e.state, path); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

// Register exposes a Go function as a global.
func (e *Environment) Register(name string, fn lua.Function) {
	e.state.Register(name, fn)
}

// SetGlobalTable installs a table of functions under name.
func (e *Environment) SetGlobalTable(name string, fns []lua.RegistryFunction) {
	e.state.NewTable()
	lua.SetFunctions(e.state, fns, 0)
	e.state.SetGlobal(name)
}

// HasFunction reports whether path resolves to a function.
func (e *Environment) HasFunction(path string) bool {
	if e.closed {
		return false
	}
	top := e.state.Top()
	defer e.state.SetTop(top)
	return e.resolve(path)
}

// Invoke implements trigger.Environment: it calls the function at the dotted
// callback path with params as a table.
func (e *Environment) Invoke(callback string, params param.Set) error {
	if e.closed {
		return ErrClosed
	}
	l := e.state
	top := l.Top()
	defer l.SetTop(top)

	if !e.resolve(callback) {
		if e.strict {
			return fmt.Errorf("%w: %s", ErrCallbackNotDefined, callback)
		}
		e.logger.Debug("callback not defined, skipping", zap.String("env", e.name), zap.String("callback", callback))
		return nil
	}
	PushSet(l, params)
	if err := l.ProtectedCall(1, 0, 0); err != nil {
		return fmt.Errorf("%s: %s: %w", e.name, callback, err)
	}
	return nil
}

// Call invokes a global function by dotted path with the given arguments
// and returns its first result.
func (e *Environment) Call(path string, args ...param.Value) (param.Value, error) {
	if e.closed {
		return nil, ErrClosed
	}
	l := e.state
	top := l.Top()
	defer l.SetTop(top)

	if !e.resolve(path) {
		return nil, fmt.Errorf("%w: %s", ErrCallbackNotDefined, path)
	}
	for _, a := range args {
		PushValue(l, a)
	}
	if err := l.ProtectedCall(len(args), 1, 0); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", e.name, path, err)
	}
	return ValueAt(l, -1)
}

// Global reads a global by dotted path.
func (e *Environment) Global(path string) (param.Value, error) {
	if e.closed {
		return nil, ErrClosed
	}
	l := e.state
	top := l.Top()
	defer l.SetTop(top)
	e.push(path)
	return ValueAt(l, -1)
}

// Close marks the environment unusable. Further deliveries fail with
// ErrClosed. Closing from inside a callback of this environment is allowed;
// the running call completes.
func (e *Environment) Close() {
	e.closed = true
}

// resolve pushes the function at path and reports whether it is callable.
// On false the stack may hold a non-function; callers restore the top.
func (e *Environment) resolve(path string) bool {
	e.push(path)
	return e.state.IsFunction(-1)
}

// push leaves the value at a dotted path on the stack, or nil when any
// intermediate is not a table.
func (e *Environment) push(path string) {
	l := e.state
	parts := strings.Split(path, ".")
	l.Global(parts[0])
	for _, p := range parts[1:] {
		if !l.IsTable(-1) {
			l.Pop(1)
			l.PushNil()
			return
		}
		l.Field(-1, p)
		l.Remove(-2)
	}
}

func (e *Environment) luaPrint(l *lua.State) int {
	n := l.Top()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		s, ok := lua.ToStringMeta(l, i)
		if !ok {
			s = lua.TypeNameOf(l, i)
		}
		parts = append(parts, s)
		l.Pop(1)
	}
	e.logger.Info(strings.Join(parts, "\t"), zap.String("env", e.name))
	return 0
}
