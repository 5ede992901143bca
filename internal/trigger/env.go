package trigger

import (
	"sync/atomic"

	"github.com/roach88/trigdb/internal/param"
)

// EnvID identifies an environment. Registrations are keyed by it.
type EnvID uint64

// Environment is an isolated scripted execution context. The database never
// looks inside it; it only asks it to run a callback by name.
//
// Invoke must report failures as errors. A panic is recovered at the
// delivery boundary and reported as CALLBACK_FAILED.
type Environment interface {
	ID() EnvID
	Invoke(callback string, params param.Set) error
}

// Liveness is checked immediately before every delivery. The owner must
// flip it to false before the environment becomes unusable.
type Liveness interface {
	Alive() bool
}

// Flag is the usual Liveness owned by a scripted object.
type Flag struct {
	alive atomic.Bool
}

// NewFlag creates a flag with the given initial state.
func NewFlag(alive bool) *Flag {
	f := &Flag{}
	f.alive.Store(alive)
	return f
}

// Set updates the flag.
func (f *Flag) Set(alive bool) {
	f.alive.Store(alive)
}

// Alive implements Liveness.
func (f *Flag) Alive() bool {
	return f.alive.Load()
}

// Registration binds an environment to a trigger.
type Registration struct {
	Env      Environment
	Callback string

	// Alive may be nil, meaning always alive.
	Alive Liveness
}

func (r Registration) live() bool {
	return r.Alive == nil || r.Alive.Alive()
}
