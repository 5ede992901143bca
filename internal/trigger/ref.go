package trigger

// Ref is a weak reference to a Trigger. It never keeps the trigger alive;
// Get reports false once the trigger, its group or its namespace is gone.
type Ref struct {
	t    *Trigger
	path string
}

// Get resolves the reference.
func (r Ref) Get() (*Trigger, bool) {
	if r.t == nil || r.t.removed {
		return nil, false
	}
	return r.t, true
}

// Alive reports whether Get would succeed.
func (r Ref) Alive() bool {
	_, ok := r.Get()
	return ok
}

// Path returns the namespace.group.name the reference was taken for.
func (r Ref) Path() string { return r.path }

// RefOf returns a weak reference to t.
func RefOf(t *Trigger) Ref {
	return Ref{t: t, path: t.Path()}
}
