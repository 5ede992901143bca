package trigger

// Delay is a pending activation of a trigger at an absolute due time.
// Delays are owned by the group that created them and only advance when the
// group is updated.
type Delay struct {
	target   *Trigger
	due      TimeUnit
	finished bool
}

func newDelay(target *Trigger, due TimeUnit) *Delay {
	return &Delay{target: target, due: due}
}

// Due returns the absolute due time.
func (d *Delay) Due() TimeUnit { return d.due }

// Target returns the trigger the delay fires.
func (d *Delay) Target() *Trigger { return d.target }

// Finished reports whether the delay has fired or was cancelled.
func (d *Delay) Finished() bool { return d.finished }

// Update fires the target once now >= due. It returns whether this call
// fired. Polling a finished delay is a no-op.
//
// A delay whose target was removed finishes without firing.
func (d *Delay) Update(now TimeUnit) (bool, error) {
	if d.finished || now < d.due {
		return false, nil
	}
	d.finished = true
	if d.target.Removed() {
		return false, nil
	}
	return true, d.target.Fire()
}

func (d *Delay) cancel() {
	d.finished = true
}
