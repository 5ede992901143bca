package trigger

import "sync/atomic"

var handleIDs atomic.Uint64

// GroupHandle is a counted reference to a Group. While at least one handle
// holds a group, the database will not collect or remove it through
// RemoveTriggerGroup. Handles never own the group's memory; a namespace
// teardown invalidates them and Group then reports false.
//
// The zero value holds nothing and is ready to use. A handle must not be
// copied by value: the copy would share the hold without counting it. Use
// Clone for a second counted reference.
type GroupHandle struct {
	_     noCopy
	group *Group
	id    uint64
}

// noCopy makes go vet's copylocks check report by-value copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// NewGroupHandle acquires g. A nil g yields an empty handle.
func NewGroupHandle(g *Group) *GroupHandle {
	h := &GroupHandle{}
	h.Reset(g)
	return h
}

// Clone returns a new handle holding the same group, counted separately.
// Cloning an empty or invalidated handle yields an empty handle.
func (h *GroupHandle) Clone() *GroupHandle {
	g, _ := h.Group()
	return NewGroupHandle(g)
}

// ID returns a process-unique id for diagnostics. It is assigned on first
// use and never changes.
func (h *GroupHandle) ID() uint64 {
	if h.id == 0 {
		h.id = handleIDs.Add(1)
	}
	return h.id
}

// Reset releases the current group, if any, and acquires g. Resetting to
// the group already held is a no-op.
func (h *GroupHandle) Reset(g *Group) {
	if h.group == g {
		return
	}
	if g != nil && !g.removed {
		g.acquire()
	} else {
		g = nil
	}
	old := h.group
	h.group = g
	if old != nil {
		old.release()
	}
	h.ID()
}

// Release drops the reference. Releasing an empty handle is a no-op.
func (h *GroupHandle) Release() {
	h.Reset(nil)
}

// Group returns the held group if it still exists.
func (h *GroupHandle) Group() (*Group, bool) {
	if h.group == nil || h.group.removed {
		return nil, false
	}
	return h.group, true
}

// Valid reports whether the handle holds a live group.
func (h *GroupHandle) Valid() bool {
	_, ok := h.Group()
	return ok
}
