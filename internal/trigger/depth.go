package trigger

import "fmt"

// DefaultMaxDepth bounds nested dispatch: a callback that fires a trigger
// whose callback fires another trigger and so on.
const DefaultMaxDepth = 64

// depthQuota tracks how deep the current Fire call chain is. Unlike a flat
// step count it is released as each Fire returns, so long-running worlds
// never exhaust it.
type depthQuota struct {
	max     int
	current int
}

func (q *depthQuota) enter(t *Trigger) error {
	if q.current >= q.max {
		return &Error{
			Code:      CodeDispatchDepthExceeded,
			Message:   fmt.Sprintf("nested dispatch exceeded max depth (%d)", q.max),
			Namespace: t.group.namespace,
			Group:     t.group.name,
			Trigger:   t.name,
		}
	}
	q.current++
	return nil
}

func (q *depthQuota) leave() {
	if q.current > 0 {
		q.current--
	}
}
