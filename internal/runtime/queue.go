package runtime

import "sync"

// Command runs on the loop goroutine with exclusive access to the world.
type Command func(*World) error

// commandQueue is a thread-safe FIFO of commands.
//
// The signal channel wakes the Run loop between ticks so commands do not
// wait for the next tick to start.
type commandQueue struct {
	mu     sync.Mutex
	cmds   []Command
	closed bool
	signal chan struct{} // buffered, size 1
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		cmds:   make([]Command, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds cmd to the back of the queue. Returns false once the queue
// is closed.
func (q *commandQueue) Enqueue(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.cmds = append(q.cmds, cmd)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front command without blocking.
func (q *commandQueue) TryDequeue() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.cmds) == 0 {
		return nil, false
	}
	cmd := q.cmds[0]
	q.cmds[0] = nil
	if len(q.cmds) == 1 {
		q.cmds = q.cmds[:0]
	} else {
		q.cmds = q.cmds[1:]
	}
	return cmd, true
}

// Wait returns a channel that signals when commands may be available. It
// is closed by Close.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued commands.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

// Closed reports whether Close was called.
func (q *commandQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further commands and wakes waiters. Queued commands can
// still be dequeued.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
