package runtime

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/trigger"
)

// DefaultTickInterval is one frame at roughly 60 Hz.
const DefaultTickInterval = 16 * time.Millisecond

// ErrStopped is returned by Run after Stop or once the tick limit is
// reached.
var ErrStopped = errors.New("runtime stopped")

// Runtime is the single-writer loop over a World.
//
// Thread-safety model:
//   - Enqueue, Stop: safe from any goroutine
//   - Run, Tick: must be called from exactly one goroutine
type Runtime struct {
	world    *World
	db       *trigger.Database
	queue    *commandQueue
	logger   *zap.Logger
	interval time.Duration
	maxTicks int
	ticks    int
	watcher  *scriptWatcher
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithTickInterval sets the tick period. Default: DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithMaxTicks stops Run after n ticks. 0 means run until cancelled.
func WithMaxTicks(n int) Option {
	return func(r *Runtime) {
		r.maxTicks = n
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// New creates a Runtime over world.
func New(world *World, opts ...Option) *Runtime {
	r := &Runtime{
		world:    world,
		db:       world.DB(),
		queue:    newCommandQueue(),
		logger:   zap.NewNop(),
		interval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// World returns the world. Only touch it from the loop goroutine or
// through Enqueue.
func (r *Runtime) World() *World { return r.world }

// Ticks returns the number of completed ticks.
func (r *Runtime) Ticks() int { return r.ticks }

// Enqueue submits a command for the loop goroutine. Returns false once the
// runtime has stopped.
func (r *Runtime) Enqueue(cmd Command) bool {
	return r.queue.Enqueue(cmd)
}

// Stop makes Run return after finishing queued commands.
func (r *Runtime) Stop() {
	r.queue.Close()
}

// Tick drains the command queue, then advances the database to the
// current clock reading. Command and update failures are logged and
// returned joined; they do not stop the loop.
func (r *Runtime) Tick() error {
	drainErr := r.drain()
	now := r.db.Clock().Now()
	updateErr := r.db.Update(now)
	if updateErr != nil {
		r.logger.Error("update failed", zap.Int64("now", int64(now)), zap.Error(updateErr))
	}
	r.ticks++
	return errors.Join(drainErr, updateErr)
}

// Run ticks until ctx is cancelled, Stop is called or the tick limit is
// reached. It returns ctx.Err() on cancellation and ErrStopped otherwise.
// The world is closed and the script watcher stopped before returning.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("runtime starting",
		zap.Duration("interval", r.interval),
		zap.Int("max_ticks", r.maxTicks),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runtime stopping: context cancelled")
			r.queue.Close()
			return ctx.Err()

		case <-r.queue.Wait():
			_ = r.drain()
			if r.queue.Closed() {
				r.logger.Info("runtime stopping: stopped")
				return ErrStopped
			}

		case <-ticker.C:
			_ = r.Tick()
			if r.maxTicks > 0 && r.ticks >= r.maxTicks {
				r.logger.Info("runtime stopping: tick limit", zap.Int("ticks", r.ticks))
				r.queue.Close()
				return ErrStopped
			}
		}
	}
}

func (r *Runtime) drain() error {
	var errs []error
	for {
		cmd, ok := r.queue.TryDequeue()
		if !ok {
			return errors.Join(errs...)
		}
		if err := cmd(r.world); err != nil {
			r.logger.Error("command failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
}

func (r *Runtime) shutdown() {
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			r.logger.Warn("close script watcher", zap.Error(err))
		}
		r.watcher = nil
	}
	_ = r.drain()
	if err := r.world.Close(); err != nil {
		r.logger.Warn("close world", zap.Error(err))
	}
}
