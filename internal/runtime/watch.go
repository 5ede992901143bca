package runtime

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of write events an editor produces
// on save.
const DefaultDebounce = 100 * time.Millisecond

// scriptWatcher turns script file changes into respawn commands.
type scriptWatcher struct {
	fs       *fsnotify.Watcher
	rt       *Runtime
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// Watch respawns objects whose script in dir is written or created, and
// despawns objects whose script is removed. Must be called before Run.
func (r *Runtime) Watch(dir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &scriptWatcher{
		fs:       fsw,
		rt:       r,
		logger:   r.logger.Named("watch"),
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	r.watcher = w
	w.wg.Add(1)
	go w.loop()
	r.logger.Info("watching scripts", zap.String("dir", abs))
	return nil
}

func (w *scriptWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ScriptExt {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				w.schedule(ev.Name, w.respawn)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.schedule(ev.Name, w.despawn)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// schedule runs fn for path once no further event arrived for the
// debounce period. A newer event replaces the pending one.
func (w *scriptWatcher) schedule(path string, fn func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		fn(path)
	})
}

func (w *scriptWatcher) respawn(path string) {
	w.logger.Debug("script changed", zap.String("path", path))
	w.rt.Enqueue(func(world *World) error {
		_, err := world.Respawn(path)
		return err
	})
}

func (w *scriptWatcher) despawn(path string) {
	w.logger.Debug("script removed", zap.String("path", path))
	typ := TypeOf(path)
	w.rt.Enqueue(func(world *World) error {
		return world.Despawn(typ)
	})
}

// Close stops the watcher and drops pending events.
func (w *scriptWatcher) Close() error {
	close(w.done)
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	err := w.fs.Close()
	w.wg.Wait()
	return err
}
