package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/object"
	"github.com/roach88/trigdb/internal/trigger"
)

// ScriptExt is the extension of object scripts.
const ScriptExt = ".lua"

// SetupFunc runs on a fresh object before its script is loaded. Use it to
// register host functions in the object's environment.
type SetupFunc func(*object.Object) error

// World holds the objects spawned from scripts, one per object type. The
// type is the script file name without extension.
//
// A World is not safe for concurrent use; the Runtime only touches it from
// the loop goroutine.
type World struct {
	db      *trigger.Database
	logger  *zap.Logger
	setup   SetupFunc
	objOpts []object.Option

	objects map[string]*object.Object
	scripts map[string]string
	spawned int
}

// WorldOption configures a World.
type WorldOption func(*World)

// WithSetup installs a hook run on every spawned object.
func WithSetup(fn SetupFunc) WorldOption {
	return func(w *World) {
		w.setup = fn
	}
}

// WithObjectOptions passes options to object.New.
func WithObjectOptions(opts ...object.Option) WorldOption {
	return func(w *World) {
		w.objOpts = append(w.objOpts, opts...)
	}
}

// WithWorldLogger sets the world logger.
func WithWorldLogger(l *zap.Logger) WorldOption {
	return func(w *World) {
		w.logger = l
	}
}

// NewWorld creates an empty world over db.
func NewWorld(db *trigger.Database, opts ...WorldOption) *World {
	w := &World{
		db:      db,
		logger:  zap.NewNop(),
		objects: make(map[string]*object.Object),
		scripts: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DB returns the database the world's objects live in.
func (w *World) DB() *trigger.Database { return w.db }

// TypeOf returns the object type a script path spawns.
func TypeOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Spawn creates an object from a script and initializes it.
//
// A script that fails to load leaves no object behind. An Init callback
// failure is returned together with the object, which stays spawned.
func (w *World) Spawn(path string) (*object.Object, error) {
	w.prune()
	typ := TypeOf(path)
	if _, ok := w.objects[typ]; ok {
		return nil, fmt.Errorf("spawn %s: object type %q already spawned", path, typ)
	}

	w.spawned++
	id := fmt.Sprintf("%s-%d", typ, w.spawned)
	opts := append([]object.Option{object.WithLogger(w.logger)}, w.objOpts...)
	o, err := object.New(w.db, typ, id, opts...)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", path, err)
	}
	if w.setup != nil {
		if err := w.setup(o); err != nil {
			_ = o.Delete()
			return nil, fmt.Errorf("spawn %s: setup: %w", path, err)
		}
	}
	if err := o.LoadFile(path); err != nil {
		_ = o.Delete()
		return nil, fmt.Errorf("spawn %s: %w", path, err)
	}

	w.objects[typ] = o
	w.scripts[typ] = path
	w.logger.Info("object spawned",
		zap.String("type", typ),
		zap.String("id", id),
		zap.String("script", path),
	)

	if err := o.Initialize(); err != nil {
		return o, fmt.Errorf("spawn %s: initialize: %w", path, err)
	}
	return o, nil
}

// SpawnDir spawns every script in dir in file name order. Failures do not
// stop the remaining scripts; they are joined into the returned error.
func (w *World) SpawnDir(dir string) ([]*object.Object, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts: %w", err)
	}
	var (
		out  []*object.Object
		errs []error
	)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ScriptExt {
			continue
		}
		o, err := w.Spawn(filepath.Join(dir, e.Name()))
		if o != nil {
			out = append(out, o)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Despawn deletes the object of the given type. Unknown types are a no-op.
func (w *World) Despawn(typ string) error {
	o, ok := w.objects[typ]
	if !ok {
		return nil
	}
	delete(w.objects, typ)
	delete(w.scripts, typ)
	w.logger.Info("object despawned", zap.String("type", typ), zap.String("id", o.ID()))
	return o.Delete()
}

// Respawn deletes the object spawned from path, if any, and spawns it
// again from the current file contents.
func (w *World) Respawn(path string) (*object.Object, error) {
	despawnErr := w.Despawn(TypeOf(path))
	o, err := w.Spawn(path)
	return o, errors.Join(despawnErr, err)
}

// Object returns the live object of a type.
func (w *World) Object(typ string) (*object.Object, bool) {
	w.prune()
	o, ok := w.objects[typ]
	return o, ok
}

// Types returns the spawned object types, sorted.
func (w *World) Types() []string {
	w.prune()
	out := make([]string, 0, len(w.objects))
	for typ := range w.objects {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}

// prune forgets objects that deleted themselves, for example through
// This.delete() in a callback.
func (w *World) prune() {
	for typ, o := range w.objects {
		if o.Deleted() {
			delete(w.objects, typ)
			delete(w.scripts, typ)
			w.logger.Info("object deleted itself", zap.String("type", typ), zap.String("id", o.ID()))
		}
	}
}

// Close deletes every object, in reverse type order.
func (w *World) Close() error {
	types := w.Types()
	var errs []error
	for i := len(types) - 1; i >= 0; i-- {
		if err := w.Despawn(types[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
