package manifest

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

//go:embed schema.cue
var schemaSrc string

// Manifest is a compiled trigger layout. Slices keep declaration order.
type Manifest struct {
	Namespaces []Namespace

	// Files lists the .cue files the manifest was loaded from.
	Files []string
}

// Namespace declares one namespace and its groups.
type Namespace struct {
	Name   string
	Groups []Group
}

// Group declares one trigger group.
type Group struct {
	Name     string
	Joinable bool
	Triggers []Trigger
}

// Trigger declares one trigger.
type Trigger struct {
	Name      string
	Permanent bool

	// Schedule is a cron expression, validated at compile time.
	Schedule string

	// Params are pushed when the manifest is applied.
	Params param.Set
}

// TriggerCount returns the number of declared triggers.
func (m *Manifest) TriggerCount() int {
	n := 0
	for _, ns := range m.Namespaces {
		for _, g := range ns.Groups {
			n += len(g.Triggers)
		}
	}
	return n
}

// Load compiles every .cue file in dir into one Manifest.
func Load(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("manifest directory: not a directory: %s", dir)
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError("load", inst.Err)
	}
	v := ctx.BuildInstance(inst)

	m, err := Compile(v)
	if err != nil {
		return nil, err
	}
	m.Files = files
	return m, nil
}

// CompileString compiles manifest source. filename is used in error
// positions.
func CompileString(src, filename string) (*Manifest, error) {
	ctx := cuecontext.New()
	return Compile(ctx.CompileString(src, cue.Filename(filename)))
}

// Compile turns a CUE value into a Manifest.
//
// The value is unified with the manifest schema first, so type errors and
// unknown fields carry the position of the offending source.
func Compile(v cue.Value) (*Manifest, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("manifest", err)
	}
	if err := checkFields(v, "", "namespace"); err != nil {
		return nil, err
	}

	ctx := v.Context()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Manifest"))
	checked := v.Unify(schema)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError("manifest", err)
	}

	m := &Manifest{}
	nsVal := v.LookupPath(cue.ParsePath("namespace"))
	if !nsVal.Exists() {
		return m, nil
	}
	iter, err := nsVal.Fields()
	if err != nil {
		return nil, formatCUEError("namespace", err)
	}
	for iter.Next() {
		ns, err := compileNamespace(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		m.Namespaces = append(m.Namespaces, ns)
	}
	return m, nil
}

func compileNamespace(name string, v cue.Value) (Namespace, error) {
	ns := Namespace{Name: name}
	if err := checkName(name, name, v); err != nil {
		return ns, err
	}
	if err := checkFields(v, name, "group"); err != nil {
		return ns, err
	}
	groups := v.LookupPath(cue.ParsePath("group"))
	if !groups.Exists() {
		return ns, nil
	}
	iter, err := groups.Fields()
	if err != nil {
		return ns, formatCUEError(name, err)
	}
	for iter.Next() {
		g, err := compileGroup(name, iter.Label(), iter.Value())
		if err != nil {
			return ns, err
		}
		ns.Groups = append(ns.Groups, g)
	}
	return ns, nil
}

func compileGroup(ns, name string, v cue.Value) (Group, error) {
	field := ns + "." + name
	g := Group{Name: name}
	if err := checkName(field, name, v); err != nil {
		return g, err
	}
	if err := checkFields(v, field, "joinable", "trigger"); err != nil {
		return g, err
	}

	if jv := v.LookupPath(cue.ParsePath("joinable")); jv.Exists() {
		b, err := jv.Bool()
		if err != nil {
			return g, formatCUEError(field+".joinable", err)
		}
		g.Joinable = b
	}

	triggers := v.LookupPath(cue.ParsePath("trigger"))
	if !triggers.Exists() {
		return g, nil
	}
	iter, err := triggers.Fields()
	if err != nil {
		return g, formatCUEError(field, err)
	}
	for iter.Next() {
		t, err := compileTrigger(field, iter.Label(), iter.Value())
		if err != nil {
			return g, err
		}
		g.Triggers = append(g.Triggers, t)
	}
	return g, nil
}

func compileTrigger(group, name string, v cue.Value) (Trigger, error) {
	field := group + "." + name
	t := Trigger{Name: name}
	if err := checkName(field, name, v); err != nil {
		return t, err
	}
	if err := checkFields(v, field, "permanent", "schedule", "params"); err != nil {
		return t, err
	}

	if pv := v.LookupPath(cue.ParsePath("permanent")); pv.Exists() {
		b, err := pv.Bool()
		if err != nil {
			return t, formatCUEError(field+".permanent", err)
		}
		t.Permanent = b
	}

	if sv := v.LookupPath(cue.ParsePath("schedule")); sv.Exists() {
		spec, err := sv.String()
		if err != nil {
			return t, formatCUEError(field+".schedule", err)
		}
		if _, err := trigger.ParseSchedule(spec); err != nil {
			return t, &CompileError{
				Field:   field + ".schedule",
				Message: fmt.Sprintf("%s: %v", trigger.CodeInvalidSchedule, err),
				Pos:     sv.Pos(),
			}
		}
		t.Schedule = spec
	}

	if pv := v.LookupPath(cue.ParsePath("params")); pv.Exists() {
		params, err := compileParams(field+".params", pv)
		if err != nil {
			return t, err
		}
		t.Params = params
	}
	return t, nil
}

func compileParams(field string, v cue.Value) (param.Set, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	out := param.Set{}
	for iter.Next() {
		name := iter.Label()
		pv, err := compileValue(field+"."+name, iter.Value())
		if err != nil {
			return nil, err
		}
		out[name] = pv
	}
	return out, nil
}

func compileValue(field string, v cue.Value) (param.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return param.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return param.Bool(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return param.String(s), nil
	case cue.IntKind:
		if n, err := v.Int64(); err == nil {
			return param.Number(n), nil
		}
		fallthrough
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil || math.IsInf(f, 0) {
			return nil, &CompileError{Field: field, Message: "number out of range", Pos: v.Pos()}
		}
		return param.Number(f), nil
	case cue.StructKind:
		var h struct {
			Handle string `json:"handle"`
			ID     string `json:"id"`
		}
		if err := v.Decode(&h); err != nil {
			return nil, formatCUEError(field, err)
		}
		return param.Handle{Type: h.Handle, ID: h.ID}, nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s: unsupported kind %s", trigger.CodeParameterTypeMismatch, v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// checkName rejects labels that cannot appear in a dotted trigger path.
func checkName(field, name string, v cue.Value) error {
	if name == "" || strings.ContainsAny(name, ". ") {
		return &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid name %q: must be non-empty without dots or spaces", name),
			Pos:     v.Pos(),
		}
	}
	return nil
}

// checkFields rejects regular fields outside allowed.
func checkFields(v cue.Value, field string, allowed ...string) error {
	if v.Kind() != cue.StructKind {
		return &CompileError{Field: orRoot(field), Message: "must be a struct", Pos: v.Pos()}
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(orRoot(field), err)
	}
	for iter.Next() {
		label := iter.Label()
		ok := false
		for _, a := range allowed {
			if label == a {
				ok = true
				break
			}
		}
		if !ok {
			return &CompileError{
				Field:   orRoot(field),
				Message: fmt.Sprintf("unknown field %q", label),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

func orRoot(field string) string {
	if field == "" {
		return "manifest"
	}
	return field
}

func findCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
