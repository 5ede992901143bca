package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one executable trigger-database script with assertions on
// the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is an optional CUE manifest directory applied before the
	// first step. Relative paths resolve against the scenario file.
	Manifest string `yaml:"manifest,omitempty"`

	// Start is the initial clock reading in milliseconds.
	Start int64 `yaml:"start,omitempty"`

	// MaxDepth overrides the dispatch depth limit.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// Steps run in order against a fresh database.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// dir is the directory of the scenario file.
	dir string
}

// Step is one operation. Which fields apply depends on Op.
//
// Path is dotted: "ns" for namespace ops, "ns.group" for group ops and
// "ns.group.trigger" for trigger ops. A leading "@name" segment stands for
// the private namespace of the spawned object called name.
type Step struct {
	Op   string `yaml:"op"`
	Path string `yaml:"path,omitempty"`

	// Env identifies a recording environment, or the environment of a
	// spawned object.
	Env      uint64 `yaml:"env,omitempty"`
	Callback string `yaml:"callback,omitempty"`

	Param string `yaml:"param,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// After is a Go duration for delay and advance.
	After string `yaml:"after,omitempty"`

	// Spec is a cron expression for schedule.
	Spec string `yaml:"spec,omitempty"`

	// Handle names a GroupHandle for acquire and release.
	Handle string `yaml:"handle,omitempty"`

	// Object, Script and Alias drive the object ops.
	Object string `yaml:"object,omitempty"`
	Script string `yaml:"script,omitempty"`
	Alias  string `yaml:"alias,omitempty"`

	// Error is the expected error code. A step without one must succeed.
	Error string `yaml:"error,omitempty"`

	// Then runs inside the callback each time Env receives Callback.
	// Only valid on register.
	Then []Step `yaml:"then,omitempty"`
}

// Step ops.
const (
	OpCreateNamespace = "create_namespace"
	OpRemoveNamespace = "remove_namespace"
	OpCreateGroup     = "create_group"
	OpRemoveGroup     = "remove_group"
	OpSetJoinable     = "set_joinable"
	OpAddTrigger      = "add_trigger"
	OpRemoveTrigger   = "remove_trigger"
	OpSetPermanent    = "set_permanent"
	OpRegister        = "register"
	OpUnregister      = "unregister"
	OpPush            = "push"
	OpFire            = "fire"
	OpDelay           = "delay"
	OpCancel          = "cancel"
	OpSchedule        = "schedule"
	OpAdvance         = "advance"
	OpUpdate          = "update"
	OpKillEnv         = "kill_env"
	OpReviveEnv       = "revive_env"
	OpFailEnv         = "fail_env"
	OpAcquire         = "acquire"
	OpRelease         = "release"
	OpSpawn           = "spawn"
	OpInitialize      = "initialize"
	OpSendInitArg     = "send_init_arg"
	OpUseTrigger      = "use_trigger"
	OpUnuseTrigger    = "unuse_trigger"
	OpDeleteObject    = "delete_object"
	OpShutdown        = "shutdown"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind, Path, Env, Callback, Params and Synthetic select trace events.
	// Unset fields match anything; Params is a subset match.
	Kind      string         `yaml:"kind,omitempty"`
	Path      string         `yaml:"path,omitempty"`
	Env       uint64         `yaml:"env,omitempty"`
	Callback  string         `yaml:"callback,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`
	Synthetic *bool          `yaml:"synthetic,omitempty"`

	// Count is the exact number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events lists "kind path" entries that must appear in this order
	// (trace_order). Other events may appear in between.
	Events []string `yaml:"events,omitempty"`

	// Calls is the exact "env:callback" sequence seen by the recording
	// environments (calls).
	Calls []string `yaml:"calls,omitempty"`

	// Active, Permanent and Params describe a trigger (state). Params is an
	// exact match there.
	Active    *bool `yaml:"active,omitempty"`
	Permanent *bool `yaml:"permanent,omitempty"`

	// Exists checks whether Path resolves (exists).
	Exists *bool `yaml:"exists,omitempty"`

	// Names is the exact namespace list (namespaces) or trigger list of
	// the group at Path (triggers).
	Names []string `yaml:"names,omitempty"`

	// Envs is the exact registration order of the trigger at Path
	// (registrations).
	Envs []uint64 `yaml:"envs,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertCalls         = "calls"
	AssertState         = "state"
	AssertExists        = "exists"
	AssertNamespaces    = "namespaces"
	AssertTriggers      = "triggers"
	AssertRegistrations = "registrations"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	if s.Manifest != "" && !filepath.IsAbs(s.Manifest) {
		s.Manifest = filepath.Join(s.dir, s.Manifest)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Relative manifest paths stay relative
// to the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative")
	}
	for i := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), &s.Steps[i], false); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// pathDepth is the number of dotted segments each op expects in Path.
var pathDepth = map[string]int{
	OpCreateNamespace: 1,
	OpRemoveNamespace: 1,
	OpCreateGroup:     2,
	OpRemoveGroup:     2,
	OpSetJoinable:     2,
	OpAcquire:         2,
	OpAddTrigger:      3,
	OpRemoveTrigger:   3,
	OpSetPermanent:    3,
	OpRegister:        3,
	OpUnregister:      3,
	OpPush:            3,
	OpFire:            3,
	OpDelay:           3,
	OpCancel:          3,
	OpSchedule:        3,
	OpUseTrigger:      3,
	OpUnuseTrigger:    3,
}

func validateStep(where string, st *Step, nested bool) error {
	if st.Op == "" {
		return fmt.Errorf("%s: op is required", where)
	}
	where = fmt.Sprintf("%s (%s)", where, st.Op)

	if depth, ok := pathDepth[st.Op]; ok {
		if st.Path == "" {
			return fmt.Errorf("%s: path is required", where)
		}
		if n := len(strings.Split(st.Path, ".")); n != depth {
			return fmt.Errorf("%s: path %q must have %d segments, has %d", where, st.Path, depth, n)
		}
	}

	switch st.Op {
	case OpCreateNamespace, OpRemoveNamespace, OpCreateGroup, OpRemoveGroup,
		OpAddTrigger, OpRemoveTrigger, OpFire, OpCancel, OpUpdate, OpShutdown:
	case OpSetJoinable, OpSetPermanent:
		if _, ok := st.Value.(bool); !ok {
			return fmt.Errorf("%s: value must be a bool", where)
		}
	case OpRegister:
		if st.Env == 0 {
			return fmt.Errorf("%s: env is required", where)
		}
		if st.Callback == "" {
			return fmt.Errorf("%s: callback is required", where)
		}
		for i := range st.Then {
			if err := validateStep(fmt.Sprintf("%s.then[%d]", where, i), &st.Then[i], true); err != nil {
				return err
			}
		}
	case OpUnregister, OpKillEnv, OpReviveEnv:
		if st.Env == 0 {
			return fmt.Errorf("%s: env is required", where)
		}
	case OpFailEnv:
		if st.Env == 0 || st.Callback == "" {
			return fmt.Errorf("%s: env and callback are required", where)
		}
	case OpPush:
		if st.Param == "" {
			return fmt.Errorf("%s: param is required", where)
		}
	case OpDelay, OpAdvance:
		if st.After == "" {
			return fmt.Errorf("%s: after is required", where)
		}
		if _, err := time.ParseDuration(st.After); err != nil {
			return fmt.Errorf("%s: after: %w", where, err)
		}
	case OpSchedule:
		if st.Spec == "" {
			return fmt.Errorf("%s: spec is required", where)
		}
	case OpAcquire, OpRelease:
		if st.Handle == "" {
			return fmt.Errorf("%s: handle is required", where)
		}
	case OpSpawn:
		if st.Object == "" || st.Env == 0 {
			return fmt.Errorf("%s: object and env are required", where)
		}
	case OpInitialize, OpDeleteObject, OpUseTrigger, OpUnuseTrigger:
		if st.Object == "" {
			return fmt.Errorf("%s: object is required", where)
		}
	case OpSendInitArg:
		if st.Object == "" || st.Param == "" {
			return fmt.Errorf("%s: object and param are required", where)
		}
	default:
		return fmt.Errorf("%s: unknown op", where)
	}

	if len(st.Then) > 0 && st.Op != OpRegister {
		return fmt.Errorf("%s: then is only valid on register", where)
	}
	if nested && st.Op == OpRegister && len(st.Then) > 0 {
		return fmt.Errorf("%s: nested then is not supported", where)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertCalls:
		if a.Calls == nil {
			return fmt.Errorf("assertions[%d]: calls list is required (use [] for none)", index)
		}
	case AssertState:
		if len(strings.Split(a.Path, ".")) != 3 {
			return fmt.Errorf("assertions[%d]: state needs a trigger path", index)
		}
		if a.Active == nil && a.Permanent == nil && a.Params == nil {
			return fmt.Errorf("assertions[%d]: state needs active, permanent or params", index)
		}
	case AssertExists:
		if a.Path == "" || a.Exists == nil {
			return fmt.Errorf("assertions[%d]: exists needs path and exists", index)
		}
	case AssertNamespaces:
		if a.Names == nil {
			return fmt.Errorf("assertions[%d]: names list is required (use [] for none)", index)
		}
	case AssertTriggers:
		if len(strings.Split(a.Path, ".")) != 2 || a.Names == nil {
			return fmt.Errorf("assertions[%d]: triggers needs a group path and names", index)
		}
	case AssertRegistrations:
		if len(strings.Split(a.Path, ".")) != 3 || a.Envs == nil {
			return fmt.Errorf("assertions[%d]: registrations needs a trigger path and envs", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
