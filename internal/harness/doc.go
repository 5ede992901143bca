// Package harness runs YAML scenarios against an isolated trigger database.
//
// Each scenario gets a fresh Database on a manual clock, recording
// environments that log every callback they receive, and predictable
// object keys, so the same scenario always produces the same trace.
//
// # Scenario Format
//
//	name: late_join
//	description: "A permanent trigger in a joinable group reaches late registrants"
//	manifest: manifests/world   # optional CUE manifest directory
//	start: 0                    # clock reading in milliseconds
//	steps:
//	  - op: create_namespace
//	    path: world
//	  - op: create_group
//	    path: world.Doors
//	  - op: set_joinable
//	    path: world.Doors
//	    value: true
//	  - op: add_trigger
//	    path: world.Doors.Open
//	  - op: set_permanent
//	    path: world.Doors.Open
//	    value: true
//	  - op: fire
//	    path: world.Doors.Open
//	  - op: register
//	    path: world.Doors.Open
//	    env: 1
//	    callback: onOpen
//	assertions:
//	  - type: trace_contains
//	    kind: delivered
//	    path: world.Doors.Open
//	    synthetic: true
//
// A register step may carry a then list. Those steps run inside the
// callback each time it is delivered, which is how scenarios express
// nested dispatch and unregistration during delivery. A then step that
// fails unexpectedly makes the callback fail.
//
// A step with an error field must fail with that code; any other step
// must succeed.
//
// # Assertion Types
//
//   - trace_contains: some event matches kind, path, env, callback, params
//     and synthetic (all optional except kind)
//   - trace_count: exactly count events match
//   - trace_order: "kind path" keys occur in the given order
//   - calls: the exact "env:callback" sequence the environments saw
//   - state: active, permanent or params of a trigger
//   - exists: whether a namespace, group or trigger path resolves
//   - namespaces, triggers: exact name lists
//   - registrations: exact env order of a trigger
//
// # Golden Files
//
// RunWithGolden writes the trace one event per line, for example:
//
//	0004 fired world.Doors.Open params={}
//	0005 delivered world.Doors.Open env=1 callback=onOpen params={}
package harness
