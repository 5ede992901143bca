// Package trigger implements the namespaced trigger database.
//
// A Database maps namespace -> group -> Trigger. Scripted entities register
// an Environment on a Trigger together with the callback name to invoke and
// a Liveness flag. Firing a Trigger delivers its parameter Set to every live
// registration synchronously, in registration order.
//
// # Ownership
//
// The Database owns every Group and Trigger. Callers hold:
//   - *Group pointers obtained from CreateTriggerGroup, which must be checked
//     with Removed() after a namespace teardown,
//   - GroupHandle, a counted handle that keeps a group from being collected,
//   - Ref, a weak reference to a single Trigger that reports "gone" once the
//     trigger, its group or its namespace is removed.
//
// # Threading
//
// All mutation happens on one logical thread (the runtime tick loop). There
// is no internal locking. Delays and schedules only advance when
// Database.Update is called; there is no timer goroutine.
//
// # Delivery errors
//
// A failing callback never stops delivery to the remaining registrations.
// Each failure is logged, recorded and returned from Fire as a
// CALLBACK_FAILED *Error joined with the others via errors.Join.
package trigger
