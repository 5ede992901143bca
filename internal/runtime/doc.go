// Package runtime drives a trigger database from a single goroutine.
//
// A Runtime owns a World of scripted objects and a Database. Run ticks at a
// fixed interval; each tick drains queued commands and then advances the
// database clock with Database.Update, which fires due delays and
// schedules. Everything that touches the world or the database happens on
// the Run goroutine. Other goroutines, including the script watcher, submit
// work with Enqueue.
package runtime
