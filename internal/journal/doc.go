// Package journal persists database activity to SQLite.
//
// A Journal is a trigger.Recorder: attach it with trigger.WithRecorder and
// every namespace change, registration, fire and delivery becomes one row
// in the events table. Rows are keyed by the database sequence number, so
// reading them back in seq order replays the activity exactly as it
// happened. The trace command reads the journal with Read.
package journal
