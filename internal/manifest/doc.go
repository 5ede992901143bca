// Package manifest declares a trigger layout in CUE and applies it to a
// trigger.Database.
//
// A manifest names namespaces, their groups and the triggers inside each
// group:
//
//	namespace: world: group: Doors: {
//		joinable: true
//		trigger: {
//			Open: permanent: true
//			Tick: schedule: "@every 1s"
//			Move: params: {speed: 42, who: {handle: "Player", id: "p1"}}
//		}
//	}
//
// Load reads every .cue file of a directory, Compile turns the CUE value
// into a Manifest, and Apply creates what is missing in a database.
// Applying the same manifest twice leaves the database unchanged.
package manifest
