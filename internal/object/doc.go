// Package object binds scripted entities to the trigger database.
//
// An Object lives in its own namespace, keyed by a random private key, with
// a Local group holding Init and Delete. Its Lua environment is registered
// on every trigger it uses with the object's active flag as liveness, so
// nothing is delivered before Initialize or after Delete.
package object
