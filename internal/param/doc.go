// Package param defines the typed values that travel with a trigger
// activation.
//
// A trigger carries a Set of named parameters. Values are restricted to the
// kinds every scripting environment can represent: String, Number, Bool,
// Handle (an opaque reference to a scripted entity) and Null. Conversion
// from foreign values (Go, YAML, Lua) fails loudly with ErrTypeMismatch
// instead of coercing.
//
// Sets have a canonical JSON form (RFC 8785 key order, NFC strings) used by
// the journal and the scenario harness to compare deliveries byte-for-byte.
package param
