// Package script provides trigger environments backed by Lua
// (github.com/Shopify/go-lua).
//
// Each Environment owns one *lua.State. A trigger delivery calls the global
// function named by the registration's callback, which may be a dotted
// path into nested tables ("Local.Init"), with the parameter Set as a
// single table argument.
//
// Values crossing the boundary are converted strictly: strings, numbers,
// booleans and nil map to the matching parameter kinds, handles travel as
// tables tagged with a private metatable, and anything else is a
// PARAMETER_TYPE_MISMATCH.
package script
