package param

import (
	"slices"
	"strings"
	"unicode/utf16"
)

// Set maps parameter names to values. A nil Set is empty.
type Set map[string]Value

// Clone returns a shallow copy. Values are immutable so this is a full copy.
// Clone of an empty set returns an empty, non-nil Set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the named value, or Null when absent.
func (s Set) Get(name string) (Value, bool) {
	v, ok := s[name]
	if !ok {
		return Null{}, false
	}
	return v, true
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
func (s Set) SortedKeys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Equal reports whether both sets hold the same names and values.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// String renders the set as {a=1, b="x"} in canonical key order.
func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range s.SortedKeys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(Format(s[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// compareUTF16 orders strings by UTF-16 code units. Go's native string
// comparison is by UTF-8 bytes, which differs for characters outside the BMP.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
