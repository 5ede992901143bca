package param

import (
	"errors"
	"fmt"
	"math"
)

// ErrTypeMismatch is the sentinel wrapped by every conversion failure.
// Test with errors.Is.
var ErrTypeMismatch = errors.New("parameter type mismatch")

// MismatchError reports a foreign value that has no parameter kind.
type MismatchError struct {
	// Name is the parameter being converted, if known.
	Name string

	// Got describes the offending foreign type.
	Got string

	// Want lists the expected kind when the caller declared one.
	Want string
}

func (e *MismatchError) Error() string {
	var msg string
	if e.Want != "" {
		msg = fmt.Sprintf("expected %s, got %s", e.Want, e.Got)
	} else {
		msg = fmt.Sprintf("unsupported type %s", e.Got)
	}
	if e.Name != "" {
		return fmt.Sprintf("parameter %q: %s", e.Name, msg)
	}
	return msg
}

// Unwrap lets errors.Is match ErrTypeMismatch.
func (e *MismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// FromAny converts a Go value to a Value.
//
// Accepted: nil, Value, string, bool, all integer and float types, and
// map[string]any{"handle": type, "id": key} as written in YAML scenarios.
// Anything else, and NaN or infinite floats, is a *MismatchError.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Number(val), nil
	case int8:
		return Number(val), nil
	case int16:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint:
		return Number(val), nil
	case uint8:
		return Number(val), nil
	case uint16:
		return Number(val), nil
	case uint32:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case float32:
		return numberFromFloat(float64(val))
	case float64:
		return numberFromFloat(val)
	case map[string]any:
		return handleFromMap(val)
	default:
		return nil, &MismatchError{Got: fmt.Sprintf("%T", v)}
	}
}

func numberFromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &MismatchError{Got: fmt.Sprintf("non-finite number %v", f)}
	}
	return Number(f), nil
}

func handleFromMap(m map[string]any) (Value, error) {
	typ, ok1 := m["handle"].(string)
	id, ok2 := m["id"].(string)
	if !ok1 || !ok2 || len(m) != 2 {
		return nil, &MismatchError{Got: "map", Want: "handle {handle, id}"}
	}
	return Handle{Type: typ, ID: id}, nil
}

// SetFromMap converts every entry of m, naming the offending key on failure.
func SetFromMap(m map[string]any) (Set, error) {
	out := make(Set, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			var me *MismatchError
			if errors.As(err, &me) && me.Name == "" {
				me.Name = k
			}
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// ToAny converts a Value back to a plain Go value. Handles become
// map[string]any{"handle": type, "id": key}, mirroring FromAny.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Number:
		if i, ok := val.Int(); ok {
			return i
		}
		return float64(val)
	case Bool:
		return bool(val)
	case Handle:
		return map[string]any{"handle": val.Type, "id": val.ID}
	default:
		return nil
	}
}

// SetToMap converts a Set to plain Go values.
func SetToMap(s Set) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = ToAny(v)
	}
	return out
}
