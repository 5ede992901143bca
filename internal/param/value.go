package param

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindHandle
)

// String returns the lowercase kind name used in error messages and YAML.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindHandle:
		return "handle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a sealed interface over the parameter kinds.
// Only Null, String, Number, Bool and Handle implement it.
type Value interface {
	paramValue()
	Kind() Kind
}

// Null is the absent value. Scripts see it as nil.
type Null struct{}

func (Null) paramValue() {}
func (Null) Kind() Kind  { return KindNull }

// String is a text parameter.
type String string

func (String) paramValue() {}
func (String) Kind() Kind  { return KindString }

// Number is a numeric parameter. Scripting environments only know doubles,
// so there is no separate integer kind.
type Number float64

func (Number) paramValue() {}
func (Number) Kind() Kind  { return KindNumber }

// Int reports the number as an int64 when it is integral.
func (n Number) Int() (int64, bool) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bool is a boolean parameter.
type Bool bool

func (Bool) paramValue() {}
func (Bool) Kind() Kind  { return KindBool }

// Handle is an opaque reference to an entity owned by the scripting side,
// usually a game object. Type names the entity class, ID its private key.
type Handle struct {
	Type string
	ID   string
}

func (Handle) paramValue() {}
func (Handle) Kind() Kind  { return KindHandle }

// String renders the handle as "type#id".
func (h Handle) String() string {
	return h.Type + "#" + h.ID
}

// Format renders v for logs and trace output.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "nil"
	case String:
		return strconv.Quote(string(val))
	case Number:
		return formatNumber(float64(val))
	case Bool:
		return strconv.FormatBool(bool(val))
	case Handle:
		return "&" + val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Equal reports whether a and b hold the same kind and value.
// A nil Value equals Null.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	return a == b
}
