package script

import (
	"github.com/Shopify/go-lua"

	"github.com/roach88/trigdb/internal/param"
	"github.com/roach88/trigdb/internal/trigger"
)

const handleTypeName = "trigdb.Handle"

func registerHandleType(l *lua.State) {
	lua.NewMetaTable(l, handleTypeName)
	l.Pop(1)
}

// PushValue pushes v onto the Lua stack.
func PushValue(l *lua.State, v param.Value) {
	switch val := v.(type) {
	case nil, param.Null:
		l.PushNil()
	case param.String:
		l.PushString(string(val))
	case param.Number:
		l.PushNumber(float64(val))
	case param.Bool:
		l.PushBoolean(bool(val))
	case param.Handle:
		PushHandle(l, val)
	default:
		l.PushNil()
	}
}

// PushHandle pushes h as a {type=, id=} table carrying the handle metatable.
func PushHandle(l *lua.State, h param.Handle) {
	l.CreateTable(0, 2)
	l.PushString(h.Type)
	l.SetField(-2, "type")
	l.PushString(h.ID)
	l.SetField(-2, "id")
	lua.SetMetaTableNamed(l, handleTypeName)
}

// PushSet pushes s as a table keyed by parameter name.
func PushSet(l *lua.State, s param.Set) {
	l.CreateTable(0, len(s))
	for _, k := range s.SortedKeys() {
		PushValue(l, s[k])
		l.SetField(-2, k)
	}
}

// ValueAt converts the value at index. Tables other than handles, functions,
// userdata and threads fail with a *param.MismatchError.
func ValueAt(l *lua.State, index int) (param.Value, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return param.Null{}, nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return param.String(s), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return param.Number(n), nil
	case lua.TypeBoolean:
		return param.Bool(l.ToBoolean(index)), nil
	case lua.TypeTable:
		if h, ok := handleAt(l, index); ok {
			return h, nil
		}
		return nil, &param.MismatchError{Got: "table"}
	default:
		return nil, &param.MismatchError{Got: lua.TypeNameOf(l, index)}
	}
}

func handleAt(l *lua.State, index int) (param.Handle, bool) {
	index = l.AbsIndex(index)
	if !l.MetaTable(index) {
		return param.Handle{}, false
	}
	lua.MetaTableNamed(l, handleTypeName)
	same := l.RawEqual(-1, -2)
	l.Pop(2)
	if !same {
		return param.Handle{}, false
	}
	l.Field(index, "type")
	typ, _ := l.ToString(-1)
	l.Field(index, "id")
	id, _ := l.ToString(-1)
	l.Pop(2)
	return param.Handle{Type: typ, ID: id}, true
}

// SetAt converts a table of string keys to a Set. Non-string keys and
// unconvertible values are mismatches.
func SetAt(l *lua.State, index int) (param.Set, error) {
	if l.TypeOf(index) != lua.TypeTable {
		return nil, &param.MismatchError{Got: lua.TypeNameOf(l, index), Want: "table"}
	}
	index = l.AbsIndex(index)
	out := param.Set{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) != lua.TypeString {
			l.Pop(2)
			return nil, &param.MismatchError{Got: "non-string key", Want: "table with string keys"}
		}
		key, _ := l.ToString(-2)
		v, err := ValueAt(l, -1)
		if err != nil {
			l.Pop(2)
			if me, ok := err.(*param.MismatchError); ok {
				me.Name = key
			}
			return nil, err
		}
		out[key] = v
		l.Pop(1)
	}
	return out, nil
}

// PushParameterFromLua converts the Lua value at index and pushes it onto
// the named trigger of g. A value with no parameter kind fails with
// PARAMETER_TYPE_MISMATCH and nothing is pushed.
func PushParameterFromLua(g *trigger.Group, triggerName, paramName string, l *lua.State, index int) error {
	t, err := g.Trigger(triggerName)
	if err != nil {
		return err
	}
	v, err := ValueAt(l, index)
	if err != nil {
		return trigger.MismatchError(t, paramName, err)
	}
	t.PushParameter(paramName, v)
	return nil
}
