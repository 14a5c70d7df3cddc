package script

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

const maxConvertDepth = 32

// toLua converts a Go value into a Lua value. Structs go through JSON so
// their json tags become table keys.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		tbl := L.CreateTable(len(val), 0)
		for _, s := range val {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for _, item := range val {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(val))
		for k, item := range val {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return lua.LString(fmt.Sprint(val))
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return lua.LString(string(data))
		}
		return toLua(L, generic)
	}
}

// fromLua converts a Lua value into plain Go values. Tables with only
// keys 1..n become []any, other tables map[string]any.
func fromLua(v lua.LValue, depth int) any {
	if depth > maxConvertDepth {
		return nil
	}
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && countKeys(val) == n {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(val.RawGetInt(i), depth+1))
			}
			return out
		}
		out := map[string]any{}
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLua(item, depth+1)
		})
		return out
	default:
		return val.String()
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}

func stringList(t *lua.LTable) ([]string, error) {
	n := t.MaxN()
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		s, ok := t.RawGetInt(i).(lua.LString)
		if !ok {
			return nil, fmt.Errorf("argument %d is not a string", i)
		}
		out = append(out, string(s))
	}
	if countKeys(t) != n {
		keys := []string{}
		t.ForEach(func(k, _ lua.LValue) {
			if _, isNum := k.(lua.LNumber); !isNum {
				keys = append(keys, k.String())
			}
		})
		sort.Strings(keys)
		return nil, fmt.Errorf("argument list has non-index keys %v", keys)
	}
	return out, nil
}
