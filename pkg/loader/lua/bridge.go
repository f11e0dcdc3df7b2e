package lua

import (
	"fmt"
	"math"
	"reflect"

	"github.com/platinummonkey/hinge/pkg/datastore"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	lua "github.com/yuin/gopher-lua"
)

// bridge converts values between Go and the module's Lua state. It is only
// used while the module lock is held.
type bridge struct {
	L *lua.LState
	m *module
}

// toGo converts a Lua value to Go. Integral numbers in int64 range become
// int64, tables with contiguous integer keys become []any and other tables
// map[string]any. Functions have no Go form and convert to nil.
func (b *bridge) toGo(lv lua.LValue) any {
	return b.toGoVisited(lv, make(map[*lua.LTable]bool))
}

func (b *bridge) toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return b.tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func (b *bridge) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	count, maxN := 0, 0
	sequence := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if n, ok := k.(lua.LNumber); ok && float64(n) == math.Trunc(float64(n)) && n > 0 {
			maxN = max(maxN, int(n))
			return
		}
		sequence = false
	})

	if sequence && maxN > 0 && count == maxN {
		out := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			out[i-1] = b.toGoVisited(t.RawGetInt(i), visited)
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		key := k.String()
		if n, ok := k.(lua.LNumber); ok {
			key = fmt.Sprintf("%v", float64(n))
		}
		out[key] = b.toGoVisited(v, visited)
	})
	return out
}

// toLua converts a Go value to Lua. Hosts, descriptors and stores get
// their dedicated representations; anything reflection cannot map is
// wrapped as userdata.
func (b *bridge) toLua(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case Host:
		return b.pluginTable(val)
	case *descriptor.Descriptor:
		if val == nil {
			return lua.LNil
		}
		return b.descriptorTable(val)
	case *datastore.Store:
		if val == nil {
			return lua.LNil
		}
		return b.storeUserData(val)
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		t := b.L.CreateTable(len(val), 0)
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case map[string]string:
		t := b.L.CreateTable(0, len(val))
		for k, s := range val {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	default:
		return b.reflectToLua(v)
	}
}

func (b *bridge) reflectToLua(v any) lua.LValue {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return lua.LNil
		}
		if rv.Elem().Kind() == reflect.Struct {
			return b.userData(v)
		}
		return b.toLua(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		t := b.L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.toLua(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := b.L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(b.toLua(iter.Key().Interface()), b.toLua(iter.Value().Interface()))
		}
		return t
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	default:
		return b.userData(v)
	}
}

func (b *bridge) userData(v any) *lua.LUserData {
	ud := b.L.NewUserData()
	ud.Value = v
	return ud
}
