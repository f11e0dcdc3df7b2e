package lua

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/hinge/pkg/datastore"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	lua "github.com/yuin/gopher-lua"
)

const storeTypeName = "hinge.store"

// HookFunc is a lifecycle callback defined in Lua, adapted to Go. store is
// nil for hooks that carry no state.
type HookFunc func(ctx context.Context, store *datastore.Store) error

// Host is the resolve argument that gives a Lua entry function access to
// its plugin. The plugin runtime passes one when starting a plugin.
type Host interface {
	// Descriptor returns the plugin being started
	Descriptor() *descriptor.Descriptor
	// On registers fn for the named lifecycle hook
	On(hook string, fn HookFunc) error
}

// descriptorTable exposes the descriptor fields read only by convention
func (b *bridge) descriptorTable(d *descriptor.Descriptor) *lua.LTable {
	t := b.L.NewTable()
	t.RawSetString("id", lua.LString(d.ID()))
	t.RawSetString("name", lua.LString(d.Name()))
	t.RawSetString("version", lua.LString(d.Version()))
	t.RawSetString("provider", lua.LString(d.Provider()))
	t.RawSetString("path", lua.LString(d.Path()))
	t.RawSetString("module", lua.LString(d.Module()))
	t.RawSetString("symbol", lua.LString(d.Symbol()))

	requires := b.L.NewTable()
	for _, r := range d.Requires() {
		requires.Append(lua.LString(r.PluginID))
	}
	t.RawSetString("requires", requires)

	extpoints := b.L.NewTable()
	for _, ep := range d.ExtPoints() {
		extpoints.Append(lua.LString(ep.ID()))
	}
	t.RawSetString("extpoints", extpoints)

	extensions := b.L.NewTable()
	for _, ext := range d.Extensions() {
		extensions.Append(lua.LString(ext.ID()))
	}
	t.RawSetString("extensions", extensions)

	return t
}

// pluginTable is the descriptor table plus the on method. Both
// plugin:on(hook, fn) and plugin.on(hook, fn) are accepted.
func (b *bridge) pluginTable(host Host) *lua.LTable {
	d := host.Descriptor()
	var t *lua.LTable
	if d != nil {
		t = b.descriptorTable(d)
	} else {
		t = b.L.NewTable()
	}

	m := b.m
	t.RawSetString("on", b.L.NewFunction(func(L *lua.LState) int {
		base := 1
		if _, ok := L.Get(1).(*lua.LTable); ok {
			base = 2
		}
		hook := L.CheckString(base)
		fn := L.CheckFunction(base + 1)

		err := host.On(hook, func(ctx context.Context, store *datastore.Store) error {
			var args []any
			if store != nil {
				args = append(args, store)
			}
			result, status, err := m.call(ctx, fn, args...)
			if err != nil {
				return fmt.Errorf("lua %s hook failed: %w", hook, err)
			}
			if result == false || (result == nil && status != lua.LNil) {
				msg := lua.LVAsString(status)
				if msg == "" {
					msg = "returned false"
				}
				return fmt.Errorf("lua %s hook failed: %w", hook, errors.New(msg))
			}
			return nil
		})
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))
	return t
}

func (b *bridge) storeUserData(store *datastore.Store) *lua.LUserData {
	ud := b.L.NewUserData()
	ud.Value = store
	b.L.SetMetatable(ud, b.storeMetatable())
	return ud
}

func (b *bridge) storeMetatable() lua.LValue {
	if mt := b.L.GetTypeMetatable(storeTypeName); mt != lua.LNil {
		return mt
	}

	mt := b.L.NewTypeMetatable(storeTypeName)
	b.L.SetField(mt, "__index", b.L.SetFuncs(b.L.NewTable(), map[string]lua.LGFunction{
		"get":   b.storeGet,
		"set":   b.storeSet,
		"child": b.storeChild,
		"keys":  b.storeKeys,
	}))
	return mt
}

func (b *bridge) checkStore(L *lua.LState) *datastore.Store {
	ud := L.CheckUserData(1)
	store, ok := ud.Value.(*datastore.Store)
	if !ok {
		L.ArgError(1, "store expected")
	}
	return store
}

func (b *bridge) storeGet(L *lua.LState) int {
	store := b.checkStore(L)
	value, ok := store.Get(L.CheckString(2))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.toLua(value))
	return 1
}

func (b *bridge) storeSet(L *lua.LState) int {
	store := b.checkStore(L)
	key := L.CheckString(2)

	switch v := L.Get(3).(type) {
	case lua.LNumber:
		if float64(v) != float64(int64(v)) {
			L.ArgError(3, "store numbers must be integers")
		}
		store.SetInt(key, int64(v))
	case lua.LString:
		store.SetString(key, string(v))
	case *lua.LUserData:
		child, ok := v.Value.(*datastore.Store)
		if !ok {
			L.ArgError(3, "store expected")
		}
		if err := store.SetStore(key, child); err != nil {
			L.RaiseError("%s", err.Error())
		}
	case *lua.LNilType:
		store.Delete(key)
	default:
		L.ArgError(3, "integer, string or store expected")
	}
	return 0
}

func (b *bridge) storeChild(L *lua.LState) int {
	store := b.checkStore(L)
	L.Push(b.storeUserData(store.Child(L.CheckString(2))))
	return 1
}

func (b *bridge) storeKeys(L *lua.LState) int {
	store := b.checkStore(L)
	keys := L.NewTable()
	for _, key := range store.Keys() {
		keys.Append(lua.LString(key))
	}
	L.Push(keys)
	return 1
}
