// Package lua hosts plugin modules written in Lua using gopher-lua.
//
// A module is a .lua file executed once when it is loaded. Symbols are the
// global functions it defines; resolving a symbol calls the function with
// the resolve argument converted to a Lua value and converts the first
// result back. A function may report failure Lua style by returning nil
// and an error message.
//
// When the argument implements Host the function receives a plugin table
// describing the descriptor, with an on method that registers lifecycle
// callbacks:
//
//	function start(plugin)
//	    plugin:on("save", function(store)
//	        store:set("greeted", plugin.id)
//	    end)
//	    return { ready = true }
//	end
//
// Stores are passed to callbacks as userdata with get, set, child and keys
// methods. A gopher-lua state is single threaded, so every call into a
// module holds that module's lock. The full standard library is opened and
// the module's directory is prepended to package.path; nothing is
// sandboxed.
package lua
