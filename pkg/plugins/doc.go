// Package plugins provides the plugin Context: the live registry that
// installs plugin descriptors, indexes their extension points and drives
// their lifecycle.
//
// # Overview
//
// A Context holds installed descriptor.Descriptor values by id. Installing
// a descriptor claims its id and the global ids of the extension points it
// declares; either being taken fails with errdefs.ErrConflict. Observers
// registered with Subscribe see every Uninstalled to Installed transition
// and back.
//
//	c, err := plugins.NewContext(plugins.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	installed, err := c.LoadPlugins(ctx, "/etc/hinge/plugins", true)
//
// # Descriptor Files
//
// LoadPlugins scans a file or directory for descriptor archives. The file
// formats are themselves contributions: the built-in hinge.core.archive
// plugin contributes XML and YAML readers to the ArchiveExtPoint extension
// point, and further formats can be added the same way. Each file is parsed
// into its own archive in parallel; descriptors are installed in path order
// with the file's directory as their install path.
//
// # Lifecycle
//
// Start loads a plugin's module through the Context's loader and calls its
// entry symbol with a *Host. The entry registers callbacks for the start,
// run, stop, save and restore hooks:
//
//	c.Statics().Provide("editor", map[string]loader.Symbol{
//		"start": func(arg any) (any, error) {
//			host := arg.(*plugins.Host)
//			host.OnHook(plugins.HookSave, func(ctx context.Context, d *descriptor.Descriptor, store *datastore.Store) error {
//				store.SetString("buffer", current())
//				return nil
//			})
//			return newEditor(), nil
//		},
//	})
//
// Lua modules receive the same host as a table with an on method:
//
//	function start(plugin)
//	  plugin:on("run", function() print("running " .. plugin.id) end)
//	end
//
// Requires are started before the plugin that names them. Save and Restore
// pass each plugin the child of a datastore.Store named by its id, and
// Destroy stops plugins in reverse start order before uninstalling them.
//
// # Extension Points
//
// ResolveExtPoint loads the module of the plugin owning an extension point
// and calls the symbol named by the extension point's local id with the
// owning descriptor. Results are remembered per module unless
// loader.WithCache(false) is given. Failures are reported through
// LastError because the result carries no error.
//
// # Policies
//
// An InstallPolicy may refuse descriptors before they are registered.
// RequireSatisfied checks requires against installed versions and
// ValidIdentifiers checks id syntax; Policies combines them.
package plugins
