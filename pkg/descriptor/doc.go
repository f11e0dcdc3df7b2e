// Package descriptor models plugin descriptors and their sub-entities.
//
// # Overview
//
// A Descriptor records what a plugin is (identifier, name, version,
// provider), where its code lives (path, module, entry symbol), what it
// depends on (Require) and how it plugs into other plugins (ExtPoint and
// Extension with ExtConfig pairs).
//
//	d := descriptor.New("org.app.editor",
//		descriptor.WithName("Editor"),
//		descriptor.WithVersion("1.2"),
//		descriptor.WithModule("editor.lua"),
//		descriptor.WithSymbol("setup"),
//		descriptor.WithExtPoints(descriptor.NewExtPoint("commands", "Editor commands")),
//	)
//	ep, _ := d.ExtPoint("commands")
//	ep.ID() // "org.app.editor.commands"
//
// # Back References
//
// Extension points and extensions reach their descriptor through a weak
// pointer. The descriptor reaches its installing registry through an Owner
// handle that the registry sets and clears.
package descriptor
