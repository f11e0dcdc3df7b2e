// Package archive provides a string keyed object registry and the readers
// that fill it from declarative descriptor files.
//
// # Overview
//
// Archive maps non-empty keys to shared objects. Keys are never
// overwritten; callers remove before re-adding.
//
//	a := archive.New()
//	a.Add("org.app.p1", d)
//	d, ok := archive.Lookup[*descriptor.Descriptor](a, "org.app.p1")
//
// # Descriptor Files
//
// XMLReader and YAMLReader parse descriptor archives (schema version 1.0)
// and register each plugin they declare. A file either commits completely
// or not at all.
//
//	err := archive.ReadFile(a, "plugins/editor.xml", archive.WithKeyPolicy(archive.KeyByAlias))
//
// WriteXML and WriteYAML serialize an archive back into the same schemas.
package archive
