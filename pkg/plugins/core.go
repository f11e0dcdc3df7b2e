package plugins

import (
	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/loader"
	"github.com/platinummonkey/hinge/pkg/loader/static"
)

// Identifiers of the built-in plugins and their extension points
const (
	CoreLoaderID  = "hinge.core.loader"
	CoreArchiveID = "hinge.core.archive"

	// ArchiveExtPoint collects descriptor file formats. Contributions
	// configure "module", "symbol" (default "reader") and "suffixes", a
	// space separated list such as ".yaml .yml". The symbol must resolve to
	// a ReaderFactory.
	ArchiveExtPoint = CoreLoaderID + ".archive"

	// ModuleExtPoint collects loader backends. Contributions configure
	// "module", "symbol" (default "backend") and optionally "kind". The
	// symbol must resolve to a loader.Backend.
	ModuleExtPoint = CoreLoaderID + ".module"
)

// Static module names of the built-in archive readers
const (
	XMLArchiveModule  = "xmlarchive-" + archive.SchemaVersion
	YAMLArchiveModule = "yamlarchive-" + archive.SchemaVersion
)

const (
	defaultReaderSymbol  = "reader"
	defaultBackendSymbol = "backend"
)

// ReaderFactory builds a descriptor file reader populating a
type ReaderFactory func(a *archive.Archive, opts ...archive.Option) archive.Reader

// provideCoreModules registers the in-process modules backing the core
// plugins
func provideCoreModules(r *static.Registry) {
	r.Provide(XMLArchiveModule, map[string]loader.Symbol{
		defaultReaderSymbol: func(any) (any, error) {
			return ReaderFactory(func(a *archive.Archive, opts ...archive.Option) archive.Reader {
				return archive.NewXMLReader(a, opts...)
			}), nil
		},
	})
	r.Provide(YAMLArchiveModule, map[string]loader.Symbol{
		defaultReaderSymbol: func(any) (any, error) {
			return ReaderFactory(func(a *archive.Archive, opts ...archive.Option) archive.Reader {
				return archive.NewYAMLReader(a, opts...)
			}), nil
		},
	})
}

// corePlugins returns fresh descriptors of the built-in plugins
func corePlugins() []*descriptor.Descriptor {
	return []*descriptor.Descriptor{
		descriptor.New(CoreLoaderID,
			descriptor.WithName("Module loader"),
			descriptor.WithVersion(archive.SchemaVersion),
			descriptor.WithProvider("hinge"),
			descriptor.WithRequires(),
			descriptor.WithExtPoints(
				descriptor.NewExtPoint("archive", "Descriptor archive formats"),
				descriptor.NewExtPoint("module", "Module backends"),
			),
		),
		descriptor.New(CoreArchiveID,
			descriptor.WithName("Descriptor archives"),
			descriptor.WithVersion(archive.SchemaVersion),
			descriptor.WithProvider("hinge"),
			descriptor.WithRequires(descriptor.Require{PluginID: CoreLoaderID, Version: archive.SchemaVersion}),
			descriptor.WithExtensions(
				descriptor.NewExtension("xml", "XML descriptor archive", ArchiveExtPoint,
					descriptor.ExtConfig{Key: "module", Value: XMLArchiveModule},
					descriptor.ExtConfig{Key: "symbol", Value: defaultReaderSymbol},
					descriptor.ExtConfig{Key: "suffixes", Value: ".xml"},
				),
				descriptor.NewExtension("yaml", "YAML descriptor archive", ArchiveExtPoint,
					descriptor.ExtConfig{Key: "module", Value: YAMLArchiveModule},
					descriptor.ExtConfig{Key: "symbol", Value: defaultReaderSymbol},
					descriptor.ExtConfig{Key: "suffixes", Value: ".yaml .yml"},
				),
			),
		),
	}
}
