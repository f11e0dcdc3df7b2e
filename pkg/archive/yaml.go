package archive

import (
	"fmt"
	"os"

	"github.com/platinummonkey/hinge/pkg/descriptor"
	"gopkg.in/yaml.v3"
)

// yamlArchive is the YAML rendition of the archive schema
type yamlArchive struct {
	Version string       `yaml:"archive"`
	Plugins []yamlPlugin `yaml:"plugins"`
}

type yamlPlugin struct {
	ID         string          `yaml:"id"`
	Key        string          `yaml:"key,omitempty"`
	Name       string          `yaml:"name,omitempty"`
	Version    string          `yaml:"version,omitempty"`
	Provider   string          `yaml:"provider,omitempty"`
	Path       string          `yaml:"path,omitempty"`
	Module     string          `yaml:"module,omitempty"`
	Symbol     string          `yaml:"symbol,omitempty"`
	Requires   *[]yamlRequire  `yaml:"requires,omitempty"`
	ExtPoints  []yamlExtPoint  `yaml:"extpoints,omitempty"`
	Extensions []yamlExtension `yaml:"extensions,omitempty"`
}

type yamlRequire struct {
	Plugin   string   `yaml:"plugin"`
	Version  string   `yaml:"version,omitempty"`
	Optional yamlFlag `yaml:"optional,omitempty"`
}

type yamlExtPoint struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

type yamlExtension struct {
	ID       string                 `yaml:"id"`
	Name     string                 `yaml:"name,omitempty"`
	ExtPoint string                 `yaml:"extpoint"`
	Config   []descriptor.ExtConfig `yaml:"config,omitempty"`
}

// yamlFlag accepts the same boolean spellings as the XML schema
type yamlFlag bool

// UnmarshalYAML implements yaml.Unmarshaler
func (f *yamlFlag) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseBool(node.Value)
	if err != nil {
		return err
	}
	*f = yamlFlag(v)
	return nil
}

// YAMLReader reads the YAML form of descriptor archives
type YAMLReader struct {
	archive *Archive
	opts    readOptions
}

// NewYAMLReader creates a reader that registers into a
func NewYAMLReader(a *Archive, opts ...Option) *YAMLReader {
	return &YAMLReader{archive: a, opts: newReadOptions(opts)}
}

// Read parses path and registers every plugin it declares. Nothing is
// registered unless the whole file parses.
func (r *YAMLReader) Read(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return parseErr(path, "%v", err)
	}

	var doc yamlArchive
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return parseErr(path, "%v", err)
	}
	if doc.Version != SchemaVersion {
		return parseErr(path, "unsupported archive version %q", doc.Version)
	}

	entries := make([]entry, 0, len(doc.Plugins))
	for _, p := range doc.Plugins {
		e, err := p.toEntry(path)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	return commit(r.archive, r.opts, entries)
}

func (p yamlPlugin) toEntry(path string) (entry, error) {
	if p.ID == "" {
		return entry{}, parseErr(path, "plugin entry missing id")
	}

	opts := []descriptor.Option{
		descriptor.WithName(p.Name),
		descriptor.WithVersion(p.Version),
		descriptor.WithProvider(p.Provider),
		descriptor.WithPath(p.Path),
		descriptor.WithModule(p.Module),
		descriptor.WithSymbol(p.Symbol),
	}

	if p.Requires != nil {
		requires := make([]descriptor.Require, 0, len(*p.Requires))
		for _, req := range *p.Requires {
			if req.Plugin == "" {
				return entry{}, parseErr(path, "require of %s missing plugin", p.ID)
			}
			requires = append(requires, descriptor.Require{
				PluginID: req.Plugin,
				Version:  req.Version,
				Optional: bool(req.Optional),
			})
		}
		opts = append(opts, descriptor.WithRequires(requires...))
	}

	seen := make(map[string]bool)
	for _, ep := range p.ExtPoints {
		if ep.ID == "" {
			return entry{}, parseErr(path, "extpoint of %s missing id", p.ID)
		}
		if seen[ep.ID] {
			return entry{}, parseErr(path, "duplicate extpoint %s in %s", ep.ID, p.ID)
		}
		seen[ep.ID] = true
		opts = append(opts, descriptor.WithExtPoints(descriptor.NewExtPoint(ep.ID, ep.Name)))
	}

	clear(seen)
	for _, ext := range p.Extensions {
		if ext.ID == "" {
			return entry{}, parseErr(path, "extension of %s missing id", p.ID)
		}
		if seen[ext.ID] {
			return entry{}, parseErr(path, "duplicate extension %s in %s", ext.ID, p.ID)
		}
		seen[ext.ID] = true
		if ext.ExtPoint == "" {
			return entry{}, parseErr(path, "extension %s missing extpoint", ext.ID)
		}
		for _, cfg := range ext.Config {
			if cfg.Key == "" {
				return entry{}, parseErr(path, "config of %s missing key", ext.ID)
			}
		}
		opts = append(opts, descriptor.WithExtensions(
			descriptor.NewExtension(ext.ID, ext.Name, ext.ExtPoint, ext.Config...),
		))
	}

	return entry{alias: p.Key, d: descriptor.New(p.ID, opts...)}, nil
}

// WriteYAML writes every descriptor registered in a to path
func WriteYAML(a *Archive, path string) error {
	doc := yamlArchive{Version: SchemaVersion}

	for _, key := range a.Keys() {
		d, ok := Lookup[*descriptor.Descriptor](a, key)
		if !ok {
			continue
		}

		p := yamlPlugin{
			ID:       d.ID(),
			Name:     d.Name(),
			Version:  d.Version(),
			Provider: d.Provider(),
			Path:     d.Path(),
			Module:   d.Module(),
			Symbol:   d.Symbol(),
		}
		if key != d.ID() {
			p.Key = key
		}
		if d.HasRequires() {
			requires := make([]yamlRequire, 0)
			for _, req := range d.Requires() {
				requires = append(requires, yamlRequire{
					Plugin:   req.PluginID,
					Version:  req.Version,
					Optional: yamlFlag(req.Optional),
				})
			}
			p.Requires = &requires
		}
		for _, ep := range d.ExtPoints() {
			p.ExtPoints = append(p.ExtPoints, yamlExtPoint{ID: ep.LocalID(), Name: ep.Name()})
		}
		for _, ext := range d.Extensions() {
			p.Extensions = append(p.Extensions, yamlExtension{
				ID:       ext.LocalID(),
				Name:     ext.Name(),
				ExtPoint: ext.ExtPointID(),
				Config:   ext.Configs(),
			})
		}

		doc.Plugins = append(doc.Plugins, p)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write archive %s: %w", path, err)
	}
	return nil
}
