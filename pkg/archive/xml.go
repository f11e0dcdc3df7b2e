package archive

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/platinummonkey/hinge/pkg/descriptor"
)

// XMLReader reads descriptor archives of the form
//
//	<archive version="1.0">
//	  <plugin id="org.app.p1" name="..." module="..." symbol="...">
//	    <require plugin="org.app.p0" version="1.0" optional="true"/>
//	    <extpoint id="ep1" name="..."/>
//	    <extension id="ext1" extpoint="org.app.p0.ep1">
//	      <config key="k" value="v"/>
//	    </extension>
//	  </plugin>
//	</archive>
type XMLReader struct {
	archive *Archive
	opts    readOptions
}

// NewXMLReader creates a reader that registers into a
func NewXMLReader(a *Archive, opts ...Option) *XMLReader {
	return &XMLReader{archive: a, opts: newReadOptions(opts)}
}

// Read parses path and registers every plugin it declares. Nothing is
// registered unless the whole file parses.
func (r *XMLReader) Read(path string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return parseErr(path, "%v", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "archive" {
		return parseErr(path, "missing archive root element")
	}
	if version := root.SelectAttrValue("version", ""); version != SchemaVersion {
		return parseErr(path, "unsupported archive version %q", version)
	}

	var entries []entry
	for _, el := range root.SelectElements("plugin") {
		e, err := parseXMLPlugin(path, el)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	return commit(r.archive, r.opts, entries)
}

func parseXMLPlugin(path string, el *etree.Element) (entry, error) {
	id, ok := requiredAttr(el, "id")
	if !ok {
		return entry{}, parseErr(path, "plugin element missing id attribute")
	}

	opts := []descriptor.Option{
		descriptor.WithName(el.SelectAttrValue("name", "")),
		descriptor.WithVersion(el.SelectAttrValue("version", "")),
		descriptor.WithProvider(el.SelectAttrValue("provider", "")),
		descriptor.WithPath(el.SelectAttrValue("path", "")),
		descriptor.WithModule(el.SelectAttrValue("module", "")),
		descriptor.WithSymbol(el.SelectAttrValue("symbol", "")),
	}

	requires, present, err := parseXMLRequires(path, el)
	if err != nil {
		return entry{}, err
	}
	if present {
		opts = append(opts, descriptor.WithRequires(requires...))
	}

	seen := make(map[string]bool)
	for _, epEl := range el.SelectElements("extpoint") {
		localID, ok := requiredAttr(epEl, "id")
		if !ok {
			return entry{}, parseErr(path, "extpoint of %s missing id attribute", id)
		}
		if seen[localID] {
			return entry{}, parseErr(path, "duplicate extpoint %s in %s", localID, id)
		}
		seen[localID] = true
		opts = append(opts, descriptor.WithExtPoints(
			descriptor.NewExtPoint(localID, epEl.SelectAttrValue("name", "")),
		))
	}

	clear(seen)
	for _, extEl := range el.SelectElements("extension") {
		ext, err := parseXMLExtension(path, id, extEl)
		if err != nil {
			return entry{}, err
		}
		if seen[ext.LocalID()] {
			return entry{}, parseErr(path, "duplicate extension %s in %s", ext.LocalID(), id)
		}
		seen[ext.LocalID()] = true
		opts = append(opts, descriptor.WithExtensions(ext))
	}

	return entry{
		alias: el.SelectAttrValue("key", ""),
		d:     descriptor.New(id, opts...),
	}, nil
}

// parseXMLRequires accepts require elements either directly under the
// plugin or inside a requires container. An empty container yields an
// explicitly empty list.
func parseXMLRequires(path string, el *etree.Element) ([]descriptor.Require, bool, error) {
	elements := el.SelectElements("require")
	present := len(elements) > 0
	if container := el.SelectElement("requires"); container != nil {
		elements = append(elements, container.SelectElements("require")...)
		present = true
	}
	if !present {
		return nil, false, nil
	}

	requires := make([]descriptor.Require, 0, len(elements))
	for _, reqEl := range elements {
		pluginID, ok := requiredAttr(reqEl, "plugin")
		if !ok {
			return nil, false, parseErr(path, "require missing plugin attribute")
		}
		optional, err := parseBool(reqEl.SelectAttrValue("optional", ""))
		if err != nil {
			return nil, false, parseErr(path, "require %s: %v", pluginID, err)
		}
		requires = append(requires, descriptor.Require{
			PluginID: pluginID,
			Version:  reqEl.SelectAttrValue("version", ""),
			Optional: optional,
		})
	}
	return requires, true, nil
}

func parseXMLExtension(path, pluginID string, el *etree.Element) (*descriptor.Extension, error) {
	localID, ok := requiredAttr(el, "id")
	if !ok {
		return nil, parseErr(path, "extension of %s missing id attribute", pluginID)
	}
	extpointID, ok := requiredAttr(el, "extpoint")
	if !ok {
		return nil, parseErr(path, "extension %s missing extpoint attribute", localID)
	}

	var configs []descriptor.ExtConfig
	for _, cfgEl := range el.SelectElements("config") {
		key, ok := requiredAttr(cfgEl, "key")
		if !ok {
			return nil, parseErr(path, "config of %s missing key attribute", localID)
		}
		value := cfgEl.SelectAttrValue("value", "")
		if value == "" {
			value = cfgEl.Text()
		}
		configs = append(configs, descriptor.ExtConfig{Key: key, Value: value})
	}

	return descriptor.NewExtension(localID, el.SelectAttrValue("name", ""), extpointID, configs...), nil
}

func requiredAttr(el *etree.Element, name string) (string, bool) {
	attr := el.SelectAttr(name)
	if attr == nil || attr.Value == "" {
		return "", false
	}
	return attr.Value, true
}

// WriteXML writes every descriptor registered in a to path. Entries whose
// key differs from the descriptor identifier keep it as the key attribute.
func WriteXML(a *Archive, path string) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("archive")
	root.CreateAttr("version", SchemaVersion)

	for _, key := range a.Keys() {
		d, ok := Lookup[*descriptor.Descriptor](a, key)
		if !ok {
			continue
		}

		el := root.CreateElement("plugin")
		el.CreateAttr("id", d.ID())
		if key != d.ID() {
			el.CreateAttr("key", key)
		}
		setAttr(el, "name", d.Name())
		setAttr(el, "version", d.Version())
		setAttr(el, "provider", d.Provider())
		setAttr(el, "path", d.Path())
		setAttr(el, "module", d.Module())
		setAttr(el, "symbol", d.Symbol())

		if d.HasRequires() {
			container := el.CreateElement("requires")
			for _, req := range d.Requires() {
				reqEl := container.CreateElement("require")
				reqEl.CreateAttr("plugin", req.PluginID)
				setAttr(reqEl, "version", req.Version)
				if req.Optional {
					reqEl.CreateAttr("optional", "true")
				}
			}
		}

		for _, ep := range d.ExtPoints() {
			epEl := el.CreateElement("extpoint")
			epEl.CreateAttr("id", ep.LocalID())
			setAttr(epEl, "name", ep.Name())
		}

		for _, ext := range d.Extensions() {
			extEl := el.CreateElement("extension")
			extEl.CreateAttr("id", ext.LocalID())
			setAttr(extEl, "name", ext.Name())
			extEl.CreateAttr("extpoint", ext.ExtPointID())
			for _, cfg := range ext.Configs() {
				cfgEl := extEl.CreateElement("config")
				cfgEl.CreateAttr("key", cfg.Key)
				cfgEl.CreateAttr("value", cfg.Value)
			}
		}
	}

	doc.Indent(2)
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("failed to write archive %s: %w", path, err)
	}
	return nil
}

func setAttr(el *etree.Element, name, value string) {
	if value != "" {
		el.CreateAttr(name, value)
	}
}
