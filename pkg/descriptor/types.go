package descriptor

import (
	"slices"
	"strings"
	"weak"
)

// Require declares a dependency of one plugin on another
type Require struct {
	PluginID string `json:"plugin" yaml:"plugin"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// ExtConfig is a single key/value pair attached to an extension
type ExtConfig struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// ExtPoint is a named slot a plugin declares for other plugins to contribute to
type ExtPoint struct {
	localID  string
	globalID string
	name     string
	owner    weak.Pointer[Descriptor]
}

// NewExtPoint creates an unattached extension point. Its global identifier
// is assigned when it is passed to New.
func NewExtPoint(localID, name string) *ExtPoint {
	return &ExtPoint{localID: localID, name: name}
}

// LocalID returns the identifier unique within the owning descriptor
func (e *ExtPoint) LocalID() string { return e.localID }

// ID returns the global identifier, <plugin-id>.<local-id>
func (e *ExtPoint) ID() string { return e.globalID }

// Name returns the human readable name
func (e *ExtPoint) Name() string { return e.name }

// Plugin returns the owning descriptor, or nil once it has been collected
// or when the extension point was never attached.
func (e *ExtPoint) Plugin() *Descriptor { return e.owner.Value() }

func (e *ExtPoint) attach(d *Descriptor) *ExtPoint {
	ep := e
	if e.globalID != "" {
		ep = &ExtPoint{localID: e.localID, name: e.name}
	}
	ep.globalID = GlobalID(d.id, ep.localID)
	ep.owner = weak.Make(d)
	return ep
}

// Extension is a contribution to an extension point, possibly one owned by
// another plugin
type Extension struct {
	localID    string
	globalID   string
	name       string
	extpointID string
	configs    []ExtConfig
	owner      weak.Pointer[Descriptor]
}

// NewExtension creates an unattached extension contributing to extpointID.
// Config keys are unique; the first occurrence of a key wins.
func NewExtension(localID, name, extpointID string, configs ...ExtConfig) *Extension {
	ext := &Extension{localID: localID, name: name, extpointID: extpointID}
	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		ext.configs = append(ext.configs, c)
	}
	return ext
}

// LocalID returns the identifier unique within the owning descriptor
func (e *Extension) LocalID() string { return e.localID }

// ID returns the global identifier, <plugin-id>.<local-id>
func (e *Extension) ID() string { return e.globalID }

// Name returns the human readable name
func (e *Extension) Name() string { return e.name }

// ExtPointID returns the global identifier of the targeted extension point
func (e *Extension) ExtPointID() string { return e.extpointID }

// Configs returns a copy of the configuration pairs in declaration order
func (e *Extension) Configs() []ExtConfig {
	return slices.Clone(e.configs)
}

// Config returns the value stored under key
func (e *Extension) Config(key string) (string, bool) {
	for _, c := range e.configs {
		if c.Key == key {
			return c.Value, true
		}
	}
	return "", false
}

// Plugin returns the owning descriptor, or nil once it has been collected
// or when the extension was never attached.
func (e *Extension) Plugin() *Descriptor { return e.owner.Value() }

func (e *Extension) attach(d *Descriptor) *Extension {
	ext := e
	if e.globalID != "" {
		ext = &Extension{localID: e.localID, name: e.name, extpointID: e.extpointID, configs: e.configs}
	}
	ext.globalID = GlobalID(d.id, ext.localID)
	ext.owner = weak.Make(d)
	return ext
}

// GlobalID joins a plugin identifier and a local identifier
func GlobalID(pluginID, localID string) string {
	return pluginID + "." + localID
}

// SplitGlobalID splits a global identifier at its last dot into the plugin
// identifier and the local identifier.
func SplitGlobalID(globalID string) (pluginID, localID string, ok bool) {
	i := strings.LastIndexByte(globalID, '.')
	if i <= 0 || i == len(globalID)-1 {
		return "", "", false
	}
	return globalID[:i], globalID[i+1:], true
}
