package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/platinummonkey/hinge/pkg/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editorXML = `<?xml version="1.0" encoding="UTF-8"?>
<archive version="1.0">
  <plugin id="org.app.editor" name="Editor" version="1.0" provider="acme">
    <extpoint id="commands" name="Editor commands"/>
  </plugin>
</archive>
`

const spellYAML = `archive: "1.0"
plugins:
  - id: org.app.spell
    name: Spell checker
    version: "0.3"
    path: lib
    requires:
      - plugin: org.app.editor
        version: "1.0"
    extensions:
      - id: check
        extpoint: org.app.editor.commands
        config:
          - key: command
            value: spell-check
`

const nestedXML = `<?xml version="1.0" encoding="UTF-8"?>
<archive version="1.0">
  <plugin id="org.app.nested" name="Nested" version="1.0"/>
</archive>
`

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"editor.xml":         editorXML,
		"spell.yml":          spellYAML,
		"README.txt":         "not a descriptor",
		"sub/nested.xml":     nestedXML,
		"sub/deeper/bad.xml": "<archive version='1.0'><plugin name=x/></archive>",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func ids(ds []*descriptor.Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID())
	}
	return out
}

func TestContext_LoadPluginsDirectory(t *testing.T) {
	root := writeTree(t)
	c := newTestContext(t)

	installed, err := c.LoadPlugins(t.Context(), root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.app.editor", "org.app.spell"}, ids(installed))

	editor, ok := c.Query("org.app.editor")
	require.True(t, ok)
	assert.Equal(t, root, editor.Path())

	spell, ok := c.Query("org.app.spell")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "lib"), spell.Path())

	exts := c.QueryExtensions("org.app.editor.commands")
	require.Len(t, exts, 1)
	command, _ := exts[0].Config("command")
	assert.Equal(t, "spell-check", command)

	_, ok = c.Query("org.app.nested")
	assert.False(t, ok)
}

func TestContext_LoadPluginsRecursive(t *testing.T) {
	root := writeTree(t)
	c := newTestContext(t)

	installed, err := c.LoadPlugins(t.Context(), root, true)
	require.Error(t, err)
	assert.True(t, errdefs.IsParse(err))
	assert.Contains(t, err.Error(), "bad.xml")

	// the malformed file does not stop the others
	assert.ElementsMatch(t, []string{"org.app.editor", "org.app.spell", "org.app.nested"}, ids(installed))

	nested, ok := c.Query("org.app.nested")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "sub"), nested.Path())
}

func TestContext_LoadPluginsFile(t *testing.T) {
	root := writeTree(t)
	c := newTestContext(t)

	installed, err := c.LoadPlugins(t.Context(), filepath.Join(root, "editor.xml"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.app.editor"}, ids(installed))

	// a second load conflicts
	_, err = c.LoadPlugins(t.Context(), filepath.Join(root, "editor.xml"), false)
	assert.True(t, errdefs.IsConflict(err))
}

func TestContext_LoadPluginsSearchPaths(t *testing.T) {
	root := writeTree(t)
	c := newTestContext(t)
	c.AddPaths(t.TempDir() + string(os.PathListSeparator) + root)
	c.AddPath(root)

	assert.Len(t, c.Paths(), 2)
	assert.Contains(t, c.Loader().Paths(), root)

	installed, err := c.LoadPlugins(t.Context(), "sub", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.app.nested"}, ids(installed))

	_, err = c.LoadPlugins(t.Context(), "missing", false)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestContext_LoadPluginsKeyPolicy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aliased.xml"), []byte(`<?xml version="1.0"?>
<archive version="1.0">
  <plugin id="org.app.zeta" key="a"/>
  <plugin id="org.app.alpha" key="b"/>
</archive>
`), 0644))

	c := newTestContext(t, WithArchiveOptions(archive.WithKeyPolicy(archive.KeyByAlias)))
	installed, err := c.LoadPlugins(t.Context(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.app.zeta", "org.app.alpha"}, ids(installed))
}

func TestContext_LoadPluginsWithoutCorePlugins(t *testing.T) {
	root := writeTree(t)
	c := newTestContext(t, WithoutCorePlugins())

	// the built-in readers serve when no archive format is contributed
	installed, err := c.LoadPlugins(t.Context(), root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.app.editor", "org.app.spell"}, ids(installed))
}

func TestContext_ContributedArchiveFormat(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins.desc"), []byte(editorXML), 0644))

	c := newTestContext(t)
	var reads int
	c.Statics().Provide("descformat", map[string]loader.Symbol{
		"reader": func(any) (any, error) {
			return ReaderFactory(func(a *archive.Archive, opts ...archive.Option) archive.Reader {
				reads++
				return archive.NewXMLReader(a, opts...)
			}), nil
		},
	})
	require.NoError(t, c.Install(testPlugin("org.app.descformat",
		descriptor.WithExtensions(descriptor.NewExtension("desc", "", ArchiveExtPoint,
			descriptor.ExtConfig{Key: "module", Value: "descformat"},
			descriptor.ExtConfig{Key: "suffixes", Value: "desc"},
		)),
	)))

	installed, err := c.LoadPlugins(t.Context(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.app.editor"}, ids(installed))
	assert.Equal(t, 1, reads)
}

func TestContext_ContributedArchiveFormatFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins.desc"), []byte(editorXML), 0644))

	c := newTestContext(t)
	c.Statics().Provide("descformat", map[string]loader.Symbol{
		"reader": func(any) (any, error) { return "not a factory", nil },
	})
	require.NoError(t, c.Install(testPlugin("org.app.descformat",
		descriptor.WithExtensions(descriptor.NewExtension("desc", "", ArchiveExtPoint,
			descriptor.ExtConfig{Key: "module", Value: "descformat"},
			descriptor.ExtConfig{Key: "suffixes", Value: ".desc"},
		)),
	)))

	installed, err := c.LoadPlugins(t.Context(), dir, false)
	assert.Empty(t, installed)
	assert.True(t, errdefs.IsResolution(err))
}

type memModule struct{ name string }

func (m *memModule) Name() string { return m.name }

func (m *memModule) Lookup(symbol string) (loader.Symbol, error) {
	if symbol != "hello" {
		return nil, loader.NoSymbol(m.name, symbol)
	}
	return func(any) (any, error) { return "hello from " + m.name, nil }, nil
}

func (m *memModule) Close() error { return nil }

func TestContext_RegisterContributedBackends(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.mem"), nil, 0644))

	c := newTestContext(t)
	c.Loader().AddPath(dir)
	c.Statics().Provide("membackend", map[string]loader.Symbol{
		"backend": func(any) (any, error) {
			return &loader.Backend{
				Kind: "ignored",
				Factory: func(path string, _ any) (loader.Module, error) {
					return &memModule{name: filepath.Base(path)}, nil
				},
			}, nil
		},
		"broken": func(any) (any, error) { return 42, nil },
	})
	require.NoError(t, c.Install(testPlugin("org.app.mem",
		descriptor.WithExtensions(
			descriptor.NewExtension("backend", "", ModuleExtPoint,
				descriptor.ExtConfig{Key: "module", Value: "membackend"},
				descriptor.ExtConfig{Key: "kind", Value: "mem"},
			),
			descriptor.NewExtension("broken", "", ModuleExtPoint,
				descriptor.ExtConfig{Key: "module", Value: "membackend"},
				descriptor.ExtConfig{Key: "symbol", Value: "broken"},
			),
		),
	)))

	err := c.RegisterContributedBackends(t.Context())
	require.Error(t, err)
	assert.True(t, errdefs.IsResolution(err))
	assert.Contains(t, c.Loader().Kinds(), "mem")

	h, err := c.Loader().Load("greeting.mem")
	require.NoError(t, err)
	got, err := h.Resolve("hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello from greeting.mem", got)

	// registering the same kind twice conflicts
	err = c.RegisterContributedBackends(t.Context())
	assert.True(t, errdefs.IsConflict(err))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/plugins", joinPath("/plugins", ""))
	assert.Equal(t, "/plugins/lib", joinPath("/plugins", "lib"))
	assert.Equal(t, "/opt/lib", joinPath("/plugins", "/opt/lib"))
}

func TestDefaultPluginDirectories(t *testing.T) {
	dirs := DefaultPluginDirectories()
	assert.Contains(t, dirs, "/etc/hinge/plugins")
	assert.Equal(t, "./plugins", dirs[len(dirs)-1])
}
