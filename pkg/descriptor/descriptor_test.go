package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwner string

func (o fakeOwner) ID() string { return string(o) }

func newTestDescriptor() *Descriptor {
	return New("org.app.plugin2",
		WithName("test plugin2"),
		WithVersion("0.1"),
		WithProvider("acme"),
		WithModule("plugin2.lua"),
		WithSymbol("setup"),
		WithRequires(Require{PluginID: "org.app.plugin1", Version: "1.0", Optional: true}),
		WithExtPoints(
			NewExtPoint("zeta", "last"),
			NewExtPoint("alpha", "first"),
		),
		WithExtensions(
			NewExtension("ext1", "extension 1", "org.app.plugin1.extpt1",
				ExtConfig{Key: "config1", Value: "value1"},
				ExtConfig{Key: "config2", Value: "value2"},
			),
		),
	)
}

func TestNew(t *testing.T) {
	d := newTestDescriptor()

	assert.Equal(t, "org.app.plugin2", d.ID())
	assert.Equal(t, "test plugin2", d.Name())
	assert.Equal(t, "0.1", d.Version())
	assert.Equal(t, "acme", d.Provider())
	assert.Equal(t, "plugin2.lua", d.Module())
	assert.Equal(t, "setup", d.Symbol())
	assert.Equal(t, "org.app.plugin2@0.1", d.String())

	reqs := d.Requires()
	require.Len(t, reqs, 1)
	assert.Equal(t, "org.app.plugin1", reqs[0].PluginID)
	assert.Equal(t, "1.0", reqs[0].Version)
	assert.True(t, reqs[0].Optional)
}

func TestNew_GlobalIDsAndSorting(t *testing.T) {
	d := newTestDescriptor()

	eps := d.ExtPoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "alpha", eps[0].LocalID())
	assert.Equal(t, "org.app.plugin2.alpha", eps[0].ID())
	assert.Equal(t, "zeta", eps[1].LocalID())

	ep, ok := d.ExtPoint("zeta")
	require.True(t, ok)
	assert.Equal(t, "last", ep.Name())
	assert.Same(t, d, ep.Plugin())

	_, ok = d.ExtPoint("missing")
	assert.False(t, ok)

	ext, ok := d.Extension("ext1")
	require.True(t, ok)
	assert.Equal(t, "org.app.plugin2.ext1", ext.ID())
	assert.Equal(t, "org.app.plugin1.extpt1", ext.ExtPointID())
	assert.Same(t, d, ext.Plugin())

	v, ok := ext.Config("config2")
	assert.True(t, ok)
	assert.Equal(t, "value2", v)
	_, ok = ext.Config("config3")
	assert.False(t, ok)
}

func TestNew_RequiresAbsentVersusEmpty(t *testing.T) {
	absent := New("org.app.a")
	assert.False(t, absent.HasRequires())
	assert.Nil(t, absent.Requires())

	empty := New("org.app.b", WithRequires())
	assert.True(t, empty.HasRequires())
	assert.NotNil(t, empty.Requires())
	assert.Empty(t, empty.Requires())
}

func TestNew_DuplicateLocalIDs(t *testing.T) {
	d := New("org.app.a", WithExtPoints(
		NewExtPoint("ep", "one"),
		NewExtPoint("ep", "two"),
		nil,
	))

	require.Len(t, d.ExtPoints(), 1)
	ep, _ := d.ExtPoint("ep")
	assert.Equal(t, "one", ep.Name())
}

func TestNewExtension_DuplicateConfigKeys(t *testing.T) {
	ext := NewExtension("e", "", "org.x.ep",
		ExtConfig{Key: "k", Value: "first"},
		ExtConfig{Key: "k", Value: "second"},
	)

	require.Len(t, ext.Configs(), 1)
	v, _ := ext.Config("k")
	assert.Equal(t, "first", v)
}

func TestNew_SharedExtPointIsCopied(t *testing.T) {
	shared := NewExtPoint("ep", "shared")
	a := New("org.app.a", WithExtPoints(shared))
	b := New("org.app.b", WithExtPoints(shared))

	epA, _ := a.ExtPoint("ep")
	epB, _ := b.ExtPoint("ep")
	assert.Equal(t, "org.app.a.ep", epA.ID())
	assert.Equal(t, "org.app.b.ep", epB.ID())
	assert.Same(t, a, epA.Plugin())
	assert.Same(t, b, epB.Plugin())
}

func TestUnattachedExtPoint(t *testing.T) {
	ep := NewExtPoint("ep", "loose")
	assert.Empty(t, ep.ID())
	assert.Nil(t, ep.Plugin())
}

func TestOwnerAndRuntime(t *testing.T) {
	d := New("org.app.a", WithPath("sub"))
	assert.Nil(t, d.Owner())
	assert.Nil(t, d.Runtime())

	_, ok := d.ClaimOwner(fakeOwner("ctx-1"))
	require.True(t, ok)
	require.NotNil(t, d.Owner())
	assert.Equal(t, "ctx-1", d.Owner().ID())

	// the holder may claim again, anyone else is refused
	_, ok = d.ClaimOwner(fakeOwner("ctx-1"))
	assert.True(t, ok)
	holder, ok := d.ClaimOwner(fakeOwner("ctx-2"))
	assert.False(t, ok)
	assert.Equal(t, fakeOwner("ctx-1"), holder)
	assert.Equal(t, "ctx-1", d.Owner().ID())

	d.ReleaseOwner(fakeOwner("ctx-2"))
	assert.Equal(t, "ctx-1", d.Owner().ID())

	d.SetRuntime(42)
	assert.Equal(t, 42, d.Runtime())

	d.SetPath("/root/sub")
	assert.Equal(t, "/root/sub", d.Path())

	d.ReleaseOwner(fakeOwner("ctx-1"))
	d.SetRuntime(nil)
	assert.Nil(t, d.Owner())
	assert.Nil(t, d.Runtime())
}

func TestSplitGlobalID(t *testing.T) {
	tests := []struct {
		in       string
		plugin   string
		local    string
		expectOK bool
	}{
		{"org.app.plugin1.extpt1", "org.app.plugin1", "extpt1", true},
		{"a.b", "a", "b", true},
		{"nodot", "", "", false},
		{".leading", "", "", false},
		{"trailing.", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			plugin, local, ok := SplitGlobalID(tt.in)
			assert.Equal(t, tt.expectOK, ok)
			assert.Equal(t, tt.plugin, plugin)
			assert.Equal(t, tt.local, local)
		})
	}

	assert.Equal(t, "org.app.x", GlobalID("org.app", "x"))
}
