package loader

import (
	"errors"
	"sync"
	"testing"

	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFake(t *testing.T, opts ...Option) *Handle {
	t.Helper()
	dir := t.TempDir()
	writeModule(t, dir, "plugin.mod")

	l := NewLoader(append([]Option{WithPaths(dir)}, opts...)...)
	f := &countingFactory{}
	require.NoError(t, l.Register("mod", f.make, nil))

	h, err := l.Load("plugin.mod")
	require.NoError(t, err)
	return h
}

func TestHandle_ResolveCached(t *testing.T) {
	h := loadFake(t)

	first, err := h.Resolve("new", "arg1")
	require.NoError(t, err)
	second, err := h.Resolve("new", "arg2")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "arg1", first.(*instance).arg)
}

func TestHandle_ResolveUncached(t *testing.T) {
	h := loadFake(t)

	cached, err := h.Resolve("new", "cached")
	require.NoError(t, err)

	fresh, err := h.Resolve("new", "fresh", WithCache(false))
	require.NoError(t, err)
	assert.NotSame(t, cached, fresh)
	assert.Equal(t, "fresh", fresh.(*instance).arg)

	again, err := h.Resolve("new", nil)
	require.NoError(t, err)
	assert.Same(t, cached, again, "uncached resolve must not replace the remembered instance")
}

func TestHandle_ForgetRebuilds(t *testing.T) {
	h := loadFake(t)

	first, err := h.Resolve("new", nil)
	require.NoError(t, err)
	h.Forget("new")

	second, err := h.Resolve("new", nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestHandle_ResolveFailures(t *testing.T) {
	h := loadFake(t)

	tests := []struct {
		symbol string
		noSym  bool
	}{
		{"missing", true},
		{"fail", false},
		{"panic", false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			var (
				instance any
				err      error
			)
			assert.NotPanics(t, func() {
				instance, err = h.Resolve(tt.symbol, nil)
			})
			assert.Nil(t, instance)
			assert.True(t, errdefs.IsResolution(err))
			assert.Equal(t, tt.noSym, errors.Is(err, errdefs.ErrNoSymbol))
		})
	}
}

func TestHandle_ConcurrentResolveBuildsOnce(t *testing.T) {
	h := loadFake(t)

	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Resolve("new", i)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Same(t, results[0], v)
	}
	assert.Equal(t, int32(1), results[0].(*instance).seq)
}

func TestHandle_SymbolCacheBounded(t *testing.T) {
	h := loadFake(t, WithSymbolCacheSize(1))
	assert.Equal(t, 0, h.instances.Len())

	_, err := h.Resolve("new", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.instances.Len())
}
