package archive

import (
	"fmt"
	"slices"
	"sync"

	"github.com/platinummonkey/hinge/pkg/errdefs"
)

// Archive is a string keyed registry of shared objects. It is safe for
// concurrent use.
type Archive struct {
	mu      sync.RWMutex
	objects map[string]any
}

// New creates an empty archive
func New() *Archive {
	return &Archive{objects: make(map[string]any)}
}

// Add registers obj under key. It returns false if key is empty or
// already taken; existing entries are never replaced.
func (a *Archive) Add(key string, obj any) bool {
	if key == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.objects[key]; exists {
		return false
	}
	a.objects[key] = obj
	return true
}

// AddOrGet registers obj under key unless the key is taken, in which case
// the registered object is returned instead. The boolean reports whether
// obj was stored.
func (a *Archive) AddOrGet(key string, obj any) (any, bool) {
	if key == "" {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, exists := a.objects[key]; exists {
		return existing, false
	}
	a.objects[key] = obj
	return obj, true
}

// addAll stores every entry or none of them
func (a *Archive) addAll(keys []string, objs []any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" {
			return fmt.Errorf("%w: empty archive key", errdefs.ErrInvalidID)
		}
		if _, exists := a.objects[key]; exists || seen[key] {
			return fmt.Errorf("%w: archive key already registered: %s", errdefs.ErrConflict, key)
		}
		seen[key] = true
	}

	for i, key := range keys {
		a.objects[key] = objs[i]
	}
	return nil
}

// Remove drops the archive's reference to key. Other holders of the
// object are unaffected.
func (a *Archive) Remove(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.objects[key]; !exists {
		return false
	}
	delete(a.objects, key)
	return true
}

// Get returns the object registered under key
func (a *Archive) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, exists := a.objects[key]
	return obj, exists
}

// Keys returns a sorted snapshot of the registered keys
func (a *Archive) Keys() []string {
	a.mu.RLock()
	keys := make([]string, 0, len(a.objects))
	for key := range a.objects {
		keys = append(keys, key)
	}
	a.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// List returns a snapshot of the registered objects ordered by key
func (a *Archive) List() []any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.objects))
	for key := range a.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	objs := make([]any, 0, len(keys))
	for _, key := range keys {
		objs = append(objs, a.objects[key])
	}
	return objs
}

// Len returns the number of registered objects
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}

// Lookup returns the object under key if it has type T
func Lookup[T any](a *Archive, key string) (T, bool) {
	var zero T
	obj, ok := a.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Collect returns every registered object of type T ordered by key
func Collect[T any](a *Archive) []T {
	var out []T
	for _, obj := range a.List() {
		if typed, ok := obj.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
