// Package datastore provides the key/value container handed to save and
// restore hooks.
//
// A Store maps string keys to integers, strings or nested stores. Setting a
// key overwrites whatever it held; nested stores are returned by pointer so
// callers mutate them in place.
package datastore

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrCycle is returned when nesting a store would make it contain itself
var ErrCycle = errors.New("datastore: store would contain itself")

// linkMu serializes SetStore so two calls cannot close a cycle between them
var linkMu sync.Mutex

// Store is a string keyed container of int64, string and *Store values.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// New creates an empty store
func New() *Store {
	return &Store{values: make(map[string]any)}
}

func (s *Store) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
}

func (s *Store) get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// SetInt stores an integer
func (s *Store) SetInt(key string, value int64) { s.set(key, value) }

// SetString stores a string
func (s *Store) SetString(key, value string) { s.set(key, value) }

// SetStore stores a nested store. A nil child is ignored. It fails with
// ErrCycle when child is s or already contains s.
func (s *Store) SetStore(key string, child *Store) error {
	if child == nil {
		return nil
	}

	linkMu.Lock()
	defer linkMu.Unlock()
	if child.reaches(s, make(map[*Store]bool)) {
		return fmt.Errorf("%w: key %s", ErrCycle, key)
	}
	s.set(key, child)
	return nil
}

// reaches reports whether target is s or nested anywhere below it
func (s *Store) reaches(target *Store, visited map[*Store]bool) bool {
	if s == target {
		return true
	}
	if visited[s] {
		return false
	}
	visited[s] = true

	s.mu.RLock()
	var children []*Store
	for _, v := range s.values {
		if child, ok := v.(*Store); ok {
			children = append(children, child)
		}
	}
	s.mu.RUnlock()

	for _, child := range children {
		if child.reaches(target, visited) {
			return true
		}
	}
	return false
}

// Int returns the integer under key
func (s *Store) Int(key string) (int64, bool) {
	v, ok := s.get(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

// String returns the string under key
func (s *Store) String(key string) (string, bool) {
	v, ok := s.get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Store returns the nested store under key
func (s *Store) Store(key string) (*Store, bool) {
	v, ok := s.get(key)
	if !ok {
		return nil, false
	}
	child, ok := v.(*Store)
	return child, ok
}

// Child returns the nested store under key, creating it when the key is
// unset or holds a scalar
func (s *Store) Child(key string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values == nil {
		s.values = make(map[string]any)
	}
	if child, ok := s.values[key].(*Store); ok {
		return child
	}
	child := New()
	s.values[key] = child
	return child
}

// Get returns the raw value under key
func (s *Store) Get(key string) (any, bool) { return s.get(key) }

// Delete removes key
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the keys in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Len returns the number of keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// MarshalYAML implements yaml.Marshaler. Nested stores become mappings.
func (s *Store) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range s.Keys() {
		v, _ := s.get(key)

		value := &yaml.Node{}
		switch typed := v.(type) {
		case *Store:
			if err := value.Encode(typed); err != nil {
				return nil, err
			}
		case int64:
			value.Kind = yaml.ScalarNode
			value.Tag = "!!int"
			value.Value = fmt.Sprintf("%d", typed)
		case string:
			value.Kind = yaml.ScalarNode
			value.Tag = "!!str"
			value.Value = typed
		}

		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			value,
		)
	}
	return node, nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Integer scalars load as
// int64, other scalars as strings and mappings as nested stores.
func (s *Store) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("datastore: line %d: expected a mapping", node.Line)
	}

	values := make(map[string]any, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]

		switch value.Kind {
		case yaml.MappingNode:
			child := New()
			if err := child.UnmarshalYAML(value); err != nil {
				return err
			}
			values[key] = child
		case yaml.ScalarNode:
			if value.Tag == "!!int" {
				var n int64
				if err := value.Decode(&n); err != nil {
					return fmt.Errorf("datastore: key %s: %w", key, err)
				}
				values[key] = n
			} else {
				values[key] = value.Value
			}
		default:
			return fmt.Errorf("datastore: line %d: unsupported value for key %s", value.Line, key)
		}
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// SaveFile writes the store to path as YAML
func (s *Store) SaveFile(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal datastore: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write datastore %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a store previously written by SaveFile
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read datastore %s: %w", path, err)
	}

	s := New()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse datastore %s: %w", path, err)
	}
	return s, nil
}
