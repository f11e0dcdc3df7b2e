package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/hinge/pkg/datastore"
	"github.com/platinummonkey/hinge/pkg/descriptor"
)

// State is the externally observable state of a plugin in a Context
type State int

const (
	Uninstalled State = iota
	Installed
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installed:
		return "installed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Hook names a lifecycle callback
type Hook string

const (
	HookStart   Hook = "start"
	HookRun     Hook = "run"
	HookStop    Hook = "stop"
	HookSave    Hook = "save"
	HookRestore Hook = "restore"
)

// Hooks lists every lifecycle hook in firing order
var Hooks = []Hook{HookStart, HookRun, HookStop, HookSave, HookRestore}

// ParseHook parses a hook name, ignoring case
func ParseHook(name string) (Hook, error) {
	hook := Hook(strings.ToLower(name))
	for _, h := range Hooks {
		if h == hook {
			return h, nil
		}
	}
	return "", fmt.Errorf("unknown hook: %s", name)
}

// HookFunc is a lifecycle callback. store is nil except for save and
// restore.
type HookFunc func(ctx context.Context, d *descriptor.Descriptor, store *datastore.Store) error

// Observer receives install state transitions. It runs synchronously on
// the goroutine performing the mutation, after the Context lock is
// released, so queries are allowed. Transitions are delivered in the order
// the mutations happened. Installing or uninstalling from within the call
// deadlocks.
type Observer func(d *descriptor.Descriptor, old, new State)

// Filter selects descriptors in QueryAll
type Filter func(d *descriptor.Descriptor) bool

// ByProvider selects descriptors from provider
func ByProvider(provider string) Filter {
	return func(d *descriptor.Descriptor) bool { return d.Provider() == provider }
}

// ByModule selects descriptors backed by module
func ByModule(module string) Filter {
	return func(d *descriptor.Descriptor) bool { return d.Module() == module }
}

// ByIDPrefix selects descriptors whose id is prefix or lies below it in
// the dotted namespace
func ByIDPrefix(prefix string) Filter {
	prefix = strings.TrimSuffix(prefix, ".")
	return func(d *descriptor.Descriptor) bool {
		return d.ID() == prefix || strings.HasPrefix(d.ID(), prefix+".")
	}
}
