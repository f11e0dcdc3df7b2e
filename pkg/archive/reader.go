package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/errdefs"
)

// SchemaVersion is the only archive schema version accepted by the readers
const SchemaVersion = "1.0"

// KeyPolicy selects the key a parsed descriptor is registered under
type KeyPolicy int

const (
	// KeyByID registers every descriptor under its full identifier
	KeyByID KeyPolicy = iota
	// KeyByAlias registers under the entry's alias key when one is given and
	// falls back to the full identifier otherwise
	KeyByAlias
)

// String implements fmt.Stringer
func (p KeyPolicy) String() string {
	switch p {
	case KeyByID:
		return "id"
	case KeyByAlias:
		return "alias"
	default:
		return fmt.Sprintf("KeyPolicy(%d)", int(p))
	}
}

// ParseKeyPolicy parses "id" or "alias"
func ParseKeyPolicy(s string) (KeyPolicy, error) {
	switch strings.ToLower(s) {
	case "", "id":
		return KeyByID, nil
	case "alias":
		return KeyByAlias, nil
	default:
		return KeyByID, fmt.Errorf("unknown key policy: %s", s)
	}
}

// Reader parses a descriptor file into an archive
type Reader interface {
	Read(path string) error
}

// Option configures a reader
type Option func(*readOptions)

type readOptions struct {
	keyPolicy KeyPolicy
}

// WithKeyPolicy selects how parsed descriptors are keyed
func WithKeyPolicy(policy KeyPolicy) Option {
	return func(o *readOptions) { o.keyPolicy = policy }
}

func newReadOptions(opts []Option) readOptions {
	o := readOptions{keyPolicy: KeyByID}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Formats lists the file suffixes ReadFile understands
var Formats = []string{".xml", ".yaml", ".yml"}

// IsArchiveFile reports whether path has a suffix ReadFile understands
func IsArchiveFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range Formats {
		if ext == format {
			return true
		}
	}
	return false
}

// NewReader returns the reader matching the suffix of path
func NewReader(a *Archive, path string, opts ...Option) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return NewXMLReader(a, opts...), nil
	case ".yaml", ".yml":
		return NewYAMLReader(a, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported archive format: %s", errdefs.ErrParse, path)
	}
}

// ReadFile parses path into a with the reader matching its suffix
func ReadFile(a *Archive, path string, opts ...Option) error {
	reader, err := NewReader(a, path, opts...)
	if err != nil {
		return err
	}
	return reader.Read(path)
}

// entry is a parsed descriptor waiting to be committed
type entry struct {
	alias string
	d     *descriptor.Descriptor
}

func (o readOptions) key(e entry) string {
	if o.keyPolicy == KeyByAlias && e.alias != "" {
		return e.alias
	}
	return e.d.ID()
}

// commit registers all entries or none of them
func commit(a *Archive, o readOptions, entries []entry) error {
	keys := make([]string, len(entries))
	objs := make([]any, len(entries))
	for i, e := range entries {
		keys[i] = o.key(e)
		objs[i] = e.d
	}
	return a.addAll(keys, objs)
}

// parseBool accepts the spellings descriptor files use for flags
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %q", s)
	}
}

func parseErr(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", errdefs.ErrParse, path, fmt.Sprintf(format, args...))
}
