package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/async"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/platinummonkey/hinge/pkg/loader"
	"github.com/platinummonkey/hinge/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// archiveReadTimeout bounds parsing of a single descriptor file
const archiveReadTimeout = 30 * time.Second

// AddPaths appends the entries of a platform path list to the Context's
// search paths and to its loader
func (c *Context) AddPaths(list string) {
	c.mu.Lock()
	for _, dir := range filepath.SplitList(list) {
		if dir != "" && !slices.Contains(c.paths, dir) {
			c.paths = append(c.paths, dir)
		}
	}
	c.mu.Unlock()

	c.loader.AddPaths(list)
}

// AddPath appends a single directory to the search paths
func (c *Context) AddPath(dir string) {
	c.AddPaths(dir)
}

// Paths returns a copy of the search paths
func (c *Context) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.paths)
}

// LoadPlugins reads descriptor files and installs what they describe.
// target is a file or a directory, tried as given and then under each
// search path. Directories are scanned for descriptor files, descending
// into subdirectories when recursive is set. Files are parsed in
// parallel and installed in path order with their directory as install
// path. The installed descriptors are returned together with the joined
// read and install errors.
func (c *Context) LoadPlugins(ctx context.Context, target string, recursive bool) ([]*descriptor.Descriptor, error) {
	ctx, span := c.tracer.Start(ctx, "plugins.LoadPlugins", trace.WithAttributes(
		attribute.String("plugins.context", c.id),
		attribute.String("plugins.target", target),
		attribute.Bool("plugins.recursive", recursive),
	))
	defer span.End()

	installed, err := c.loadPlugins(ctx, target, recursive)
	span.SetAttributes(attribute.Int("plugins.installed", len(installed)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return installed, err
}

func (c *Context) loadPlugins(ctx context.Context, target string, recursive bool) ([]*descriptor.Descriptor, error) {
	root, info, err := c.resolveTarget(target)
	if err != nil {
		return nil, err
	}

	readers := c.archiveReaders(ctx)

	var files []string
	var errs []error
	if info.IsDir() {
		files, errs = scanDir(root, recursive, readers)
	} else {
		files = []string{root}
	}
	if len(files) == 0 {
		c.logger().Debugf("No descriptor files found in %s", root)
		return nil, errors.Join(errs...)
	}

	archives := make([]*archive.Archive, len(files))
	readErrs := make([]error, len(files))
	indices := make([]int, len(files))
	for i := range indices {
		indices[i] = i
	}

	workers := min(len(files), runtime.NumCPU())
	batchErrs := async.Batch(ctx, indices, workers, "read descriptor archives", archiveReadTimeout,
		func(ctx context.Context, i int) error {
			archives[i], readErrs[i] = c.readArchive(ctx, files[i], readers)
			return nil
		}, async.WithLogger(c.log))
	errs = append(errs, batchErrs...)

	var installed []*descriptor.Descriptor
	for i, file := range files {
		if readErrs[i] != nil {
			errs = append(errs, readErrs[i])
			continue
		}
		if archives[i] == nil {
			continue
		}

		dir := filepath.Dir(file)
		for _, d := range archive.Collect[*descriptor.Descriptor](archives[i]) {
			if err := c.InstallAt(dir, d); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", file, err))
				continue
			}
			installed = append(installed, d)
		}
	}

	c.logger().Infof("Loaded %d plugins from %d descriptor files under %s", len(installed), len(files), root)
	return installed, errors.Join(errs...)
}

// resolveTarget finds target as given or under a search path
func (c *Context) resolveTarget(target string) (string, fs.FileInfo, error) {
	candidates := []string{target}
	if !filepath.IsAbs(target) {
		for _, dir := range c.Paths() {
			candidates = append(candidates, filepath.Join(dir, target))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		abs, err := filepath.Abs(candidate)
		if err != nil {
			abs = candidate
		}
		return abs, info, nil
	}
	return "", nil, fmt.Errorf("%w: plugin target %s not found in %v", errdefs.ErrNotFound, target, c.Paths())
}

// scanDir lists the descriptor files under root in lexical order
func scanDir(root string, recursive bool, readers map[string]*descriptor.Extension) ([]string, []error) {
	var files []string
	var errs []error

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if entry.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if isDescriptorFile(path, readers) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return files, errs
}

func isDescriptorFile(path string, readers map[string]*descriptor.Extension) bool {
	if len(readers) == 0 {
		return archive.IsArchiveFile(path)
	}
	_, ok := readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// archiveReaders maps file suffixes to the archive extension reading them.
// The first contribution in global id order wins a suffix.
func (c *Context) archiveReaders(ctx context.Context) map[string]*descriptor.Extension {
	readers := make(map[string]*descriptor.Extension)
	for _, ext := range c.QueryExtensions(ArchiveExtPoint) {
		suffixes, _ := ext.Config("suffixes")
		for _, suffix := range strings.Fields(suffixes) {
			suffix = strings.ToLower(suffix)
			if !strings.HasPrefix(suffix, ".") {
				suffix = "." + suffix
			}
			if _, taken := readers[suffix]; !taken {
				readers[suffix] = ext
			}
		}
	}
	return readers
}

// readArchive parses one descriptor file into a new archive using the
// reader contributed for its suffix, or the built-in readers when nothing
// is contributed
func (c *Context) readArchive(ctx context.Context, path string, readers map[string]*descriptor.Extension) (*archive.Archive, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	a := archive.New()

	var err error
	if ext, ok := readers["."+format]; ok {
		var factory ReaderFactory
		factory, err = c.readerFactory(ctx, ext)
		if err == nil {
			err = factory(a, c.archiveOpts...).Read(path)
		}
	} else {
		err = archive.ReadFile(a, path, c.archiveOpts...)
	}

	c.metrics.RecordArchiveRead(format, observability.Result(err))
	if err != nil {
		c.logger().Warnf("Failed to read descriptor file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	c.logger().Debugf("Read %d descriptors from %s", a.Len(), path)
	return a, nil
}

// readerFactory resolves an archive extension to its reader factory
func (c *Context) readerFactory(ctx context.Context, ext *descriptor.Extension) (ReaderFactory, error) {
	instance, err := c.resolveContribution(ctx, ext, defaultReaderSymbol)
	if err != nil {
		return nil, err
	}

	switch factory := instance.(type) {
	case ReaderFactory:
		return factory, nil
	case func(*archive.Archive, ...archive.Option) archive.Reader:
		return factory, nil
	default:
		return nil, fmt.Errorf("%w: extension %s resolved to %T, not a reader factory", errdefs.ErrResolution, ext.ID(), instance)
	}
}

// resolveContribution loads the module named by an extension's "module"
// config and resolves its "symbol" config with the extension as argument.
// Relative modules are tried under the contributing plugin's path first.
func (c *Context) resolveContribution(ctx context.Context, ext *descriptor.Extension, defaultSymbol string) (any, error) {
	module, ok := ext.Config("module")
	if !ok || module == "" {
		return nil, fmt.Errorf("%w: extension %s has no module", errdefs.ErrResolution, ext.ID())
	}
	symbol, ok := ext.Config("symbol")
	if !ok || symbol == "" {
		symbol = defaultSymbol
	}

	var refs []string
	if d := ext.Plugin(); d != nil && d.Path() != "" && !filepath.IsAbs(module) {
		refs = append(refs, filepath.Join(d.Path(), module))
	}
	refs = append(refs, module)

	var errs []error
	for _, ref := range refs {
		h, err := c.loader.LoadContext(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return h.ResolveContext(ctx, symbol, ext)
	}
	return nil, errors.Join(errs...)
}

// RegisterContributedBackends registers the loader backends contributed to
// ModuleExtPoint by installed plugins. A "kind" config overrides the kind
// the backend reports.
func (c *Context) RegisterContributedBackends(ctx context.Context) error {
	var errs []error
	for _, ext := range c.QueryExtensions(ModuleExtPoint) {
		instance, err := c.resolveContribution(ctx, ext, defaultBackendSymbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var backend loader.Backend
		switch b := instance.(type) {
		case loader.Backend:
			backend = b
		case *loader.Backend:
			backend = *b
		default:
			errs = append(errs, fmt.Errorf("%w: extension %s resolved to %T, not a backend", errdefs.ErrResolution, ext.ID(), instance))
			continue
		}
		if kind, ok := ext.Config("kind"); ok {
			backend.Kind = kind
		}

		if err := c.loader.RegisterBackend(backend); err != nil {
			errs = append(errs, fmt.Errorf("extension %s: %w", ext.ID(), err))
			continue
		}
		c.logger().Infof("Registered %q backend contributed by %s", backend.Kind, ext.ID())
	}
	return errors.Join(errs...)
}

// joinPath resolves path against dir. An empty path is dir itself.
func joinPath(dir, path string) string {
	switch {
	case path == "":
		return dir
	case filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(dir, path)
	}
}

// DefaultPluginDirectories returns the default plugin search directories
func DefaultPluginDirectories() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}

	dirs := []string{
		filepath.Join(homeDir, ".hinge", "plugins"),
		"/etc/hinge/plugins",
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "plugins"))
	}
	return append(dirs, "./plugins")
}
