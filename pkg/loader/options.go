package loader

import (
	"github.com/platinummonkey/hinge/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSymbolCacheSize bounds the number of resolved instances a handle
// keeps per module
const DefaultSymbolCacheSize = 64

// Option configures a Loader
type Option func(*Loader)

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *Loader) { l.metrics = metrics }
}

// WithTracer sets the tracer used for load and resolve spans
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loader) { l.tracer = tracer }
}

// WithPaths appends search path directories
func WithPaths(dirs ...string) Option {
	return func(l *Loader) {
		for _, dir := range dirs {
			l.addPathLocked(dir)
		}
	}
}

// WithModuleCache enables or disables the per-path module cache. It is
// enabled by default.
func WithModuleCache(enabled bool) Option {
	return func(l *Loader) { l.cacheEnabled = enabled }
}

// WithSymbolCacheSize bounds the resolved-instance cache of every handle
func WithSymbolCacheSize(size int) Option {
	return func(l *Loader) {
		if size > 0 {
			l.symbolCacheSize = size
		}
	}
}

// ResolveOption configures a Handle.Resolve call
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	cache bool
}

// WithCache controls instance reuse. With true, the default, an instance
// previously resolved for the symbol is returned and a newly built one is
// remembered. With false a fresh instance is always built and the
// remembered one is left untouched.
func WithCache(enabled bool) ResolveOption {
	return func(o *resolveOptions) { o.cache = enabled }
}
