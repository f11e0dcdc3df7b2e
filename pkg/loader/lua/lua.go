package lua

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/hinge/pkg/loader"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Kind is the loader kind Lua modules are registered under
const Kind = "lua"

// Suffix is appended to references that have none
const Suffix = ".lua"

// ErrModuleClosed is returned when calling into a closed module
var ErrModuleClosed = errors.New("lua module is closed")

// Option configures the modules a backend opens
type Option func(*config)

type config struct {
	timeout time.Duration
	globals map[string]any
	log     *logrus.Logger
}

// WithTimeout bounds each call into a module, including the initial
// execution of the file. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithGlobals defines globals before the module file runs
func WithGlobals(globals map[string]any) Option {
	return func(c *config) {
		if c.globals == nil {
			c.globals = make(map[string]any, len(globals))
		}
		for k, v := range globals {
			c.globals[k] = v
		}
	}
}

// WithLogger sets the logger print output is sent to
func WithLogger(log *logrus.Logger) Option {
	return func(c *config) { c.log = log }
}

func newConfig(opts ...Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.New()
	}
	return c
}

// Backend returns the backend serving .lua files
func Backend(opts ...Option) loader.Backend {
	return loader.Backend{Kind: Kind, Factory: Open, Arg: newConfig(opts...), Locate: Locate}
}

// Locate resolves ref on the search paths, appending .lua when ref has
// no suffix
func Locate(ref string, paths []string) (string, bool) {
	return loader.LocateFile(ref, paths, Suffix)
}

// Open is the loader factory for Lua modules. arg is the configuration
// bound by Backend; any other value selects the defaults.
func Open(path string, arg any) (loader.Module, error) {
	cfg, ok := arg.(*config)
	if !ok || cfg == nil {
		cfg = newConfig()
	}

	L := lua.NewState()
	m := &module{
		path:    path,
		L:       L,
		timeout: cfg.timeout,
		log:     cfg.log.WithField("module", path),
	}
	m.bridge = &bridge{L: L, m: m}

	L.SetGlobal("print", L.NewFunction(m.print))
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		current := lua.LVAsString(pkg.RawGetString("path"))
		pkg.RawSetString("path", lua.LString(filepath.Join(filepath.Dir(path), "?.lua")+";"+current))
	}
	for name, value := range cfg.globals {
		L.SetGlobal(name, m.bridge.toLua(value))
	}

	ctx, cancel := m.callContext(context.Background())
	defer cancel()
	if ctx != nil {
		L.SetContext(ctx)
	}
	err := L.DoFile(path)
	if ctx != nil {
		L.RemoveContext()
	}
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute lua module %s: %w", path, err)
	}

	return m, nil
}

type module struct {
	path    string
	timeout time.Duration
	log     *logrus.Entry

	mu     sync.Mutex
	L      *lua.LState
	bridge *bridge
}

func (m *module) Name() string { return m.path }

func (m *module) Lookup(symbol string) (loader.Symbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.L == nil {
		return nil, ErrModuleClosed
	}

	fn, ok := m.L.GetGlobal(symbol).(*lua.LFunction)
	if !ok {
		return nil, loader.NoSymbol(m.path, symbol)
	}

	return func(arg any) (any, error) {
		result, status, err := m.call(context.Background(), fn, arg)
		if err != nil {
			return nil, fmt.Errorf("lua function %s failed: %w", symbol, err)
		}
		if result == nil && status != lua.LNil {
			return nil, fmt.Errorf("lua function %s failed: %s", symbol, lua.LVAsString(status))
		}
		return result, nil
	}, nil
}

func (m *module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.L != nil {
		m.L.Close()
		m.L = nil
	}
	return nil
}

// callContext derives the per-call context. It returns a nil context when
// neither ctx nor the module timeout can ever cancel.
func (m *module) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(ctx, m.timeout)
	}
	if ctx.Done() == nil {
		return nil, func() {}
	}
	return ctx, func() {}
}

// call invokes fn with args under the module lock. It returns the first
// result converted to Go and the raw second result.
func (m *module) call(ctx context.Context, fn *lua.LFunction, args ...any) (any, lua.LValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.L == nil {
		return nil, lua.LNil, ErrModuleClosed
	}

	callCtx, cancel := m.callContext(ctx)
	defer cancel()
	if callCtx != nil {
		m.L.SetContext(callCtx)
		defer m.L.RemoveContext()
	}

	largs := make([]lua.LValue, 0, len(args))
	for _, arg := range args {
		largs = append(largs, m.bridge.toLua(arg))
	}

	if err := m.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, largs...); err != nil {
		return nil, lua.LNil, err
	}

	first, second := m.L.Get(-2), m.L.Get(-1)
	m.L.Pop(2)
	return m.bridge.toGo(first), second, nil
}

func (m *module) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	m.log.Info(strings.Join(parts, "\t"))
	return 0
}
