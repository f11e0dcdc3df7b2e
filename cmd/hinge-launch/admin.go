package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/errdefs"
	"github.com/platinummonkey/hinge/pkg/httputil"
	"github.com/platinummonkey/hinge/pkg/observability"
	"github.com/platinummonkey/hinge/pkg/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// pluginSummary is the admin view of an installed plugin
type pluginSummary struct {
	ID         string               `json:"id"`
	Name       string               `json:"name,omitempty"`
	Version    string               `json:"version,omitempty"`
	Provider   string               `json:"provider,omitempty"`
	Path       string               `json:"path,omitempty"`
	Module     string               `json:"module,omitempty"`
	Symbol     string               `json:"symbol,omitempty"`
	Started    bool                 `json:"started"`
	Requires   []descriptor.Require `json:"requires,omitempty"`
	ExtPoints  []string             `json:"extpoints,omitempty"`
	Extensions []extensionSummary   `json:"extensions,omitempty"`
}

type extensionSummary struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	ExtPoint string            `json:"extpoint"`
	Plugin   string            `json:"plugin,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
}

type extpointSummary struct {
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	Plugin     string             `json:"plugin"`
	Extensions []extensionSummary `json:"extensions"`
}

type resolveSummary struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

type loadRequest struct {
	Target    string `json:"target"`
	Recursive bool   `json:"recursive"`
	Start     bool   `json:"start"`
}

func summarizePlugin(c *plugins.Context, d *descriptor.Descriptor) pluginSummary {
	s := pluginSummary{
		ID:       d.ID(),
		Name:     d.Name(),
		Version:  d.Version(),
		Provider: d.Provider(),
		Path:     d.Path(),
		Module:   d.Module(),
		Symbol:   d.Symbol(),
		Started:  c.Started(d.ID()),
		Requires: d.Requires(),
	}
	for _, ep := range d.ExtPoints() {
		s.ExtPoints = append(s.ExtPoints, ep.ID())
	}
	for _, ext := range d.Extensions() {
		s.Extensions = append(s.Extensions, summarizeExtension(ext))
	}
	return s
}

func summarizeExtension(ext *descriptor.Extension) extensionSummary {
	s := extensionSummary{ID: ext.ID(), Name: ext.Name(), ExtPoint: ext.ExtPointID()}
	if d := ext.Plugin(); d != nil {
		s.Plugin = d.ID()
	}
	if configs := ext.Configs(); len(configs) > 0 {
		s.Config = make(map[string]string, len(configs))
		for _, cfg := range configs {
			s.Config[cfg.Key] = cfg.Value
		}
	}
	return s
}

// adminServer serves the plugin context over HTTP
type adminServer struct {
	ctx *plugins.Context
	log *logrus.Logger
}

// newAdminHandler builds the admin router. gatherer may be nil when
// metrics are disabled.
func newAdminHandler(c *plugins.Context, log *logrus.Logger, metrics *observability.Metrics, gatherer prometheus.Gatherer) http.Handler {
	s := &adminServer{ctx: c, log: log}

	router := mux.NewRouter()
	router.Use(httputil.RecoveryMiddleware(log), httputil.LoggingMiddleware(log), observability.HTTPMetricsMiddleware(metrics))

	router.HandleFunc("/plugins", s.listPlugins).Methods(http.MethodGet)
	router.HandleFunc("/plugins", s.loadPlugins).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}", s.getPlugin).Methods(http.MethodGet)
	router.HandleFunc("/plugins/{id}", s.uninstallPlugin).Methods(http.MethodDelete)
	router.HandleFunc("/plugins/{id}/start", s.startPlugin).Methods(http.MethodPost)
	router.HandleFunc("/plugins/{id}/stop", s.stopPlugin).Methods(http.MethodPost)
	router.HandleFunc("/extpoints", s.listExtPoints).Methods(http.MethodGet)
	router.HandleFunc("/extpoints/{id}", s.getExtPoint).Methods(http.MethodGet)
	router.HandleFunc("/extpoints/{id}/resolve", s.resolveExtPoint).Methods(http.MethodPost)
	router.HandleFunc("/backends", s.listBackends).Methods(http.MethodGet)
	router.HandleFunc("/backends/{kind}", s.unregisterBackend).Methods(http.MethodDelete)

	checker := observability.NewHealthChecker()
	checker.AddCheck("plugins", true, func(context.Context) error {
		if c.Len() == 0 {
			return fmt.Errorf("no plugins installed")
		}
		return nil
	})
	checker.AddCheck("last_error", false, func(context.Context) error { return c.LastError() })
	observability.RegisterHealthRoutes(router, checker)

	if gatherer != nil {
		observability.RegisterMetricsEndpoint(router, gatherer)
	}

	return otelhttp.NewHandler(router, "hinge-admin")
}

func (s *adminServer) listPlugins(w http.ResponseWriter, r *http.Request) {
	var filter plugins.Filter
	if provider := httputil.ParseQueryString(r, "provider", ""); provider != "" {
		filter = plugins.ByProvider(provider)
	} else if prefix := httputil.ParseQueryString(r, "prefix", ""); prefix != "" {
		filter = plugins.ByIDPrefix(prefix)
	}

	ds := s.ctx.QueryAll(filter)
	out := make([]pluginSummary, 0, len(ds))
	for _, d := range ds {
		out = append(out, summarizePlugin(s.ctx, d))
	}
	httputil.WriteSuccess(w, out)
}

func (s *adminServer) getPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	d, ok := s.ctx.Query(id)
	if !ok {
		httputil.WriteNotFoundError(w, "plugin not installed: "+id)
		return
	}
	httputil.WriteSuccess(w, summarizePlugin(s.ctx, d))
}

func (s *adminServer) loadPlugins(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Target == "" {
		httputil.WriteBadRequest(w, "target is required")
		return
	}

	installed, err := s.ctx.LoadPlugins(r.Context(), req.Target, req.Recursive)
	if err != nil && len(installed) == 0 {
		httputil.WriteErr(w, err)
		return
	}
	if err != nil {
		s.log.Warnf("Partial load of %s: %v", req.Target, err)
	}

	out := make([]pluginSummary, 0, len(installed))
	for _, d := range installed {
		if req.Start {
			if err := s.ctx.Start(r.Context(), d.ID()); err != nil {
				s.log.Warnf("Failed to start plugin %s: %v", d.ID(), err)
			}
		}
		out = append(out, summarizePlugin(s.ctx, d))
	}
	httputil.WriteJSON(w, http.StatusCreated, out)
}

func (s *adminServer) uninstallPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.ctx.Stop(r.Context(), id); err != nil && !errdefs.IsNotFound(err) {
		s.log.Warnf("Failed to stop plugin %s before uninstall: %v", id, err)
	}
	if err := s.ctx.Uninstall(id); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *adminServer) startPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.ctx.Start(r.Context(), id); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	d, _ := s.ctx.Query(id)
	httputil.WriteSuccess(w, summarizePlugin(s.ctx, d))
}

func (s *adminServer) stopPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.ctx.Stop(r.Context(), id); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	d, _ := s.ctx.Query(id)
	httputil.WriteSuccess(w, summarizePlugin(s.ctx, d))
}

func (s *adminServer) listExtPoints(w http.ResponseWriter, _ *http.Request) {
	eps := s.ctx.QueryExtPoints()
	out := make([]extpointSummary, 0, len(eps))
	for _, ep := range eps {
		out = append(out, s.summarizeExtPoint(ep))
	}
	httputil.WriteSuccess(w, out)
}

func (s *adminServer) getExtPoint(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ep, ok := s.ctx.QueryExtPoint(id)
	if !ok {
		httputil.WriteNotFoundError(w, "extension point not installed: "+id)
		return
	}
	httputil.WriteSuccess(w, s.summarizeExtPoint(ep))
}

// resolveExtPoint resolves the extension point's instance. Values with no
// JSON form are reported by type only.
func (s *adminServer) resolveExtPoint(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	seq := s.ctx.ErrorSeq()
	instance := s.ctx.ResolveExtPoint(r.Context(), id)
	if s.ctx.ErrorSeq() != seq {
		httputil.WriteErr(w, s.ctx.LastError())
		return
	}

	out := resolveSummary{ID: id, Type: fmt.Sprintf("%T", instance)}
	switch instance.(type) {
	case nil, bool, string, int, int64, float64, []any, map[string]any:
		out.Value = instance
	}
	httputil.WriteSuccess(w, out)
}

func (s *adminServer) listBackends(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteSuccess(w, s.ctx.Loader().Kinds())
}

func (s *adminServer) unregisterBackend(w http.ResponseWriter, r *http.Request) {
	kind, ok := httputil.ParsePathStringOrError(w, r, "kind")
	if !ok {
		return
	}
	if !s.ctx.Loader().Unregister(kind) {
		httputil.WriteNotFoundError(w, "no backend registered for kind: "+kind)
		return
	}
	s.log.Infof("Unregistered module backend for kind %q", kind)
	httputil.WriteNoContent(w)
}

func (s *adminServer) summarizeExtPoint(ep *descriptor.ExtPoint) extpointSummary {
	out := extpointSummary{ID: ep.ID(), Name: ep.Name(), Extensions: []extensionSummary{}}
	if d := ep.Plugin(); d != nil {
		out.Plugin = d.ID()
	}
	for _, ext := range s.ctx.QueryExtensions(ep.ID()) {
		out.Extensions = append(out.Extensions, summarizeExtension(ext))
	}
	return out
}

// printPlugins writes a table of the installed plugins to w
func (l *launcher) printPlugins(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tSTATE\tPATH")
	for _, d := range l.ctx.QueryAll(nil) {
		state := "installed"
		if l.ctx.Started(d.ID()) {
			state = "started"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID(), d.Version(), state, d.Path())
	}
	tw.Flush()
}
