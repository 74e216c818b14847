// Package gateway exposes the dispatcher over HTTP together with health, metrics and
// plugin administration endpoints.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/dispatch"
	"github.com/andrei-cloud/go_pluginhost/internal/logging"
	"github.com/andrei-cloud/go_pluginhost/internal/metrics"
	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SessionCookie carries the session identifier between requests.
const SessionCookie = "pluginhost_session"

const maxBodyBytes = 1 << 20

// Dispatcher serves web requests.
type Dispatcher interface {
	Handle(ctx context.Context, in dispatch.Inbound) (dispatch.Outbound, error)
}

// Registry is the plugin administration surface.
type Registry interface {
	List() []plugins.Record
	Install(ctx context.Context, id pluginapi.ID) error
	Enable(ctx context.Context, id pluginapi.ID) error
	Disable(ctx context.Context, id pluginapi.ID) error
	Uninstall(ctx context.Context, id pluginapi.ID) error
}

// Options configure a Gateway.
type Options struct {
	Dispatcher Dispatcher
	Registry   Registry
	Metrics    *metrics.Metrics
	Limiter    *RateLimiter
	// AdminToken enables the /admin routes when set.
	AdminToken string
	Logger     zerolog.Logger
}

// Gateway is the HTTP front of a node.
type Gateway struct {
	router     chi.Router
	dispatcher Dispatcher
	registry   Registry
	token      string
	log        zerolog.Logger
	active     atomic.Int32
}

// New builds the router.
func New(opts Options) *Gateway {
	g := &Gateway{
		router:     chi.NewRouter(),
		dispatcher: opts.Dispatcher,
		registry:   opts.Registry,
		token:      opts.AdminToken,
		log:        opts.Logger,
	}

	r := g.router
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.InstrumentHandler)
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if g.token != "" && g.registry != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(g.requireToken)
			r.Get("/plugins", g.listPlugins)
			r.Post("/plugins/{id}/{action}", g.pluginAction)
		})
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Handler)
		}
		r.HandleFunc("/*", g.serveDispatch)
	})

	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) serveDispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	active := g.active.Add(1)
	defer g.active.Add(-1)
	logging.LogRequest(r.RemoteAddr, r.Method, r.URL.Path, int(active))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}

	in := dispatch.Inbound{
		Path:       r.URL.Path,
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Headers:    r.Header.Clone(),
		Form:       formValues(r, body),
		Body:       body,
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		in.SessionID = c.Value
	}

	out, err := g.dispatcher.Handle(r.Context(), in)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dispatch.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		g.log.Error().Err(err).Str("event", "gateway_dispatch_failed").Str("path", r.URL.Path).Msg("dispatch failed")
		http.Error(w, http.StatusText(status), status)
		return
	}

	for k, vs := range out.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if out.ContentType != "" {
		w.Header().Set("Content-Type", out.ContentType)
	}
	if out.SessionID != "" && out.SessionID != in.SessionID {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    out.SessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	w.WriteHeader(out.Status)
	_, _ = w.Write(out.Body)

	logging.LogResponse(r.RemoteAddr, r.URL.Path, out.Status, len(out.Body), time.Since(start))
}

// formValues merges query parameters with an urlencoded body.
func formValues(r *http.Request, body []byte) url.Values {
	form := r.URL.Query()
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if posted, err := url.ParseQuery(string(body)); err == nil {
			for k, vs := range posted {
				form[k] = append(form[k], vs...)
			}
		}
	}

	return form
}

func (g *Gateway) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(g.token)) != 1 {
			g.log.Warn().Str("event", "admin_unauthorized").Str("client_ip", r.RemoteAddr).Msg("rejected admin request")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PluginInfo is the admin view of a loaded plugin.
type PluginInfo struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Version  string    `json:"version,omitempty"`
	Path     string    `json:"path,omitempty"`
	System   bool      `json:"system"`
	State    string    `json:"state"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (g *Gateway) listPlugins(w http.ResponseWriter, _ *http.Request) {
	records := g.registry.List()
	out := make([]PluginInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, PluginInfo{
			ID:       rec.ID.String(),
			Title:    rec.Title,
			Version:  rec.Version,
			Path:     rec.Path,
			System:   rec.System,
			State:    rec.State.String(),
			LoadedAt: rec.LoadedAt,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) pluginAction(w http.ResponseWriter, r *http.Request) {
	id, err := pluginapi.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var act func(context.Context, pluginapi.ID) error
	switch pluginapi.Action(chi.URLParam(r, "action")) {
	case pluginapi.ActionInstall:
		act = g.registry.Install
	case pluginapi.ActionEnable:
		act = g.registry.Enable
	case pluginapi.ActionDisable:
		act = g.registry.Disable
	case pluginapi.ActionUninstall:
		act = g.registry.Uninstall
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action"})
		return
	}

	if err := act(r.Context(), id); err != nil {
		g.log.Warn().
			Err(err).
			Str("event", "admin_action_failed").
			Str("plugin_id", id.String()).
			Str("action", chi.URLParam(r, "action")).
			Msg("plugin action failed")
		writeJSON(w, actionStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, plugins.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, plugins.ErrVetoed):
		return http.StatusForbidden
	case errors.Is(err, plugins.ErrSystemPlugin), errors.Is(err, plugins.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
