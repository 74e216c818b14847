// Package dispatch routes inbound web requests to the plugin that claims them and
// renders the resulting page.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andrei-cloud/go_pluginhost/internal/hooks"
	"github.com/andrei-cloud/go_pluginhost/internal/metrics"
	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/andrei-cloud/go_pluginhost/internal/routing"
	"github.com/andrei-cloud/go_pluginhost/internal/templates"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Events published around every request.
const (
	EventRequestStart = "core.web.request_start"
	EventRequest404   = "core.web.request_404"
	EventRequestEnd   = "core.web.request_end"
)

// DefaultPath replaces an empty request path.
const DefaultPath = "home"

// Template data keys set by the dispatcher.
const (
	DataContent = "content"
	DataPath    = "path"
	DataNode    = "node"
	DataElapsed = "elapsed_ms"
)

// Dispatch outcomes used as metric labels.
const (
	OutcomeClaimed  = "claimed"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// ErrUnavailable is returned when a request cannot be served at all.
var ErrUnavailable = errors.New("dispatcher unavailable")

// Inbound is a web request as received from the gateway or a remote node.
type Inbound struct {
	Path       string      `json:"path"`
	Method     string      `json:"method,omitempty"`
	RemoteAddr string      `json:"remote_addr,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
	Form       url.Values  `json:"form,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	SessionID  string      `json:"session_id,omitempty"`
}

// Outbound is the rendered reply.
type Outbound struct {
	Status      int         `json:"status"`
	ContentType string      `json:"content_type"`
	Headers     http.Header `json:"headers,omitempty"`
	Body        []byte      `json:"body"`
	SessionID   string      `json:"session_id,omitempty"`
	// Owner is the plugin that claimed the request; empty when none did.
	Owner string `json:"owner,omitempty"`
}

// HandlerSource looks up request handlers of enabled plugins.
type HandlerSource interface {
	RequestHandler(id pluginapi.ID) (pluginapi.RequestHandler, bool)
}

// SessionStore loads and persists client sessions.
type SessionStore interface {
	Load(ctx context.Context, id string) (*pluginapi.Session, error)
	Save(ctx context.Context, s *pluginapi.Session) error
}

// Options configure a Dispatcher.
type Options struct {
	Hooks    *hooks.Directory
	Routes   *routing.Trie
	Handlers HandlerSource
	Renderer *templates.Renderer
	Sessions SessionStore
	Conns    plugins.ConnProvider
	Metrics  *metrics.Metrics
	Node     string
	Logger   zerolog.Logger
}

// Dispatcher runs the request flow: start event, candidate resolution, not-found
// handling, end event and page rendering.
type Dispatcher struct {
	hooks    *hooks.Directory
	routes   *routing.Trie
	handlers HandlerSource
	renderer *templates.Renderer
	sessions SessionStore
	conns    plugins.ConnProvider
	metrics  *metrics.Metrics
	node     string
	log      zerolog.Logger
	now      func() time.Time
}

// New returns a Dispatcher. Without a session store sessions live for one request.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		hooks:    opts.Hooks,
		routes:   opts.Routes,
		handlers: opts.Handlers,
		renderer: opts.Renderer,
		sessions: opts.Sessions,
		conns:    opts.Conns,
		metrics:  opts.Metrics,
		node:     opts.Node,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// NormalizePath trims slashes and maps the empty path to DefaultPath.
func NormalizePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return DefaultPath
	}

	return p
}

// Handle serves one request.
func (d *Dispatcher) Handle(ctx context.Context, in Inbound) (out Outbound, err error) {
	start := d.now()
	outcome := OutcomeError
	defer func() {
		d.metrics.RecordDispatch(outcome, d.now().Sub(start))
	}()

	sess := d.loadSession(ctx, in.SessionID)

	var conn plugins.Conn
	if d.conns != nil {
		conn, err = d.conns.Acquire(ctx)
		if err != nil {
			d.log.Error().Err(err).Str("event", "request_conn_failed").Str("path", in.Path).Msg("failed to acquire connection")
			return Outbound{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	defer func() {
		d.saveSession(ctx, sess)
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				d.log.Warn().Err(cerr).Str("event", "request_conn_close_failed").Msg("failed to release connection")
			}
		}
	}()

	path := NormalizePath(in.Path)
	req := &pluginapi.Request{
		Path:       path,
		Segments:   routing.Segments(path),
		Method:     in.Method,
		RemoteAddr: in.RemoteAddr,
		Headers:    in.Headers,
		Form:       in.Form,
		Body:       in.Body,
		Session:    sess,
		Response: &pluginapi.Response{
			Status:  http.StatusOK,
			Headers: make(http.Header),
			Data:    map[string]any{DataPath: path},
		},
	}
	if conn != nil {
		req.Conn = conn
	}

	d.hooks.PublishAll(ctx, EventRequestStart, req)

	owner, claimed := d.claim(ctx, req)
	if claimed {
		outcome = OutcomeClaimed
	} else {
		outcome = OutcomeNotFound
		req.Response.Status = http.StatusNotFound
		if !d.hooks.PublishFirst(ctx, EventRequest404, req) {
			req.SetData(DataContent, templates.NotFoundPath)
		}
	}

	d.hooks.PublishAll(ctx, EventRequestEnd, req)

	req.SetData(DataNode, d.node)
	req.SetData(DataElapsed, d.now().Sub(start).Milliseconds())

	if req.Response.Body == nil {
		d.render(req)
	}

	out = Outbound{
		Status:      req.Response.Status,
		ContentType: req.Response.ContentType,
		Headers:     req.Response.Headers,
		Body:        req.Response.Body,
		SessionID:   sess.ID,
	}
	if claimed {
		out.Owner = owner.String()
	}
	if req.Response.Status >= http.StatusInternalServerError {
		outcome = OutcomeError
	}

	return out, nil
}

// claim offers the request to every candidate deepest first until one claims it.
func (d *Dispatcher) claim(ctx context.Context, req *pluginapi.Request) (pluginapi.ID, bool) {
	for _, id := range d.routes.Resolve(req.Path) {
		h, ok := d.handlers.RequestHandler(id)
		if !ok {
			continue
		}

		claimed, err := d.try(ctx, h, req)
		if err != nil {
			d.log.Warn().
				Err(err).
				Str("event", "request_handler_failed").
				Str("plugin_id", id.String()).
				Str("path", req.Path).
				Msg("request handler failed, trying next candidate")
			continue
		}
		if claimed {
			return id, true
		}
	}

	return pluginapi.NoOwner, false
}

func (d *Dispatcher) try(ctx context.Context, h pluginapi.RequestHandler, req *pluginapi.Request) (claimed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			claimed, err = false, fmt.Errorf("panic: %v", r)
		}
	}()

	return h.HandleRequest(ctx, req)
}

func (d *Dispatcher) render(req *pluginapi.Request) {
	page := req.Response.Page
	if page == "" {
		page = templates.PagePath
	}

	body, err := d.renderer.Render(page, req.Response.Data)
	if err != nil {
		d.log.Error().
			Err(err).
			Str("event", "render_failed").
			Str("template", page).
			Str("path", req.Path).
			Msg("failed to render page")
		req.Response.Status = http.StatusInternalServerError
		req.Write("text/plain; charset=utf-8", []byte(http.StatusText(http.StatusInternalServerError)))
		return
	}

	if req.Response.ContentType == "" {
		req.Response.ContentType = "text/html; charset=utf-8"
	}
	req.Response.Body = body
}

func (d *Dispatcher) loadSession(ctx context.Context, id string) *pluginapi.Session {
	if d.sessions == nil {
		return pluginapi.NewSession(uuid.NewString())
	}

	sess, err := d.sessions.Load(ctx, id)
	if err != nil {
		d.log.Error().Err(err).Str("event", "session_load_failed").Msg("failed to load session, using a fresh one")
		return pluginapi.NewSession(uuid.NewString())
	}

	return sess
}

func (d *Dispatcher) saveSession(ctx context.Context, sess *pluginapi.Session) {
	if d.sessions == nil {
		return
	}
	if err := d.sessions.Save(ctx, sess); err != nil {
		d.log.Error().Err(err).Str("event", "session_save_failed").Str("session_id", sess.ID).Msg("failed to persist session")
	}
}
