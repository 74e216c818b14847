package pluginapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"
)

// Conn is the persistence connection handed to plugins for the duration of one request.
type Conn interface {
	Read(ctx context.Context, dest any, query string, args ...any) error
	Execute(ctx context.Context, query string, args ...any) (sql.Result, error)
	ExecuteScalar(ctx context.Context, query string, args ...any) (any, error)
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
}

// Session is the per-client state persisted between requests.
type Session struct {
	ID      string            `json:"id"`
	Values  map[string]string `json:"values"`
	Private bool              `json:"-"`
	dirty   bool
}

// NewSession returns an empty session with the given identifier.
func NewSession(id string) *Session {
	return &Session{ID: id, Values: make(map[string]string)}
}

// Get returns a session value.
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Set stores a session value and marks the session for persistence.
func (s *Session) Set(key, value string) {
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[key] = value
	s.dirty = true
}

// Delete removes a session value.
func (s *Session) Delete(key string) {
	if _, ok := s.Values[key]; ok {
		delete(s.Values, key)
		s.dirty = true
	}
}

// Dirty reports whether the session changed since it was loaded.
func (s *Session) Dirty() bool {
	return s.dirty
}

// Response is built up by the claiming plugin and by hook subscribers.
type Response struct {
	Status      int
	ContentType string
	Headers     http.Header
	Body        []byte
	// Page is the template rendered around Data when Body is left empty.
	Page string
	Data map[string]any
}

// Request is the per-request context combining the inbound request, session and connection.
type Request struct {
	Path       string
	Segments   []string
	Method     string
	RemoteAddr string
	Headers    http.Header
	Form       url.Values
	Body       []byte
	Session    *Session
	Conn       Conn
	Response   *Response
}

// SetData stores a value for the page template.
func (r *Request) SetData(key string, value any) {
	if r.Response.Data == nil {
		r.Response.Data = make(map[string]any)
	}
	r.Response.Data[key] = value
}

// Write sets the response body directly, bypassing page rendering.
func (r *Request) Write(contentType string, body []byte) {
	r.Response.ContentType = contentType
	r.Response.Body = body
}
