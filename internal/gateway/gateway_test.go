package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andrei-cloud/go_pluginhost/internal/dispatch"
	"github.com/andrei-cloud/go_pluginhost/internal/metrics"
	"github.com/andrei-cloud/go_pluginhost/internal/plugins"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pluginID = pluginapi.MustParseID("44444444-4444-4444-4444-444444444444")

type recordingDispatcher struct {
	last dispatch.Inbound
	err  error
}

func (d *recordingDispatcher) Handle(_ context.Context, in dispatch.Inbound) (dispatch.Outbound, error) {
	d.last = in
	if d.err != nil {
		return dispatch.Outbound{}, d.err
	}

	return dispatch.Outbound{
		Status:      http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Headers:     http.Header{"X-Plugin": {"home"}},
		Body:        []byte("<p>hi</p>"),
		SessionID:   "sess-1",
	}, nil
}

type fakeRegistry struct {
	actions []string
	err     error
}

func (f *fakeRegistry) List() []plugins.Record {
	return []plugins.Record{{ID: pluginID, Title: "Home", State: plugins.Enabled, Version: "1.0.0"}}
}

func (f *fakeRegistry) record(action string) error {
	f.actions = append(f.actions, action)
	return f.err
}

func (f *fakeRegistry) Install(context.Context, pluginapi.ID) error   { return f.record("install") }
func (f *fakeRegistry) Enable(context.Context, pluginapi.ID) error    { return f.record("enable") }
func (f *fakeRegistry) Disable(context.Context, pluginapi.ID) error   { return f.record("disable") }
func (f *fakeRegistry) Uninstall(context.Context, pluginapi.ID) error { return f.record("uninstall") }

func newGateway(d Dispatcher, reg Registry, limiter *RateLimiter) (*Gateway, *metrics.Metrics) {
	m := metrics.New()
	return New(Options{
		Dispatcher: d,
		Registry:   reg,
		Metrics:    m,
		Limiter:    limiter,
		AdminToken: "secret",
		Logger:     zerolog.Nop(),
	}), m
}

func TestGatewayDispatch(t *testing.T) {
	t.Parallel()

	d := &recordingDispatcher{}
	g, m := newGateway(d, &fakeRegistry{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/blog/post?id=7", strings.NewReader("title=Hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>hi</p>", rec.Body.String())
	assert.Equal(t, "home", rec.Header().Get("X-Plugin"))
	assert.Equal(t, "/blog/post", d.last.Path)
	assert.Equal(t, "7", d.last.Form.Get("id"))
	assert.Equal(t, "Hello", d.last.Form.Get("title"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Equal(t, "sess-1", cookies[0].Value)

	// A known session is passed through and not re-issued.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sess-1"})
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	assert.Equal(t, "sess-1", d.last.SessionID)
	assert.Empty(t, rec.Result().Cookies())

	series, err := testutil.GatherAndCount(m.Registry(), "pluginhost_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestGatewayDispatchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", dispatch.ErrUnavailable), http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		g, _ := newGateway(&recordingDispatcher{err: tt.err}, nil, nil)
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, tt.want, rec.Code)
	}
}

func TestGatewayHealthAndMetrics(t *testing.T) {
	t.Parallel()

	g, _ := newGateway(&recordingDispatcher{}, nil, nil)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pluginhost_http_requests_total")
}

func TestGatewayAdmin(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	g, _ := newGateway(&recordingDispatcher{}, reg, nil)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/plugins", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, header := range []string{"secret", "bearer secret", "Bearer wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/admin/plugins", nil)
		req.Header.Set("Authorization", header)
		rec = httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/plugins", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []PluginInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, pluginID.String(), list[0].ID)
	assert.Equal(t, "enabled", list[0].State)

	req = httptest.NewRequest(http.MethodPost, "/admin/plugins/"+pluginID.String()+"/disable", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"disable"}, reg.actions)

	req = httptest.NewRequest(http.MethodPost, "/admin/plugins/"+pluginID.String()+"/explode", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActionStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusNotFound, actionStatus(plugins.ErrNotFound))
	assert.Equal(t, http.StatusConflict, actionStatus(fmt.Errorf("x: %w", plugins.ErrSystemPlugin)))
	assert.Equal(t, http.StatusForbidden, actionStatus(&plugins.VetoError{Action: pluginapi.ActionDisable}))
	assert.Equal(t, http.StatusInternalServerError, actionStatus(assert.AnError))
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, 2, zerolog.Nop())
	g, _ := newGateway(&recordingDispatcher{}, nil, limiter)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/home", nil)
		req.RemoteAddr = "10.1.1.1:5555"
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health checks are not throttled.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, limiter.Len())

	limiter.Cleanup()
	assert.Equal(t, 1, limiter.Len())
}
