package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDispatch(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordDispatch("claimed", 10*time.Millisecond)
	m.RecordDispatch("claimed", 20*time.Millisecond)
	m.RecordDispatch("not_found", time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.dispatches.WithLabelValues("claimed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dispatches.WithLabelValues("not_found")), 0)
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordDispatch("claimed", time.Second)
	m.RecordLoad("loaded")
	m.SetLoaded(3)
	m.RecordWake("x")
}

func TestInstrumentHandler(t *testing.T) {
	t.Parallel()

	m := New()
	h := m.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blog/post/1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/blog", "418")), 0)

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), "pluginhost_http_requests_total")
}

func TestCanonicalPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", canonicalPath(""))
	assert.Equal(t, "/", canonicalPath("/"))
	assert.Equal(t, "/home", canonicalPath("/home/x/y"))
}
