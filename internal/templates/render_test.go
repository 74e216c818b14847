package templates

import (
	"strings"
	"testing"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPage(t *testing.T) {
	t.Parallel()

	s := NewStore(zerolog.Nop())
	require.NoError(t, RegisterCore(s))
	require.True(t, s.Put(p1, "home/index", `<p>hello {{.name}} {{fn "shout" "hi"}}</p>`))
	require.True(t, s.RegisterFunction(p1, "shout", func(args ...string) (string, error) {
		return strings.ToUpper(strings.Join(args, " ")), nil
	}))

	r := NewRenderer(s)
	out, err := r.Render(PagePath, map[string]any{
		"title":   "Home",
		"content": "home/index",
		"name":    "<bob>",
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>Home</title>")
	assert.Contains(t, string(out), "<p>hello &lt;bob&gt; HI</p>")
}

func TestRenderNotFound(t *testing.T) {
	t.Parallel()

	s := NewStore(zerolog.Nop())
	r := NewRenderer(s)
	_, err := r.Render("missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenderCacheInvalidation(t *testing.T) {
	t.Parallel()

	s := NewStore(zerolog.Nop())
	require.True(t, s.Put(p1, "x", "one"))
	r := NewRenderer(s)

	out, err := r.Render("x", nil)
	require.NoError(t, err)
	assert.Equal(t, "one", string(out))

	s.RemoveByOwner(p1)
	require.True(t, s.Put(p2, "x", "two"))
	out, err = r.Render("x", nil)
	require.NoError(t, err)
	assert.Equal(t, "two", string(out))
}

func TestRenderIncludeDepth(t *testing.T) {
	t.Parallel()

	s := NewStore(zerolog.Nop())
	require.True(t, s.Put(pluginapi.NoOwner, "loop", `{{include "loop" .}}`))
	_, err := NewRenderer(s).Render("loop", nil)
	assert.Error(t, err)
}
