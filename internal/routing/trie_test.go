package routing

import (
	"sync"
	"testing"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	p1 = pluginapi.MustParseID("11111111-1111-1111-1111-111111111111")
	p2 = pluginapi.MustParseID("22222222-2222-2222-2222-222222222222")
	p3 = pluginapi.MustParseID("33333333-3333-3333-3333-333333333333")
)

func TestSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{in: "home", want: []string{"home"}},
		{in: "/home/", want: []string{"home"}},
		{in: " /a/b/c ", want: []string{"a", "b", "c"}},
		{in: "", want: nil},
		{in: "/", want: nil},
		{in: "//", want: nil},
		{in: "a//b", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Segments(tt.in))
		})
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	assert.Equal(t, Success, tr.Register(p1, "a/b"))
	assert.Equal(t, AlreadyExists, tr.Register(p2, "a/b"))
	assert.Equal(t, AlreadyExists, tr.Register(p1, "/a/b/"))
	// "a" exists only as a transit node, so it can still be claimed.
	assert.Equal(t, Success, tr.Register(p2, "a"))
	assert.Equal(t, Malformed, tr.Register(p1, ""))
	assert.Equal(t, Malformed, tr.Register(p1, "a//c"))
	assert.Equal(t, Malformed, tr.Register(pluginapi.NoOwner, "x"))

	assert.Equal(t, []Route{{Path: "a", Owner: p2}, {Path: "a/b", Owner: p1}}, tr.Routes())
}

func TestResolveDeduplicatesOwner(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	require.Equal(t, Success, tr.Register(p1, "a"))
	require.Equal(t, Success, tr.Register(p1, "a/b"))
	require.Equal(t, Success, tr.Register(p1, "a/b/c"))

	assert.Equal(t, []pluginapi.ID{p1}, tr.Resolve("a/b/c/d"))
}

func TestResolveDeepestFirst(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	require.Equal(t, Success, tr.Register(p1, "a"))
	require.Equal(t, Success, tr.Register(p2, "a/b"))
	require.Equal(t, Success, tr.Register(p3, "a/b/c"))

	assert.Equal(t, []pluginapi.ID{p2, p1}, tr.Resolve("a/b/x"))
	assert.Equal(t, []pluginapi.ID{p3, p2, p1}, tr.Resolve("/a/b/c/"))
	assert.Equal(t, []pluginapi.ID{p1}, tr.Resolve("a"))
}

func TestResolveMisses(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	require.Equal(t, Success, tr.Register(p1, "a/b"))

	assert.Empty(t, tr.Resolve("a"))
	assert.Empty(t, tr.Resolve("other"))
	assert.NotNil(t, tr.Resolve(""))
	assert.Empty(t, tr.Resolve("a//b"))
}

func TestPurgeRoundTrip(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	require.Equal(t, Success, tr.Register(p1, "home"))
	assert.Equal(t, []pluginapi.ID{p1}, tr.Resolve("home"))

	tr.Purge(p1)
	assert.Empty(t, tr.Resolve("home"))
	assert.Empty(t, tr.Routes())

	// second purge is a no-op
	tr.Purge(p1)
	assert.Empty(t, tr.Routes())

	assert.Equal(t, Success, tr.Register(p2, "home"))
}

func TestPurgeKeepsDescendants(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	require.Equal(t, Success, tr.Register(p1, "a"))
	require.Equal(t, Success, tr.Register(p2, "a/b"))
	require.Equal(t, Success, tr.Register(p1, "a/b/c"))

	tr.Purge(p1)

	assert.Equal(t, []Route{{Path: "a/b", Owner: p2}}, tr.Routes())
	assert.Equal(t, []pluginapi.ID{p2}, tr.Resolve("a/b/c"))

	tr.Purge(p2)
	assert.Empty(t, tr.Routes())
	assert.Empty(t, tr.root.children)
}

func TestReset(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	require.Equal(t, Success, tr.Register(p1, "a"))
	tr.Reset()
	assert.Empty(t, tr.Resolve("a"))
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	tr := NewTrie()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Register(p1, "a/b")
			tr.Purge(p1)
		}()
		go func() {
			defer wg.Done()
			_ = tr.Resolve("a/b/c")
		}()
	}
	wg.Wait()
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "malformed", Malformed.String())
	assert.Equal(t, "already_exists", AlreadyExists.String())
}
