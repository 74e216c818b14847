package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	p1 = pluginapi.MustParseID("11111111-1111-1111-1111-111111111111")
	p2 = pluginapi.MustParseID("22222222-2222-2222-2222-222222222222")
	p3 = pluginapi.MustParseID("33333333-3333-3333-3333-333333333333")
)

type fakePlugin struct {
	id      pluginapi.ID
	events  []string
	err     error
	handled bool
	panics  bool
	calls   *[]pluginapi.ID
}

func (f *fakePlugin) ID() pluginapi.ID { return f.id }
func (f *fakePlugin) Title() string    { return "fake" }

func (f *fakePlugin) DeclareHooks(s pluginapi.HookSubscriber) error {
	for _, e := range f.events {
		s.Subscribe(e)
	}
	return f.err
}

func (f *fakePlugin) HandleHook(_ context.Context, _ string, _ ...any) bool {
	*f.calls = append(*f.calls, f.id)
	if f.panics {
		panic("boom")
	}
	return f.handled
}

func newDir(plugins ...*fakePlugin) *Directory {
	d := NewDirectory(zerolog.Nop())
	byID := make(map[pluginapi.ID]*fakePlugin)
	for _, p := range plugins {
		byID[p.id] = p
	}
	d.SetResolver(ResolverFunc(func(id pluginapi.ID) (pluginapi.HookHandler, bool) {
		p, ok := byID[id]
		return p, ok
	}))
	return d
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	d := NewDirectory(zerolog.Nop())
	assert.True(t, d.Subscribe(p1, "ev"))
	assert.False(t, d.Subscribe(p1, "ev"))
	assert.True(t, d.Subscribe(p2, "ev"))
	assert.False(t, d.Subscribe(p1, ""))
	assert.False(t, d.Subscribe(pluginapi.NoOwner, "ev"))

	assert.Equal(t, []pluginapi.ID{p1, p2}, d.Subscribers("ev"))
	assert.NotNil(t, d.Subscribers("unknown"))
	assert.Empty(t, d.Subscribers("unknown"))
}

func TestUnsubscribeAndRemoveOwner(t *testing.T) {
	t.Parallel()

	d := NewDirectory(zerolog.Nop())
	d.Subscribe(p1, "a")
	d.Subscribe(p1, "b")
	d.Subscribe(p2, "b")

	assert.True(t, d.Unsubscribe(p1, "a"))
	assert.False(t, d.Unsubscribe(p1, "a"))
	assert.Equal(t, []string{"b"}, d.Events())

	assert.Equal(t, 1, d.RemoveOwner(p1))
	assert.Equal(t, 0, d.RemoveOwner(p1))
	assert.Equal(t, []pluginapi.ID{p2}, d.Subscribers("b"))
}

func TestPublishFirst(t *testing.T) {
	t.Parallel()

	var calls []pluginapi.ID
	a := &fakePlugin{id: p1, calls: &calls}
	b := &fakePlugin{id: p2, handled: true, calls: &calls}
	c := &fakePlugin{id: p3, handled: true, calls: &calls}
	d := newDir(a, b, c)
	for _, p := range []*fakePlugin{a, b, c} {
		d.Subscribe(p.id, "ev")
	}

	assert.True(t, d.PublishFirst(context.Background(), "ev"))
	assert.Equal(t, []pluginapi.ID{p1, p2}, calls)

	assert.False(t, d.PublishFirst(context.Background(), "nobody"))
}

func TestPublishAll(t *testing.T) {
	t.Parallel()

	var calls []pluginapi.ID
	a := &fakePlugin{id: p1, handled: true, calls: &calls}
	b := &fakePlugin{id: p2, panics: true, calls: &calls}
	c := &fakePlugin{id: p3, calls: &calls}
	d := newDir(a, b, c)
	for _, p := range []*fakePlugin{a, b, c} {
		d.Subscribe(p.id, "ev")
	}

	d.PublishAll(context.Background(), "ev", 1, "x")
	assert.Equal(t, []pluginapi.ID{p1, p2, p3}, calls)
}

func TestPublishWithoutResolver(t *testing.T) {
	t.Parallel()

	d := NewDirectory(zerolog.Nop())
	d.Subscribe(p1, "ev")
	assert.False(t, d.PublishFirst(context.Background(), "ev"))
}

func TestRebuildAllContinuesOnFailure(t *testing.T) {
	t.Parallel()

	var calls []pluginapi.ID
	a := &fakePlugin{id: p1, events: []string{"x"}, calls: &calls}
	b := &fakePlugin{id: p2, events: []string{"x"}, err: errors.New("nope"), calls: &calls}
	c := &fakePlugin{id: p3, events: []string{"x", "y"}, calls: &calls}
	d := newDir(a, b, c)
	d.Subscribe(p1, "stale")

	ok := d.RebuildAll([]pluginapi.Plugin{a, b, c})
	require.False(t, ok)

	assert.Empty(t, d.Subscribers("stale"))
	assert.Equal(t, []pluginapi.ID{p1, p2, p3}, d.Subscribers("x"))
	assert.Equal(t, []pluginapi.ID{p3}, d.Subscribers("y"))
}

func TestRebuildAllSucceeds(t *testing.T) {
	t.Parallel()

	var calls []pluginapi.ID
	a := &fakePlugin{id: p1, events: []string{"x"}, calls: &calls}
	d := newDir(a)
	assert.True(t, d.RebuildAll([]pluginapi.Plugin{a}))
	assert.Equal(t, []string{"x"}, d.Events())
}
