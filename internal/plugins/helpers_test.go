package plugins

import (
	"context"
	"errors"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/internal/hooks"
	"github.com/andrei-cloud/go_pluginhost/internal/routing"
	"github.com/andrei-cloud/go_pluginhost/internal/templates"
	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
)

var (
	idA = pluginapi.MustParseID("11111111-1111-1111-1111-111111111111")
	idB = pluginapi.MustParseID("22222222-2222-2222-2222-222222222222")
	idC = pluginapi.MustParseID("33333333-3333-3333-3333-333333333333")
)

var errBoom = errors.New("boom")

// testPlugin implements every capability with configurable behavior.
type testPlugin struct {
	id        pluginapi.ID
	title     string
	system    bool
	events    []string
	templates map[string]string
	routes    []string
	loadErr   error
	loadPanic bool
	veto      bool
	claim     bool

	mu        sync.Mutex
	loads     int
	unloads   int
	installs  int
	uninstall int
	released  int
	unloadLog *[]pluginapi.ID
}

func (p *testPlugin) ID() pluginapi.ID { return p.id }

func (p *testPlugin) Title() string {
	if p.title == "" {
		return "test"
	}
	return p.title
}

func (p *testPlugin) System() bool { return p.system }

func (p *testPlugin) DeclareHooks(s pluginapi.HookSubscriber) error {
	for _, e := range p.events {
		if !s.Subscribe(e) {
			return errors.New("subscribe failed")
		}
	}
	return nil
}

func (p *testPlugin) DeclareTemplates(r pluginapi.TemplateRegistrar) error {
	for k, v := range p.templates {
		if err := r.PutTemplate(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (p *testPlugin) DeclareRoutes(r pluginapi.RouteRegistrar) error {
	for _, route := range p.routes {
		if err := r.RegisterRoute(route); err != nil {
			return err
		}
	}
	return nil
}

func (p *testPlugin) OnLoad(context.Context) error {
	if p.loadPanic {
		panic("load exploded")
	}
	p.mu.Lock()
	p.loads++
	p.mu.Unlock()
	return p.loadErr
}

func (p *testPlugin) OnUnload(context.Context) {
	p.mu.Lock()
	p.unloads++
	p.mu.Unlock()
	if p.unloadLog != nil {
		*p.unloadLog = append(*p.unloadLog, p.id)
	}
}

func (p *testPlugin) OnInstall(context.Context, pluginapi.Conn) error {
	p.installs++
	return nil
}

func (p *testPlugin) OnUninstall(context.Context, pluginapi.Conn) error {
	p.uninstall++
	return nil
}

func (p *testPlugin) HandleHook(context.Context, string, ...any) bool { return true }

func (p *testPlugin) HandleRequest(_ context.Context, req *pluginapi.Request) (bool, error) {
	if p.claim {
		req.SetData("by", p.id.String())
	}
	return p.claim, nil
}

func (p *testPlugin) AllowAction(context.Context, pluginapi.Action, pluginapi.ID) bool {
	return !p.veto
}

func (p *testPlugin) Release(context.Context) error {
	p.released++
	return nil
}

type fixture struct {
	hooks     *hooks.Directory
	routes    *routing.Trie
	templates *templates.Store
	states    *MemoryStateStore
	registry  *Registry
}

func newFixture(auto bool) *fixture {
	f := &fixture{
		hooks:     hooks.NewDirectory(zerolog.Nop()),
		routes:    routing.NewTrie(),
		templates: templates.NewStore(zerolog.Nop()),
		states:    NewMemoryStateStore(),
	}
	f.registry = NewRegistry(Options{
		Hooks:       f.hooks,
		Routes:      f.routes,
		Templates:   f.templates,
		States:      f.states,
		AutoInstall: auto,
		Logger:      zerolog.Nop(),
	})

	return f
}
