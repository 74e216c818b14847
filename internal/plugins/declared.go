package plugins

import (
	"fmt"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
)

// declared implements the registration capabilities of sandboxed plugins from their
// manifest: hooks and routes are listed there and templates ship in the bundle.
type declared struct {
	bundle *Bundle
}

func (d declared) ID() pluginapi.ID {
	return d.bundle.Manifest.PluginID()
}

func (d declared) Title() string {
	return d.bundle.Manifest.Title
}

func (d declared) System() bool {
	return d.bundle.Manifest.System
}

func (d declared) DeclareHooks(s pluginapi.HookSubscriber) error {
	for _, ev := range d.bundle.Manifest.Hooks {
		if !s.Subscribe(ev) {
			return fmt.Errorf("subscribe %q: duplicate or invalid event", ev)
		}
	}

	return nil
}

func (d declared) DeclareTemplates(r pluginapi.TemplateRegistrar) error {
	if !d.bundle.HasTemplates() {
		return nil
	}

	return r.LoadTemplates(d.bundle.Files, TemplatesDir)
}

func (d declared) DeclareRoutes(r pluginapi.RouteRegistrar) error {
	for _, route := range d.bundle.Manifest.Routes {
		if err := r.RegisterRoute(route); err != nil {
			return err
		}
	}

	return nil
}

// hookArgs flattens hook arguments for sandboxed runtimes. Requests are passed by path.
func hookArgs(args []any) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case *pluginapi.Request:
			out = append(out, v.Path)
		case string:
			out = append(out, v)
		default:
			out = append(out, fmt.Sprint(v))
		}
	}

	return out
}
