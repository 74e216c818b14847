package pluginapi

import (
	"context"
	"io/fs"
)

// Action is a lifecycle transition that other plugins may veto.
type Action string

// Lifecycle actions offered to ActionVetoer implementations.
const (
	ActionInstall   Action = "install"
	ActionUninstall Action = "uninstall"
	ActionEnable    Action = "enable"
	ActionDisable   Action = "disable"
)

// Plugin is the entry object of a bundle. Everything else a plugin can do is expressed
// through the optional capability interfaces below; a plugin that does not implement one
// simply takes no part in that extension point.
type Plugin interface {
	ID() ID
	Title() string
}

// SystemPlugin marks plugins that cannot be disabled or uninstalled.
type SystemPlugin interface {
	System() bool
}

// HookSubscriber records event subscriptions for the declaring plugin.
type HookSubscriber interface {
	// Subscribe returns false if the plugin is already subscribed to event.
	Subscribe(event string) bool
}

// HookDeclarer declares the events a plugin listens to.
type HookDeclarer interface {
	DeclareHooks(s HookSubscriber) error
}

// RenderFunc is a named function callable from templates.
type RenderFunc func(args ...string) (string, error)

// TemplateRegistrar stores templates and render functions owned by the declaring plugin.
type TemplateRegistrar interface {
	PutTemplate(path, content string) error
	LoadTemplates(fsys fs.FS, dir string) error
	RegisterFunction(name string, fn RenderFunc) error
}

// TemplateDeclarer declares a plugin's templates and render functions.
type TemplateDeclarer interface {
	DeclareTemplates(r TemplateRegistrar) error
}

// RouteRegistrar binds URL prefixes to the declaring plugin.
type RouteRegistrar interface {
	RegisterRoute(path string) error
}

// RouteDeclarer declares the URL prefixes a plugin serves.
type RouteDeclarer interface {
	DeclareRoutes(r RouteRegistrar) error
}

// LoadHandler is called once every registration step has succeeded.
type LoadHandler interface {
	OnLoad(ctx context.Context) error
}

// UnloadHandler is called before a loaded plugin's contributions are purged.
type UnloadHandler interface {
	OnUnload(ctx context.Context)
}

// InstallHandler prepares persistent state when the plugin is installed.
type InstallHandler interface {
	OnInstall(ctx context.Context, conn Conn) error
}

// UninstallHandler removes persistent state when the plugin is uninstalled.
type UninstallHandler interface {
	OnUninstall(ctx context.Context, conn Conn) error
}

// HookHandler receives published events. It returns true when it handled the event.
type HookHandler interface {
	HandleHook(ctx context.Context, event string, args ...any) bool
}

// RequestHandler serves dispatched requests. It returns true when it claims the request.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *Request) (bool, error)
}

// ActionVetoer may refuse a lifecycle action applied to another plugin.
type ActionVetoer interface {
	AllowAction(ctx context.Context, action Action, target ID) bool
}
