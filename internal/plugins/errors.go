package plugins

import (
	"errors"
	"fmt"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
)

// Registry errors.
var (
	ErrDuplicateID    = errors.New("plugin identity already loaded")
	ErrNotFound       = errors.New("plugin not loaded")
	ErrRejected       = errors.New("plugin is uninstalled")
	ErrInvalidState   = errors.New("action not valid in current state")
	ErrSystemPlugin   = errors.New("system plugins cannot be disabled or uninstalled")
	ErrVetoed         = errors.New("action vetoed")
	ErrUnknownRuntime = errors.New("unknown plugin runtime")
	ErrRouteMalformed = errors.New("malformed route")
	ErrRouteExists    = errors.New("route already registered")
)

// Activation steps, in order.
const (
	StepHooks     = "hooks"
	StepTemplates = "templates"
	StepRoutes    = "routes"
	StepLoad      = "load"
	StepInstall   = "install"
	StepUninstall = "uninstall"
)

// ActivationError reports which lifecycle step a plugin failed.
type ActivationError struct {
	Step  string
	ID    pluginapi.ID
	Title string
	Err   error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("plugin %q [%s]: %s step failed: %v", e.Title, e.ID, e.Step, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// VetoError names the plugin that refused an action.
type VetoError struct {
	Action pluginapi.Action
	Target pluginapi.ID
	By     pluginapi.ID
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("%s of %s vetoed by %s", e.Action, e.Target, e.By)
}

func (e *VetoError) Is(target error) bool {
	return target == ErrVetoed
}
