package templates

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
)

// Core templates owned by the host.
const (
	PagePath     = "core/page"
	NotFoundPath = "core/404"
)

const maxIncludeDepth = 16

// ErrNotFound is returned when rendering an unknown template.
var ErrNotFound = errors.New("template not found")

var coreTemplates = map[string]string{
	PagePath: `<!DOCTYPE html>
<html>
<head><title>{{with .title}}{{.}}{{else}}Untitled{{end}}</title></head>
<body>
{{with .content}}{{include . $}}{{end}}
</body>
</html>
`,
	NotFoundPath: `<h1>Not Found</h1>
<p>No handler is registered for <code>{{.path}}</code>.</p>
`,
}

// RegisterCore adds the host's page and not-found templates.
func RegisterCore(s *Store) error {
	for p, content := range coreTemplates {
		if err := s.put(pluginapi.NoOwner, p, content); err != nil {
			return err
		}
	}

	return nil
}

// Renderer executes stored templates with html/template. Parsed templates are cached
// until the store changes.
type Renderer struct {
	store *Store

	mu      sync.Mutex
	version uint64
	cache   map[string]*template.Template
}

// NewRenderer returns a renderer over store.
func NewRenderer(store *Store) *Renderer {
	return &Renderer{store: store, cache: make(map[string]*template.Template)}
}

// Render executes the template at p with data.
func (r *Renderer) Render(p string, data any) ([]byte, error) {
	return r.render(p, data, 0)
}

func (r *Renderer) render(p string, data any, depth int) ([]byte, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("render %s: include depth exceeded", p)
	}

	parsed, err := r.parsed(p)
	if err != nil {
		return nil, err
	}

	t, err := parsed.Clone()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", p, err)
	}
	t.Funcs(r.funcs(depth))

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", p, err)
	}

	return buf.Bytes(), nil
}

func (r *Renderer) parsed(p string) (*template.Template, error) {
	v := r.store.Version()

	r.mu.Lock()
	defer r.mu.Unlock()

	if v != r.version {
		r.cache = make(map[string]*template.Template)
		r.version = v
	}
	if t, ok := r.cache[p]; ok {
		return t, nil
	}

	rec, ok := r.store.Get(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	t, err := template.New(rec.Path).Funcs(r.funcs(0)).Parse(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	r.cache[p] = t

	return t, nil
}

func (r *Renderer) funcs(depth int) template.FuncMap {
	return template.FuncMap{
		"include": func(p string, data any) (template.HTML, error) {
			out, err := r.render(p, data, depth+1)
			if err != nil {
				return "", err
			}
			//nolint:gosec // output of a registered template.
			return template.HTML(out), nil
		},
		"fn": func(name string, args ...string) (template.HTML, error) {
			f, ok := r.store.Function(name)
			if !ok {
				return "", fmt.Errorf("unknown template function %q", name)
			}
			out, err := f.Fn(args...)
			if err != nil {
				return "", fmt.Errorf("template function %q: %w", name, err)
			}
			//nolint:gosec // plugin functions produce markup.
			return template.HTML(out), nil
		},
	}
}
