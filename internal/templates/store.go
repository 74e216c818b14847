// Package templates caches plugin-owned templates and render functions and adapts
// them to the rendering engine.
package templates

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
	"github.com/rs/zerolog"
)

// Suffix marks template files inside a bundle or directory.
const Suffix = ".template"

var validName = regexp.MustCompile(`^[a-zA-Z0-9._\-/]+$`)

// Errors returned by LoadDir.
var (
	ErrInvalidPath = errors.New("invalid template path")
	ErrDuplicate   = errors.New("template already registered")
)

// Record is a registered template.
type Record struct {
	Path       string
	Content    string
	Owner      pluginapi.ID
	Registered time.Time
}

// Function is a registered render function.
type Function struct {
	Name  string
	Owner pluginapi.ID
	Fn    pluginapi.RenderFunc
}

// Store holds templates and functions keyed by path and name. Each path and each name
// may be registered once across the whole store.
type Store struct {
	mu        sync.RWMutex
	templates map[string]Record
	functions map[string]Function
	version   uint64
	now       func() time.Time
	log       zerolog.Logger
}

// NewStore returns an empty store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		templates: make(map[string]Record),
		functions: make(map[string]Function),
		now:       time.Now,
		log:       logger,
	}
}

func normalize(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
}

// Put registers content under p for owner. Use pluginapi.NoOwner for host templates.
func (s *Store) Put(owner pluginapi.ID, p, content string) bool {
	if err := s.put(owner, p, content); err != nil {
		s.warnRejected(owner, p, err)
		return false
	}

	return true
}

func (s *Store) warnRejected(owner pluginapi.ID, p string, err error) {
	event := "template_invalid_path"
	if errors.Is(err, ErrDuplicate) {
		event = "template_conflict"
	}
	s.log.Warn().
		Err(err).
		Str("event", event).
		Str("path", normalize(p)).
		Str("owner", owner.String()).
		Msg("could not register template")
}

// put registers a template without logging failures; callers report them once.
func (s *Store) put(owner pluginapi.ID, p, content string) error {
	p = normalize(p)
	if !validName.MatchString(p) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.templates[p]; ok {
		return fmt.Errorf("%w: %q owned by %s", ErrDuplicate, p, existing.Owner)
	}

	s.templates[p] = Record{Path: p, Content: content, Owner: owner, Registered: s.now()}
	s.version++
	s.log.Debug().
		Str("event", "template_registered").
		Str("path", p).
		Str("owner", owner.String()).
		Msg("registered template")

	return nil
}

// RegisterFunction registers a render function under name for owner.
func (s *Store) RegisterFunction(owner pluginapi.ID, name string, fn pluginapi.RenderFunc) bool {
	if fn == nil || !validName.MatchString(name) {
		s.log.Debug().
			Str("event", "function_invalid").
			Str("name", name).
			Str("owner", owner.String()).
			Msg("could not register template function")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.functions[name]; ok {
		s.log.Debug().
			Str("event", "function_conflict").
			Str("name", name).
			Str("owner", owner.String()).
			Msg("template function already registered")
		return false
	}
	s.functions[name] = Function{Name: name, Owner: owner, Fn: fn}

	return true
}

// RemoveByOwner removes every template and function owned by owner in one pass and
// returns the number of templates removed.
func (s *Store) RemoveByOwner(owner pluginapi.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for p, rec := range s.templates {
		if rec.Owner == owner {
			delete(s.templates, p)
			removed++
		}
	}
	for name, f := range s.functions {
		if f.Owner == owner {
			delete(s.functions, name)
		}
	}
	if removed > 0 {
		s.version++
	}

	return removed
}

// Remove deletes a single template.
func (s *Store) Remove(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = normalize(p)
	if _, ok := s.templates[p]; !ok {
		return false
	}
	delete(s.templates, p)
	s.version++

	return true
}

// LoadDir registers every file under dir ending in Suffix, named by its path relative
// to dir with the suffix stripped. The first failure aborts the batch and removes the
// templates it had already registered.
func (s *Store) LoadDir(owner pluginapi.ID, fsys fs.FS, dir string) error {
	dir = path.Clean(normalize(dir))

	var loaded []string
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, Suffix) {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}

		name := strings.TrimSuffix(strings.TrimPrefix(p, dir+"/"), Suffix)
		if dir == "." {
			name = strings.TrimSuffix(p, Suffix)
		}
		if err := s.put(owner, name, string(data)); err != nil {
			return err
		}
		loaded = append(loaded, name)

		return nil
	})
	if err != nil {
		s.mu.Lock()
		for _, name := range loaded {
			delete(s.templates, name)
		}
		s.version++
		s.mu.Unlock()

		s.log.Warn().
			Err(err).
			Str("event", "template_dir_failed").
			Str("dir", dir).
			Str("owner", owner.String()).
			Int("rolled_back", len(loaded)).
			Msg("aborted template directory load")

		return fmt.Errorf("load templates from %s: %w", dir, err)
	}

	return nil
}

// Get returns the template registered at p.
func (s *Store) Get(p string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.templates[normalize(p)]
	return rec, ok
}

// Source returns a reader over the template content and its registration time.
func (s *Store) Source(p string) (io.Reader, time.Time, bool) {
	rec, ok := s.Get(p)
	if !ok {
		return nil, time.Time{}, false
	}

	return strings.NewReader(rec.Content), rec.Registered, true
}

// Function returns the render function registered under name.
func (s *Store) Function(name string) (Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.functions[name]
	return f, ok
}

// Paths returns every registered template path in lexical order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.templates))
	for p := range s.templates {
		out = append(out, p)
	}
	sort.Strings(out)

	return out
}

// Len returns the number of templates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.templates)
}

// Count returns the number of templates owned by owner.
func (s *Store) Count(owner pluginapi.ID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.templates {
		if rec.Owner == owner {
			n++
		}
	}

	return n
}

// Reset drops every template and function.
func (s *Store) Reset() {
	s.mu.Lock()
	s.templates = make(map[string]Record)
	s.functions = make(map[string]Function)
	s.version++
	s.mu.Unlock()
}

// Version changes whenever the template set changes.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}

// Scope returns a registrar that registers under owner.
func (s *Store) Scope(owner pluginapi.ID) pluginapi.TemplateRegistrar {
	return scoped{store: s, owner: owner}
}

type scoped struct {
	store *Store
	owner pluginapi.ID
}

func (r scoped) PutTemplate(p, content string) error {
	if err := r.store.put(r.owner, p, content); err != nil {
		r.store.warnRejected(r.owner, p, err)
		return err
	}

	return nil
}

func (r scoped) LoadTemplates(fsys fs.FS, dir string) error {
	return r.store.LoadDir(r.owner, fsys, dir)
}

func (r scoped) RegisterFunction(name string, fn pluginapi.RenderFunc) error {
	if !r.store.RegisterFunction(r.owner, name, fn) {
		return fmt.Errorf("register function %q: rejected", name)
	}

	return nil
}
