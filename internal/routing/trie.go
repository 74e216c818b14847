// Package routing maps URL path prefixes to the plugins that serve them.
package routing

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/andrei-cloud/go_pluginhost/pkg/pluginapi"
)

// Status is the outcome of a route registration.
type Status int

// Registration outcomes.
const (
	Success Status = iota
	Malformed
	AlreadyExists
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Malformed:
		return "malformed"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

const separator = "/"

// Trie is a thread-safe path-segment tree. A request path resolves to every owner
// registered on one of its prefixes, most specific first.
type Trie struct {
	mu   sync.RWMutex
	root *node
}

type node struct {
	owner      pluginapi.ID
	terminator bool
	children   map[string]*node
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// NewTrie returns an empty trie.
func NewTrie() *Trie {
	return &Trie{root: newNode()}
}

// Segments normalizes a path and splits it. It returns nil for a malformed path:
// empty after trimming separators, or containing an empty segment.
func Segments(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), separator)
	if path == "" {
		return nil
	}

	parts := strings.Split(path, separator)
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}

	return parts
}

// Register binds path to owner.
func (t *Trie) Register(owner pluginapi.ID, path string) Status {
	if owner == pluginapi.NoOwner {
		return Malformed
	}

	parts := Segments(path)
	if parts == nil {
		return Malformed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == nil {
		t.root = newNode()
	}

	n := t.root
	last := len(parts) - 1
	for i, seg := range parts {
		child, ok := n.children[seg]
		switch {
		case ok && i == last:
			if child.terminator {
				return AlreadyExists
			}
			child.owner = owner
			child.terminator = true
		case !ok:
			child = newNode()
			if i == last {
				child.owner = owner
				child.terminator = true
			}
			n.children[seg] = child
		}
		n = child
	}

	return Success
}

// Resolve returns the owners of every registered prefix of path. The walk stops at the
// first segment without a matching child; owners found up to that point are still
// returned. Each owner appears once, at the position of its shallowest registration,
// and the list runs from the deepest match to the shallowest.
func (t *Trie) Resolve(path string) []pluginapi.ID {
	parts := Segments(path)
	if parts == nil {
		return []pluginapi.ID{}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]pluginapi.ID, 0, 2)
	if t.root == nil {
		return result
	}

	n := t.root
	for _, seg := range parts {
		n = n.children[seg]
		if n == nil {
			break
		}
		if n.terminator && !slices.Contains(result, n.owner) {
			result = append(result, n.owner)
		}
	}
	slices.Reverse(result)

	return result
}

// Purge removes every route owned by owner. Owned nodes without children are deleted,
// owned nodes with children become transit nodes, and transit nodes left without
// children are pruned. Purging an owner with no routes is a no-op.
func (t *Trie) Purge(owner pluginapi.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root != nil {
		t.root.purge(owner)
	}
}

// purge reports whether n should be removed from its parent.
func (n *node) purge(owner pluginapi.ID) bool {
	for seg, child := range n.children {
		if child.purge(owner) {
			delete(n.children, seg)
		}
	}

	if n.terminator && n.owner == owner {
		n.terminator = false
		n.owner = pluginapi.NoOwner
	}

	return !n.terminator && len(n.children) == 0
}

// Reset discards every route.
func (t *Trie) Reset() {
	t.mu.Lock()
	t.root = newNode()
	t.mu.Unlock()
}

// Route is a registered path and its owner.
type Route struct {
	Path  string
	Owner pluginapi.ID
}

// Routes lists every registered path in lexical order.
func (t *Trie) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Route
	if t.root != nil {
		t.root.collect("", &out)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

func (n *node) collect(prefix string, out *[]Route) {
	if n.terminator {
		*out = append(*out, Route{Path: prefix, Owner: n.owner})
	}
	for seg, child := range n.children {
		p := seg
		if prefix != "" {
			p = prefix + separator + seg
		}
		child.collect(p, out)
	}
}
