// SPDX-License-Identifier: MPL-2.0

package virtual

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Registry remembers which virtual modules have been rendered and the paths
// they depend on, so filesystem events can be mapped back to the virtual
// modules that must be reloaded.
type Registry struct {
	mu      sync.Mutex
	watched map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{watched: make(map[string][]string)}
}

// Load decodes filename, renders it and records its watched paths.
func (r *Registry) Load(filename string) (Content, error) {
	d, err := Decode(filename)
	if err != nil {
		return Content{}, err
	}
	c, err := Render(d)
	if err != nil {
		return Content{}, err
	}

	r.mu.Lock()
	r.watched[filename] = c.Watched
	r.mu.Unlock()
	return c, nil
}

// Affected returns the virtual filenames that depend on path, either directly
// or through a watched ancestor directory. The result is sorted.
func (r *Registry) Affected(path string) []string {
	path = filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for filename, watched := range r.watched {
		for _, w := range watched {
			if path == w || strings.HasPrefix(path, w+string(filepath.Separator)) {
				out = append(out, filename)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// Forget drops filename so it is no longer reported by Affected.
func (r *Registry) Forget(filename string) {
	r.mu.Lock()
	delete(r.watched, filename)
	r.mu.Unlock()
}

// WatchedPaths returns the union of every tracked watched path, sorted.
func (r *Registry) WatchedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, watched := range r.watched {
		out = append(out, watched...)
	}
	return normalize(out)
}

// Len returns the number of tracked virtual modules.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watched)
}
