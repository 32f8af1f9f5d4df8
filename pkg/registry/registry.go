// Package registry implements the App Registry collaborator (spec.md
// §4.1, C1): a process-wide, lazily initialized name -> ELF byte image
// map built once on first access.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rvkernel/proccore/pkg/klog"
)

var log = klog.For("registry")

// Builder produces the name -> image table on first access, e.g. by
// walking a name table embedded by the build (spec.md §4.1) or reading a
// directory of compiled app images.
type Builder func() (map[string][]byte, error)

// Registry is a read-only-after-init map from application name to its
// ELF byte image. The zero value is not usable; construct with New.
type Registry struct {
	build Builder

	group singleflight.Group // collapses concurrent initializers into one
	mu    sync.RWMutex
	table map[string][]byte
}

// New returns a Registry that will call build exactly once, the first
// time Get or Keys is called, no matter how many callers race to
// trigger it — spec.md §4.1 requires initialization to be "idempotent
// under the single-threaded boot assumption"; golang.org/x/sync's
// singleflight gives that idempotency for free even if a future
// multi-hart build calls in from more than one goroutine.
func New(build Builder) *Registry {
	return &Registry{build: build}
}

// NewStatic returns a Registry preloaded with a fixed table, for tests
// and for embedding a build-time name table directly. A nil table is
// treated as already-built-and-empty, not as "not yet built" (ensure
// tells the two apart by nil-ness, so a nil map here must be replaced
// with a non-nil empty one).
func NewStatic(table map[string][]byte) *Registry {
	if table == nil {
		table = map[string][]byte{}
	}
	r := &Registry{}
	r.table = table
	return r
}

func (r *Registry) ensure() error {
	r.mu.RLock()
	ready := r.table != nil
	r.mu.RUnlock()
	if ready {
		return nil
	}
	_, err, _ := r.group.Do("build", func() (any, error) {
		r.mu.RLock()
		already := r.table != nil
		r.mu.RUnlock()
		if already {
			return nil, nil
		}
		table, err := r.build()
		if err != nil {
			return nil, err
		}
		log.Infof("built app registry with %d entries", len(table))
		r.mu.Lock()
		r.table = table
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// FromDirectory returns a Builder that reads every regular file directly
// under dir as an application image, keyed by its base name with any
// extension stripped (e.g. "shell.elf" registers as "shell"). This
// stands in for spec.md §4.1's build-time name table in the CLI, where
// there is no compiled-in app manifest to walk.
func FromDirectory(dir string) Builder {
	return func() (map[string][]byte, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("registry: reading %s: %w", dir, err)
		}
		table := make(map[string][]byte, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("registry: reading %s: %w", path, err)
			}
			name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			table[name] = data
		}
		return table, nil
	}
}

// Get looks up name, building the table on first access. A miss returns
// (nil, false), never an error (spec.md §4.1: "Error conditions: none at
// lookup (miss returns empty)").
func (r *Registry) Get(name string) ([]byte, bool) {
	if err := r.ensure(); err != nil {
		log.Warnf("app registry build failed: %v", err)
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.table[name]
	return img, ok
}

// Keys returns the set of known application names, building the table
// on first access if necessary.
func (r *Registry) Keys() []string {
	if err := r.ensure(); err != nil {
		log.Warnf("app registry build failed: %v", err)
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.table))
	for k := range r.table {
		keys = append(keys, k)
	}
	return keys
}
