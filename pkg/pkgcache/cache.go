// SPDX-License-Identifier: MPL-2.0

package pkgcache

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// ErrPackageNotFound is the sentinel wrapped by NotFoundError.
var ErrPackageNotFound = errors.New("package not found")

type (
	// NotFoundError is returned when a dependency cannot be located.
	// It wraps ErrPackageNotFound for errors.Is() compatibility.
	NotFoundError struct {
		// Name is the requested package name.
		Name string
		// From is the root of the package that asked.
		From string
	}

	// Locator finds the root directory of package name as seen from fromDir.
	// It reports false when no such package is reachable.
	Locator func(fsys afero.Fs, name, fromDir string) (string, bool)

	// Options configures a Cache.
	Options struct {
		// FS is the filesystem packages are read from. Defaults to the OS filesystem.
		FS afero.Fs
		// Locator overrides node_modules resolution. Defaults to NodeModulesLocator.
		Locator Locator
		// IndexPath overrides the rewritten-package index location.
		IndexPath string
		// Logger receives debug output. nil discards.
		Logger *log.Logger
	}

	// Cache loads packages by root and hands out one *Package per root.
	// It is append-only and safe for concurrent use.
	Cache struct {
		appRoot string
		fs      afero.Fs
		locate  Locator
		index   *RewrittenIndex
		logger  *log.Logger

		mu       sync.Mutex
		packages map[string]*Package
		// owners caches directory -> owning package root ("" means none).
		owners map[string]string
		group  singleflight.Group
	}

	sharedKey struct {
		identifier string
		appRoot    string
	}
)

var (
	sharedMu     sync.Mutex
	sharedCaches = make(map[sharedKey]*Cache)
)

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %q not found from %s", e.Name, e.From)
}

// Unwrap returns ErrPackageNotFound.
func (e *NotFoundError) Unwrap() error { return ErrPackageNotFound }

// Shared returns the process-wide cache for an (identifier, appRoot) pair,
// creating it on first use. Options only apply to the first call.
func Shared(identifier, appRoot string, opts Options) (*Cache, error) {
	key := sharedKey{identifier: identifier, appRoot: filepath.Clean(appRoot)}

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if c, ok := sharedCaches[key]; ok {
		return c, nil
	}
	c, err := New(appRoot, opts)
	if err != nil {
		return nil, err
	}
	sharedCaches[key] = c
	return c, nil
}

// New creates an independent cache rooted at appRoot.
func New(appRoot string, opts Options) (*Cache, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	locate := opts.Locator
	if locate == nil {
		locate = NodeModulesLocator
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	absRoot, err := filepath.Abs(appRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app root: %w", err)
	}
	absRoot = realpath(fsys, absRoot)

	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(absRoot, RewrittenIndexPath)
	}
	index, err := LoadRewrittenIndex(fsys, indexPath)
	if err != nil {
		return nil, err
	}
	if index.Len() > 0 {
		logger.Debug("loaded rewritten package index", "path", indexPath, "packages", index.Len())
	}

	return &Cache{
		appRoot:  absRoot,
		fs:       fsys,
		locate:   locate,
		index:    index,
		logger:   logger,
		packages: make(map[string]*Package),
		owners:   make(map[string]string),
	}, nil
}

// AppRoot returns the normalized application root.
func (c *Cache) AppRoot() string { return c.appRoot }

// FS returns the filesystem packages are read from.
func (c *Cache) FS() afero.Fs { return c.fs }

// Index returns the rewritten-package index.
func (c *Cache) Index() *RewrittenIndex { return c.index }

// App returns the application package.
func (c *Cache) App() (*Package, error) {
	return c.Get(c.appRoot)
}

// Get returns the package rooted at root. Repeated calls with the same root
// return the same instance.
func (c *Cache) Get(root string) (*Package, error) {
	root = realpath(c.fs, filepath.Clean(root))

	c.mu.Lock()
	if p, ok := c.packages[root]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(root, func() (any, error) {
		c.mu.Lock()
		if p, ok := c.packages[root]; ok {
			c.mu.Unlock()
			return p, nil
		}
		c.mu.Unlock()

		p, err := c.load(root)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.packages[root]; ok {
			return existing, nil
		}
		c.packages[root] = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Package), nil
}

func (c *Cache) load(root string) (*Package, error) {
	data, err := afero.ReadFile(c.fs, filepath.Join(root, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read package at %s: %w", root, err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(root, ManifestFileName), err)
	}

	p := &Package{
		root:     root,
		manifest: manifest,
		cache:    c,
		isApp:    root == c.appRoot,
	}

	if oldRoot, ok := c.index.Original(root); ok {
		origin, err := c.Get(oldRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to load original of rewritten package %s: %w", root, err)
		}
		p.origin = origin
	}
	return p, nil
}

// Resolve finds the dependency name as seen from the package from.
//
// For a rewritten package the extra resolutions of its rewritten root are
// consulted first; otherwise resolution happens from the package's original
// location. The result is always translated through the rewritten index.
func (c *Cache) Resolve(name string, from *Package) (*Package, error) {
	if from.IsRewritten() {
		for _, extra := range c.index.ExtraResolutions(from.root) {
			candidate, err := c.Get(extra)
			if err != nil {
				return nil, err
			}
			if candidate.Name() == name {
				return c.MaybeMoved(candidate)
			}
		}
	}

	searchFrom := from
	if orig := c.Original(from); orig != nil {
		searchFrom = orig
	}

	root, ok := c.locate(c.fs, name, searchFrom.root)
	if !ok {
		return nil, &NotFoundError{Name: name, From: from.root}
	}
	pkg, err := c.Get(root)
	if err != nil {
		return nil, err
	}
	return c.MaybeMoved(pkg)
}

// ResolveOptional is like Resolve but reports an absent dependency as
// (nil, false, nil) instead of an error.
func (c *Cache) ResolveOptional(name string, from *Package) (*Package, bool, error) {
	pkg, err := c.Resolve(name, from)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return pkg, true, nil
}

// MaybeMoved returns the rewritten counterpart of pkg, or pkg itself.
func (c *Cache) MaybeMoved(pkg *Package) (*Package, error) {
	if newRoot, ok := c.index.Moved(pkg.root); ok {
		return c.Get(newRoot)
	}
	return pkg, nil
}

// Original returns the pre-rewrite package for a rewritten package, or nil.
func (c *Cache) Original(pkg *Package) *Package {
	return pkg.origin
}

// OwnerOfFile returns the nearest package enclosing path, or nil when the
// file is not inside any package.
func (c *Cache) OwnerOfFile(path string) *Package {
	dir := filepath.Dir(filepath.Clean(path))
	var visited []string

	for {
		c.mu.Lock()
		root, cached := c.owners[dir]
		c.mu.Unlock()
		if cached {
			return c.remember(visited, root)
		}

		visited = append(visited, dir)
		if exists(c.fs, filepath.Join(dir, ManifestFileName)) {
			return c.remember(visited, dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return c.remember(visited, "")
		}
		dir = parent
	}
}

func (c *Cache) remember(dirs []string, root string) *Package {
	c.mu.Lock()
	for _, d := range dirs {
		c.owners[d] = root
	}
	c.mu.Unlock()

	if root == "" {
		return nil
	}
	pkg, err := c.Get(root)
	if err != nil {
		c.logger.Debug("ignoring unreadable package boundary", "root", root, "err", err)
		return nil
	}
	return pkg
}

// NodeModulesLocator walks up from fromDir looking in node_modules
// directories, the same way Node's resolution algorithm does.
func NodeModulesLocator(fsys afero.Fs, name, fromDir string) (string, bool) {
	dir := fromDir
	for {
		if filepath.Base(dir) != "node_modules" {
			candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(name))
			if exists(fsys, filepath.Join(candidate, ManifestFileName)) {
				return realpath(fsys, candidate), true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// PackageName returns the package portion of a bare specifier
// ("@scope/pkg/sub" -> "@scope/pkg", "pkg/sub" -> "pkg"). It returns ""
// for relative and absolute specifiers.
func PackageName(specifier string) string {
	if specifier == "" || strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") || filepath.IsAbs(specifier) {
		return ""
	}
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

// realpath resolves symlinks on the OS filesystem so that a package reached
// through different links has a single identity.
func realpath(fsys afero.Fs, path string) string {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
