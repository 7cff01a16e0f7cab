// SPDX-License-Identifier: MPL-2.0

package pkgcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// RewrittenIndexPath is the location of the rewritten-package index relative
// to the app root.
var RewrittenIndexPath = filepath.Join("node_modules", ".stitch", "rewritten-packages", "index.json")

type (
	// RewrittenIndex maps original package roots to their relocated roots.
	// The zero value is the identity mapping.
	RewrittenIndex struct {
		// oldToNew maps an original root to its rewritten root.
		oldToNew map[string]string
		// newToOld is the inverse of oldToNew.
		newToOld map[string]string
		// extraResolutions maps a rewritten root to additional package roots it
		// may resolve dependencies from.
		extraResolutions map[string][]string
	}

	// rewrittenIndexFile is the persisted JSON form. All paths are relative to
	// the directory containing the file.
	rewrittenIndexFile struct {
		Packages         map[string]string   `json:"packages"`
		ExtraResolutions map[string][]string `json:"extraResolutions"`
	}
)

// LoadRewrittenIndex reads the index at path. A missing file yields the
// identity mapping.
func LoadRewrittenIndex(fsys afero.Fs, path string) (*RewrittenIndex, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &RewrittenIndex{}, nil
		}
		return nil, fmt.Errorf("failed to read rewritten package index: %w", err)
	}

	var file rewrittenIndexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rewritten package index %s: %w", path, err)
	}

	base := filepath.Dir(path)
	abs := func(rel string) string { return filepath.Clean(filepath.Join(base, rel)) }

	idx := &RewrittenIndex{
		oldToNew:         make(map[string]string, len(file.Packages)),
		newToOld:         make(map[string]string, len(file.Packages)),
		extraResolutions: make(map[string][]string, len(file.ExtraResolutions)),
	}
	for oldRel, newRel := range file.Packages {
		oldRoot, newRoot := abs(oldRel), abs(newRel)
		idx.oldToNew[oldRoot] = newRoot
		idx.newToOld[newRoot] = oldRoot
	}
	for fromRel, extras := range file.ExtraResolutions {
		roots := make([]string, 0, len(extras))
		for _, e := range extras {
			roots = append(roots, abs(e))
		}
		idx.extraResolutions[abs(fromRel)] = roots
	}
	return idx, nil
}

// Moved returns the rewritten root for an original root.
func (idx *RewrittenIndex) Moved(root string) (string, bool) {
	r, ok := idx.oldToNew[root]
	return r, ok
}

// Original returns the original root for a rewritten root.
func (idx *RewrittenIndex) Original(root string) (string, bool) {
	r, ok := idx.newToOld[root]
	return r, ok
}

// ExtraResolutions returns the extra roots available to a rewritten root.
func (idx *RewrittenIndex) ExtraResolutions(root string) []string {
	return idx.extraResolutions[root]
}

// Len returns the number of rewritten packages.
func (idx *RewrittenIndex) Len() int { return len(idx.oldToNew) }
