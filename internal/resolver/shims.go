// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/invowk/stitch/internal/virtual"
)

var shimNameEscaper = strings.NewReplacer("/", "__", "\\", "__", ":", "_", "@", "")

// ShimWriter materializes external and runtime-failure shims as real files
// under one directory. Names are content addressed, so concurrent writers in
// any number of processes agree on both path and bytes.
type ShimWriter struct {
	fs  afero.Fs
	dir string
}

// NewShimWriter creates a writer for dir.
func NewShimWriter(fsys afero.Fs, dir string) *ShimWriter {
	return &ShimWriter{fs: fsys, dir: dir}
}

// Dir returns the shim directory.
func (w *ShimWriter) Dir() string { return w.dir }

// Write renders d and makes sure the result exists on disk, returning its path.
//
// The file is written to a temporary name in the same directory and renamed
// into place. A failed rename is harmless when the target already exists,
// because any other writer produced identical content.
func (w *ShimWriter) Write(d virtual.Descriptor) (string, error) {
	content, err := virtual.Render(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(content.Source))
	name := shimNameEscaper.Replace(d.Specifier) + "." + hex.EncodeToString(sum[:4]) + ".js"
	target := filepath.Join(w.dir, name)

	if _, err := w.fs.Stat(target); err == nil {
		return target, nil
	}
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create shim directory %s: %w", w.dir, err)
	}

	tmp, err := afero.TempFile(w.fs, w.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary shim: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.WriteString(content.Source)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = w.fs.Remove(tmpName)
		return "", fmt.Errorf("failed to write shim %s: %w", target, errors.Join(werr, cerr))
	}

	if err := w.fs.Rename(tmpName, target); err != nil {
		_ = w.fs.Remove(tmpName)
		if _, statErr := w.fs.Stat(target); statErr == nil {
			return target, nil
		}
		return "", fmt.Errorf("failed to move shim into place at %s: %w", target, err)
	}
	return target, nil
}
