// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
)

var (
	// ErrNoHost is returned when Options has no Host.
	ErrNoHost = errors.New("audit requires a host")
	// ErrNoEntrypoints is returned when Options has no entrypoints.
	ErrNoEntrypoints = errors.New("audit requires at least one entrypoint")
)

type (
	// Host resolves and loads modules for the audit. IDs are opaque to the
	// audit; the FS host uses absolute paths and the HTTP host uses URLs.
	Host interface {
		// Resolve maps specifier, as written in fromID, to a Target. An error
		// aborts the audit; unresolvable specifiers are TargetMissing.
		Resolve(ctx context.Context, specifier, fromID string) (Target, error)
		// Load returns the module content, or findings explaining why the
		// module cannot be loaded. An error aborts the audit.
		Load(ctx context.Context, id string) (*Content, []Finding, error)
		// RelativePath renders id relative to the audited root.
		RelativePath(id string) string
	}

	// Options configures Run.
	Options struct {
		Host        Host
		Entrypoints []string
		Logger      *log.Logger
	}
)

// Normalize fills defaults and validates the options.
func (o *Options) Normalize() error {
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o.Validate()
}

// Validate reports missing required options.
func (o Options) Validate() error {
	if o.Host == nil {
		return ErrNoHost
	}
	if len(o.Entrypoints) == 0 {
		return ErrNoEntrypoints
	}
	return nil
}
