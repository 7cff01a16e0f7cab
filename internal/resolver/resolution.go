// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"fmt"

	"github.com/invowk/stitch/internal/virtual"
)

type (
	// Resolution is the answer handed back to a host bundler. It is one of
	// Found, Virtual, NotFound or External; callers switch over all four.
	Resolution interface {
		fmt.Stringer
		resolution()
	}

	// Found is a real file on disk.
	Found struct {
		Filename string
		// Payload is host-specific data attached by the host's DefaultResolve.
		Payload any
	}

	// Virtual is a synthesized module that can be regenerated from Descriptor.
	Virtual struct {
		Filename     string
		Descriptor   virtual.Descriptor
		WatchedPaths []string
	}

	// NotFound is a terminal failure.
	NotFound struct {
		Specifier string
		FromFile  string
		Err       error
	}

	// External is left to a runtime registry lookup under RuntimeName.
	External struct {
		RuntimeName string
	}
)

func (Found) resolution()    {}
func (Virtual) resolution()  {}
func (NotFound) resolution() {}
func (External) resolution() {}

func (f Found) String() string { return "found " + f.Filename }
func (v Virtual) String() string {
	return fmt.Sprintf("virtual %s (%s)", v.Filename, v.Descriptor.Kind)
}
func (e External) String() string { return "external " + e.RuntimeName }

func (n NotFound) String() string {
	if n.Err != nil {
		return fmt.Sprintf("not found %q from %s: %v", n.Specifier, n.FromFile, n.Err)
	}
	return fmt.Sprintf("not found %q from %s", n.Specifier, n.FromFile)
}

// Error makes NotFound usable as an error value.
func (n NotFound) Error() string { return n.String() }

// Unwrap returns the underlying cause.
func (n NotFound) Unwrap() error { return n.Err }

// Outcome names the variant of res for logs and metrics.
func Outcome(res Resolution) string {
	switch res.(type) {
	case Found:
		return "found"
	case Virtual:
		return "virtual"
	case NotFound:
		return "not_found"
	case External:
		return "external"
	default:
		panic(fmt.Sprintf("unknown resolution %T", res))
	}
}
