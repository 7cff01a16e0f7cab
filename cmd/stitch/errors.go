// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"

	"github.com/invowk/stitch/internal/dag"
	"github.com/invowk/stitch/internal/issue"
	"github.com/invowk/stitch/internal/resolver"
	"github.com/invowk/stitch/pkg/pkgcache"
)

// issueFor links err to the catalog entry that explains it, or 0.
func issueFor(err error) issue.Id {
	var (
		notFound resolver.NotFound
		cycle    *dag.CycleError
	)
	switch {
	case errors.Is(err, resolver.ErrAMDInV2Addon):
		return issue.AMDInV2AddonId
	case errors.Is(err, resolver.ErrMalformedHbsLiteral):
		return issue.MalformedTemplateLiteralId
	case errors.As(err, &cycle):
		return issue.AddonCycleId
	case errors.As(err, &notFound):
		return issue.UnresolvedImportId
	case errors.Is(err, pkgcache.ErrPackageNotFound):
		return issue.PackageNotFoundId
	}
	return 0
}

// actionable wraps err for display. Errors that already carry context are
// returned unchanged.
func actionable(err error, operation, resource string, suggestions ...string) error {
	if err == nil {
		return nil
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return err
	}
	return issue.NewErrorContext().
		WithOperation(operation).
		WithResource(resource).
		WithSuggestions(suggestions...).
		WithIssue(issueFor(err)).
		Wrap(err).
		BuildError()
}

func appError(err error, appRoot string) error {
	return actionable(err, "open app", appRoot, "Run with --verbose to see the full error chain")
}
