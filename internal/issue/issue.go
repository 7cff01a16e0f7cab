// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Catalog ids. They are stable; new entries are appended.
const (
	ConfigLoadFailedId Id = iota + 1
	PackageNotFoundId
	UnresolvedImportId
	MalformedTemplateLiteralId
	AMDInV2AddonId
	BootModuleMissingId
	AddonCycleId
	AuditFindingsId
	WatchLimitReachedId
)

// ErrUnknownIssue is returned when an error links an id with no catalog entry.
var ErrUnknownIssue = errors.New("unknown issue id")

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the Markdown body of a catalog entry.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string //nolint:revive

	// Issue is a catalog entry: Markdown guidance for one class of failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// Id returns the catalog id.
func (i *Issue) Id() Id { return i.id } //nolint:revive

// MarkdownMsg returns the raw Markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the entry for a terminal. stylePath is a glamour style name
// ("dark", "light", "notty") or a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("\n- <" + string(link) + ">")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

stitch reads ` + "`stitch.cue`" + ` from the app root, or the file passed with ` + "`--config`" + `.
The file is validated against the ` + "`#Config`" + ` schema before use.

## Things you can try
- Run ` + "`stitch config show`" + ` to print the effective configuration
- Check field names: they are camelCase (` + "`modulePrefix`, `allowRuntimeFailure`" + `)
- Unset ` + "`STITCH_*`" + ` environment variables that may override the file`,
		docLinks: []HttpLink{"https://cuelang.org/docs/tour/"},
	}

	packageNotFoundIssue = &Issue{
		id: PackageNotFoundId,
		mdMsg: `
# A package could not be found

A dependency named in a ` + "`package.json`" + ` is not installed where node resolution looks for it.

## Things you can try
- Reinstall dependencies with your package manager
- List the package in ` + "`dependencies`" + ` of the package that imports it
- Mark runtime-provided modules in ` + "`externals`",
	}

	unresolvedImportIssue = &Issue{
		id: UnresolvedImportId,
		mdMsg: `
# An import could not be resolved

No rule, package or file answered the specifier.

## Things you can try
- Run ` + "`stitch resolve <specifier> --from <file> --trace`" + ` to see each rule that ran
- Check the spelling and extension of relative imports
- Add the specifier to ` + "`allowRuntimeFailure`" + ` if the runtime is expected to provide it`,
	}

	malformedTemplateLiteralIssue = &Issue{
		id: MalformedTemplateLiteralId,
		mdMsg: `
# Inline template is not statically analyzable

` + "`hbs`" + ` and ` + "`precompileTemplate`" + ` must be called with exactly one string literal,
or ` + "`hbs`" + ` used as a tag without interpolations.

## Things you can try
- Move interpolated values into component arguments
- Move the template into a colocated ` + "`.hbs`" + ` file`,
	}

	amdInV2AddonIssue = &Issue{
		id: AMDInV2AddonId,
		mdMsg: `
# AMD module found in a v2 addon

v2 addons publish ES modules. ` + "`define()`" + ` calls are only rewritten for
auto-upgraded v1 addons.

## Things you can try
- Upgrade the addon to a release that ships ES modules
- Report the problem to the addon's maintainers`,
	}

	bootModuleMissingIssue = &Issue{
		id: BootModuleMissingId,
		mdMsg: `
# The app boot module is missing

The build starts from ` + "`app/app.js`" + ` unless ` + "`build.main`" + ` names another module.

## Things you can try
- Run stitch from the app root, or pass ` + "`--app`" + `
- Set ` + "`appRoot`" + ` in ` + "`stitch.cue`",
	}

	addonCycleIssue = &Issue{
		id: AddonCycleId,
		mdMsg: `
# Addon ordering contains a cycle

The ` + "`ember-addon.before`" + ` and ` + "`ember-addon.after`" + ` declarations of two or more
addons contradict each other.

## Things you can try
- Remove one of the conflicting ordering hints
- Restrict ` + "`activeAddons`" + ` to the addons the app uses`,
	}

	auditFindingsIssue = &Issue{
		id: AuditFindingsId,
		mdMsg: `
# The audit found problems

Each finding names a module, a message and a detail.

## Things you can try
- Read the report with ` + "`stitch audit --json | stitch audit pretty`" + `
- Silence known findings with ` + "`stitch audit --json | stitch audit acknowledge > audit-filter.js`" + `
  and pass ` + "`--filter audit-filter.js`",
	}

	watchLimitReachedIssue = &Issue{
		id: WatchLimitReachedId,
		mdMsg: `
# The file watcher ran out of resources

The operating system refused to watch more files.

## Things you can try
- On Linux, raise ` + "`fs.inotify.max_user_watches`" + ` with sysctl
- Narrow the watched tree with ` + "`build.entrypoints`",
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		packageNotFoundIssue.Id():          packageNotFoundIssue,
		unresolvedImportIssue.Id():         unresolvedImportIssue,
		malformedTemplateLiteralIssue.Id(): malformedTemplateLiteralIssue,
		amdInV2AddonIssue.Id():             amdInV2AddonIssue,
		bootModuleMissingIssue.Id():        bootModuleMissingIssue,
		addonCycleIssue.Id():               addonCycleIssue,
		auditFindingsIssue.Id():            auditFindingsIssue,
		watchLimitReachedIssue.Id():        watchLimitReachedIssue,
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
