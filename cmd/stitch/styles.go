// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Color palette shared by all CLI output, tuned for dark terminals.
const (
	// ColorPrimary is purple, for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")
	// ColorMuted is gray, for subtitles and de-emphasized content.
	ColorMuted = lipgloss.Color("#6B7280")
	// ColorSuccess is green, for clean builds and audits.
	ColorSuccess = lipgloss.Color("#10B981")
	// ColorError is red, for failures and findings.
	ColorError = lipgloss.Color("#EF4444")
	// ColorWarning is amber, for build warnings.
	ColorWarning = lipgloss.Color("#F59E0B")
	// ColorHighlight is blue, for specifiers, paths and runtime names.
	ColorHighlight = lipgloss.Color("#3B82F6")
	// ColorVerbose is light gray, for trace output.
	ColorVerbose = lipgloss.Color("#9CA3AF")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages and finding counts.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warnings.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for specifiers, file paths and other literal values.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	// VerboseStyle is for resolver traces and supplementary details.
	VerboseStyle = lipgloss.NewStyle().
			Foreground(ColorVerbose)

	// outcomeStyles color a resolution by its outcome.
	outcomeStyles = map[string]lipgloss.Style{
		"found":     SuccessStyle,
		"virtual":   CmdStyle,
		"external":  WarningStyle,
		"not_found": ErrorStyle,
	}
)
