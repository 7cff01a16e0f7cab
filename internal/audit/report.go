// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xlab/treeprint"
)

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, res *Result) error {
	if res == nil {
		return errors.New("result is nil")
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(res); err != nil {
		return fmt.Errorf("encode audit result: %w", err)
	}
	return nil
}

// ReadResult decodes a result written by WriteJSON.
func ReadResult(r io.Reader) (*Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode audit result: %w", err)
	}
	if res.Modules == nil {
		res.Modules = make(map[string]*Module)
	}
	if res.Findings == nil {
		res.Findings = []Finding{}
	}
	return &res, nil
}

// WithFindings returns a copy of res carrying findings and a recomputed
// summary.
func (res *Result) WithFindings(findings []Finding) *Result {
	out := *res
	out.Findings = findings
	out.Summary = ComputeSummary(&out)
	return &out
}

// groupByFile returns the files with findings in first-seen order.
func groupByFile(findings []Finding) ([]string, map[string][]Finding) {
	var files []string
	byFile := make(map[string][]Finding)
	for _, f := range findings {
		if _, ok := byFile[f.Filename]; !ok {
			files = append(files, f.Filename)
		}
		byFile[f.Filename] = append(byFile[f.Filename], f)
	}
	return files, byFile
}

// Provenance returns the tree explaining why file was included, following
// the first-discoverer chain back to an entrypoint.
func (res *Result) Provenance(file string) treeprint.Tree {
	tree := treeprint.NewWithRoot(file)
	node := tree
	seen := map[string]bool{file: true}
	for cur := res.Modules[file]; cur != nil; {
		next := cur.ConsumedFrom
		if next == "" || next == RootMarker || seen[next] {
			node.AddNode(RootMarker)
			break
		}
		seen[next] = true
		node = node.AddBranch(next)
		cur = res.Modules[next]
	}
	return tree
}

// HumanReadable renders findings grouped by file, each with its code frames
// and the chain of modules that caused the file to be audited.
func (res *Result) HumanReadable() string {
	var sb strings.Builder
	files, byFile := groupByFile(res.Findings)
	if len(files) == 0 {
		sb.WriteString("No findings.\n")
		return sb.String()
	}
	for _, file := range files {
		sb.WriteString(file)
		sb.WriteString("\n")
		for _, f := range byFile[file] {
			fmt.Fprintf(&sb, "  %s: %s\n", f.Message, f.Detail)
			if f.CodeFrame != "" {
				sb.WriteString(indent(f.CodeFrame, "    "))
			}
		}
		if _, ok := res.Modules[file]; ok {
			sb.WriteString("  included because:\n")
			sb.WriteString(indent(res.Provenance(file).String(), "    "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%d finding(s) in %d file(s), %d module(s) audited\n",
		len(res.Findings), len(files), len(res.Modules))
	return sb.String()
}

// Markdown renders the result as a markdown report.
func (res *Result) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Audit Report\n\n")

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Modules audited: %d\n", res.Summary.TotalModules)
	fmt.Fprintf(&sb, "- Findings: %d\n\n", len(res.Findings))
	sb.WriteString("| Message | Count |\n")
	sb.WriteString("|---|---|\n")
	for _, msg := range messageOrder {
		fmt.Fprintf(&sb, "| %s | %d |\n", msg, res.Summary.CountsByMessage[msg])
	}
	sb.WriteString("\n")

	sb.WriteString("## Findings\n\n")
	files, byFile := groupByFile(res.Findings)
	if len(files) == 0 {
		sb.WriteString("No findings.\n")
		return sb.String()
	}
	for _, file := range files {
		fmt.Fprintf(&sb, "### `%s`\n\n", file)
		for _, f := range byFile[file] {
			fmt.Fprintf(&sb, "- **%s**: %s\n", f.Message, f.Detail)
			if f.CodeFrame != "" {
				sb.WriteString("\n```\n")
				sb.WriteString(f.CodeFrame)
				sb.WriteString("```\n\n")
			}
		}
		if _, ok := res.Modules[file]; ok {
			sb.WriteString("\nIncluded because:\n\n```\n")
			sb.WriteString(res.Provenance(file).String())
			sb.WriteString("```\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n") + "\n"
}
