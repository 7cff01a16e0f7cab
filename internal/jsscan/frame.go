// SPDX-License-Identifier: MPL-2.0

package jsscan

import (
	"fmt"
	"strings"
)

// frameContext is how many lines are shown on each side of the marked line.
const frameContext = 2

// CodeFrame renders the lines around pos with a caret under the column.
// It returns "" when pos is outside src.
func CodeFrame(src []byte, pos Position) string {
	lines := strings.Split(string(src), "\n")
	if pos.Line < 1 || pos.Line > len(lines) {
		return ""
	}
	first := max(1, pos.Line-frameContext)
	last := min(len(lines), pos.Line+frameContext)
	width := len(fmt.Sprint(last))

	var b strings.Builder
	for n := first; n <= last; n++ {
		marker := " "
		if n == pos.Line {
			marker = ">"
		}
		line := strings.TrimRight(lines[n-1], "\r")
		fmt.Fprintf(&b, "%s %*d | %s\n", marker, width, n, line)
		if n == pos.Line {
			col := max(pos.Column, 1)
			fmt.Fprintf(&b, "  %s | %s^\n", strings.Repeat(" ", width), strings.Repeat(" ", col-1))
		}
	}
	return b.String()
}
