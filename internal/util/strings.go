// Package util holds small text helpers shared by workers and the CLI.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "..."

// TruncateString caps s at maxLen runes, ending truncated text with an
// ellipsis. Any maxLen of 3 or less yields just the ellipsis.
func TruncateString(s string, maxLen int) string {
	if maxLen <= len(Ellipsis) {
		return Ellipsis
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(Ellipsis)]) + Ellipsis
}

// TruncateANSI caps s at maxWidth terminal columns, keeping escape
// sequences intact and counting wide characters by their display width.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= len(Ellipsis) {
		return Ellipsis
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}

// OneLine collapses every run of whitespace, newlines included, into a
// single space.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Indent prefixes every non-empty line of s with prefix.
func Indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
