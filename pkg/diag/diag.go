// Package diag defines the diagnostics collected while loading rules and
// scanning files. Diagnostics are reported next to findings and never abort
// a run on their own.
package diag

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Kind classifies a diagnostic by the layer that produced it.
type Kind string

// Diagnostic kinds.
const (
	KindParse   Kind = "parse"
	KindPattern Kind = "pattern"
	KindRule    Kind = "rule"
	KindIO      Kind = "io"
	KindTarget  Kind = "target"
)

// Level is the diagnostic severity.
type Level string

// Diagnostic levels.
const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Diagnostic is a single load-time or run-time problem.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Level   Level  `json:"level"`
	Path    string `json:"path,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`
}

// String renders the diagnostic as "path:line:col: level kind [rule]: message".
func (d Diagnostic) String() string {
	var buf strings.Builder

	if d.Path != "" {
		buf.WriteString(d.Path)

		if d.Line > 0 {
			fmt.Fprintf(&buf, ":%d", d.Line)

			if d.Col > 0 {
				fmt.Fprintf(&buf, ":%d", d.Col)
			}
		}

		buf.WriteString(": ")
	}

	fmt.Fprintf(&buf, "%s %s", d.Level, d.Kind)

	if d.RuleID != "" {
		fmt.Fprintf(&buf, " [%s]", d.RuleID)
	}

	buf.WriteString(": ")
	buf.WriteString(d.Message)

	return buf.String()
}

// Warning creates a warning-level diagnostic.
func Warning(kind Kind, path, message string) Diagnostic {
	return Diagnostic{Kind: kind, Level: LevelWarning, Path: path, Message: message}
}

// Error creates an error-level diagnostic.
func Error(kind Kind, path, message string) Diagnostic {
	return Diagnostic{Kind: kind, Level: LevelError, Path: path, Message: message}
}

// Sort orders diagnostics by path, line, column, rule and message.
func Sort(diags []Diagnostic) {
	slices.SortStableFunc(diags, func(left, right Diagnostic) int {
		return cmp.Or(
			cmp.Compare(left.Path, right.Path),
			cmp.Compare(left.Line, right.Line),
			cmp.Compare(left.Col, right.Col),
			cmp.Compare(left.RuleID, right.RuleID),
			cmp.Compare(left.Message, right.Message),
		)
	})
}

// Count returns how many diagnostics have the given level.
func Count(diags []Diagnostic, level Level) int {
	count := 0

	for _, d := range diags {
		if d.Level == level {
			count++
		}
	}

	return count
}

// HasKind reports whether any error-level diagnostic has the given kind.
func HasKind(diags []Diagnostic, kind Kind) bool {
	for _, d := range diags {
		if d.Kind == kind && d.Level == LevelError {
			return true
		}
	}

	return false
}
