// Package rules loads declarative rule documents, validates them against an
// embedded schema and compiles their pattern formulas per target language.
package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/codesift/pkg/pattern"
)

// Severity is the rule severity.
type Severity string

// Supported severities, lowest first.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(name))) {
	case SeverityInfo:
		return SeverityInfo, nil
	case SeverityWarning:
		return SeverityWarning, nil
	case SeverityError:
		return SeverityError, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, name)
	}
}

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Op is a formula operator.
type Op int

// Formula operators.
const (
	OpPattern Op = iota
	OpAnd
	OpOr
	OpNot
	OpInside
	OpNotInside
	OpRegex
)

var opNames = map[Op]string{
	OpPattern:   "pattern",
	OpAnd:       "patterns",
	OpOr:        "pattern-either",
	OpNot:       "pattern-not",
	OpInside:    "pattern-inside",
	OpNotInside: "pattern-not-inside",
	OpRegex:     "metavariable-regex",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}

	return fmt.Sprintf("op(%d)", int(op))
}

// Positive reports whether the operator produces ranges on its own, as
// opposed to filtering the ranges of its siblings.
func (op Op) Positive() bool {
	return op == OpPattern || op == OpAnd || op == OpOr
}

// Formula is a compiled boolean composition of patterns for one language.
//
// OpPattern, OpNot, OpInside and OpNotInside carry Pattern. OpAnd and OpOr
// carry Children. OpRegex carries Metavariable and Regex.
type Formula struct {
	Pattern      *pattern.Pattern
	Regex        *regexp.Regexp
	Metavariable string
	Children     []*Formula
	Op           Op
	Line         int
}

// Positives returns the children that produce ranges.
func (f *Formula) Positives() []*Formula {
	var out []*Formula

	for _, child := range f.Children {
		if child.Op.Positive() {
			out = append(out, child)
		}
	}

	return out
}

// Filters returns the children that only filter ranges.
func (f *Formula) Filters() []*Formula {
	var out []*Formula

	for _, child := range f.Children {
		if !child.Op.Positive() {
			out = append(out, child)
		}
	}

	return out
}

// Patterns returns every compiled pattern in the formula, depth first.
func (f *Formula) Patterns() []*pattern.Pattern {
	var out []*pattern.Pattern

	if f.Pattern != nil {
		out = append(out, f.Pattern)
	}

	for _, child := range f.Children {
		out = append(out, child.Patterns()...)
	}

	return out
}

// Rule is a loaded, compiled rule. Rules are read-only once loaded.
type Rule struct {
	Metadata  map[string]any
	formulas  map[string]*Formula
	ID        string
	Message   string
	Severity  Severity
	Category  string
	Origin    string
	Languages []string
	Line      int
}

// Formula returns the formula compiled for language, or nil if the rule
// does not target it.
func (r *Rule) Formula(language string) *Formula {
	return r.formulas[language]
}

// AppliesTo reports whether the rule targets language.
func (r *Rule) AppliesTo(language string) bool {
	return slices.Contains(r.Languages, language)
}

// NewRule builds a rule from already compiled formulas. It is used by tests
// and by callers that construct rules programmatically.
func NewRule(id, message string, severity Severity, formulas map[string]*Formula) *Rule {
	languages := make([]string, 0, len(formulas))
	for lang := range formulas {
		languages = append(languages, lang)
	}

	slices.Sort(languages)

	return &Rule{
		ID:        id,
		Message:   message,
		Severity:  severity,
		Languages: languages,
		formulas:  formulas,
	}
}

// PatternFormula wraps a compiled pattern into a formula.
func PatternFormula(compiled *pattern.Pattern) *Formula {
	return &Formula{Op: OpPattern, Pattern: compiled}
}
