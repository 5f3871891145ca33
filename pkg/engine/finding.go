// Package engine evaluates rule sets against parsed files and runs scans over
// many files with a worker pool.
package engine

import (
	"cmp"
	"regexp"
	"slices"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/safeconv"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// Snippet trimming limits.
const (
	maxSnippetRunes  = 250
	snippetHeadRunes = 240
	snippetTailRunes = 10
	snippetElision   = "..."
)

// fingerprintNamespace scopes finding fingerprints to this tool.
var fingerprintNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Sumatoshi-tech/codesift"))

// Position is a 1-based line and column plus the byte offset.
type Position struct {
	Line   int `json:"line"`
	Col    int `json:"col"`
	Offset int `json:"offset"`
}

// Finding is a reported rule match. Findings are values and never mutated
// after creation.
type Finding struct {
	Metavariables map[string]string `json:"metavariables,omitempty"`
	RuleID        string            `json:"rule_id"`
	Path          string            `json:"path"`
	Severity      rules.Severity    `json:"severity"`
	Message       string            `json:"message"`
	Category      string            `json:"category,omitempty"`
	Snippet       string            `json:"snippet"`
	Fingerprint   string            `json:"fingerprint"`
	Start         Position          `json:"start"`
	End           Position          `json:"end"`
	Suppressed    bool              `json:"suppressed,omitempty"`
}

// SortFindings orders findings by path, start line, start column and rule
// id, then by end position and message.
func SortFindings(findings []Finding) {
	slices.SortStableFunc(findings, compareFindings)
}

func compareFindings(left, right Finding) int {
	return cmp.Or(
		cmp.Compare(left.Path, right.Path),
		cmp.Compare(left.Start.Line, right.Start.Line),
		cmp.Compare(left.Start.Col, right.Start.Col),
		cmp.Compare(left.RuleID, right.RuleID),
		cmp.Compare(left.End.Line, right.End.Line),
		cmp.Compare(left.End.Col, right.End.Col),
		cmp.Compare(left.Message, right.Message),
	)
}

// CountUnsuppressed returns the number of findings not suppressed in source.
func CountUnsuppressed(findings []Finding) int {
	count := 0

	for _, finding := range findings {
		if !finding.Suppressed {
			count++
		}
	}

	return count
}

func startPosition(pos *node.Positions) Position {
	return Position{
		Line:   safeconv.MustUintToInt(pos.StartLine),
		Col:    safeconv.MustUintToInt(pos.StartCol),
		Offset: safeconv.MustUintToInt(pos.StartOffset),
	}
}

func endPosition(pos *node.Positions) Position {
	return Position{
		Line:   safeconv.MustUintToInt(pos.EndLine),
		Col:    safeconv.MustUintToInt(pos.EndCol),
		Offset: safeconv.MustUintToInt(pos.EndOffset),
	}
}

var metavariableRef = regexp.MustCompile(`\$[A-Z_][A-Z0-9_]*`)

// interpolate replaces $NAME references in template with bound texts.
// Unbound references are left as written.
func interpolate(template string, bound map[string]string) string {
	return metavariableRef.ReplaceAllStringFunc(template, func(ref string) string {
		if text, ok := bound[ref]; ok {
			return text
		}

		return ref
	})
}

// TrimSnippet shortens long snippets to their first 240 and last 10
// characters.
func TrimSnippet(snippet string) string {
	if utf8.RuneCountInString(snippet) <= maxSnippetRunes {
		return snippet
	}

	runes := []rune(snippet)

	return string(runes[:snippetHeadRunes]) + snippetElision + string(runes[len(runes)-snippetTailRunes:])
}

// Fingerprint returns a stable identifier for a finding that survives line
// shifts: a name-based UUID of the rule id, path and snippet.
func Fingerprint(ruleID, path, snippet string) string {
	return uuid.NewSHA1(fingerprintNamespace, []byte(ruleID+"\x00"+path+"\x00"+snippet)).String()
}
