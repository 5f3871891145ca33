package ruletest

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
)

// FileResult compares the lines a fixture expects with the lines reported,
// keyed by rule id.
type FileResult struct {
	Path       string           `json:"path"`
	Expected   map[string][]int `json:"expected,omitempty"`
	Reported   map[string][]int `json:"reported,omitempty"`
	Missed     map[string][]int `json:"missed,omitempty"`
	Unexpected map[string][]int `json:"unexpected,omitempty"`
	Todo       []Annotation     `json:"todo,omitempty"`
}

// Passed reports whether every expected line was reported and nothing else.
func (r FileResult) Passed() bool {
	return len(r.Missed) == 0 && len(r.Unexpected) == 0
}

// RuleIDs returns the rules the result mentions, sorted.
func (r FileResult) RuleIDs() []string {
	ids := make(map[string]struct{})

	for _, set := range []map[string][]int{r.Expected, r.Reported} {
		for id := range set {
			ids[id] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(ids))
}

// Check compares the unsuppressed findings reported for path against the
// annotations of that file. Lines carrying a todo marker for a rule are
// excluded from the comparison for that rule.
func Check(findings []engine.Finding, annotations []Annotation, path string) FileResult {
	result := FileResult{
		Path:     path,
		Expected: make(map[string][]int),
		Reported: make(map[string][]int),
	}

	todo := make(map[string]map[int]struct{})

	for _, ann := range annotations {
		if ann.Kind.Todo() {
			result.Todo = append(result.Todo, ann)
		}

		for _, id := range ann.RuleIDs {
			switch ann.Kind {
			case KindRuleID:
				result.Expected[id] = appendLine(result.Expected[id], ann.Line)
			case KindTodoRuleID, KindTodoOK:
				if todo[id] == nil {
					todo[id] = make(map[int]struct{})
				}

				todo[id][ann.Line] = struct{}{}
			case KindOK:
			}
		}
	}

	for _, finding := range findings {
		if finding.Path != path || finding.Suppressed {
			continue
		}

		result.Reported[finding.RuleID] = appendLine(result.Reported[finding.RuleID], finding.Start.Line)
	}

	for _, id := range result.RuleIDs() {
		missed := difference(result.Expected[id], result.Reported[id], todo[id])
		if len(missed) > 0 {
			if result.Missed == nil {
				result.Missed = make(map[string][]int)
			}

			result.Missed[id] = missed
		}

		unexpected := difference(result.Reported[id], result.Expected[id], todo[id])
		if len(unexpected) > 0 {
			if result.Unexpected == nil {
				result.Unexpected = make(map[string][]int)
			}

			result.Unexpected[id] = unexpected
		}
	}

	return result
}

func appendLine(lines []int, line int) []int {
	index, found := slices.BinarySearch(lines, line)
	if found {
		return lines
	}

	return slices.Insert(lines, index, line)
}

// difference returns the lines of left that are neither in right nor in skip.
func difference(left, right []int, skip map[int]struct{}) []int {
	var out []int

	for _, line := range left {
		if _, ok := skip[line]; ok {
			continue
		}

		if _, found := slices.BinarySearch(right, line); !found {
			out = append(out, line)
		}
	}

	return out
}

// Diff renders expected and reported lines as a unified line diff: "-" marks
// a line that was expected but not reported, "+" one reported unexpectedly.
func Diff(expected, reported []int) string {
	dmp := diffmatchpatch.New()

	chars1, chars2, lineArray := dmp.DiffLinesToChars(lineList(expected), lineList(reported))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lineArray)

	var buf strings.Builder

	for _, d := range diffs {
		prefix := " "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffEqual:
		}

		for line := range strings.SplitSeq(strings.TrimSuffix(d.Text, "\n"), "\n") {
			fmt.Fprintf(&buf, "%s%s\n", prefix, line)
		}
	}

	return buf.String()
}

func lineList(lines []int) string {
	var buf strings.Builder

	for _, line := range lines {
		fmt.Fprintf(&buf, "line %d\n", line)
	}

	return buf.String()
}
