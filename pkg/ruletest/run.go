package ruletest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
	"github.com/Sumatoshi-tech/codesift/pkg/engine"
)

// Report is the outcome of checking every fixture under a root.
type Report struct {
	Files       []FileResult      `json:"files"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

// Passed reports whether every fixture passed.
func (r *Report) Passed() bool {
	for _, file := range r.Files {
		if !file.Passed() {
			return false
		}
	}

	return true
}

// Failed returns the number of fixtures that did not pass.
func (r *Report) Failed() int {
	failed := 0

	for _, file := range r.Files {
		if !file.Passed() {
			failed++
		}
	}

	return failed
}

// Run scans the fixtures under root with scanner and checks each file that
// carries at least one annotation.
func Run(ctx context.Context, scanner *engine.Scanner, root string, opts engine.TargetOptions) (*Report, error) {
	targets, walkDiags, err := engine.CollectTargets(root, opts)
	if err != nil {
		return nil, err
	}

	result, err := scanner.Scan(ctx, targets)
	if err != nil {
		return nil, err
	}

	report := &Report{Diagnostics: append(result.Diagnostics, walkDiags...)}
	diag.Sort(report.Diagnostics)

	for _, target := range targets {
		source, err := os.ReadFile(target.Path)
		if err != nil {
			return nil, fmt.Errorf("read fixture: %w", &engine.IOError{Op: "read", Path: target.Display, Err: err})
		}

		annotations := Annotations(source)
		if len(annotations) == 0 {
			continue
		}

		report.Files = append(report.Files, Check(result.Findings, annotations, target.Display))
	}

	return report, nil
}

// Write prints one line per fixture and a diff for each failing rule.
func (r *Report) Write(w io.Writer, colored bool) error {
	pass := color.New(color.FgGreen)
	fail := color.New(color.FgRed, color.Bold)
	todo := color.New(color.FgYellow)

	for _, c := range []*color.Color{pass, fail, todo} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	var buf strings.Builder

	for _, file := range r.Files {
		if file.Passed() {
			fmt.Fprintf(&buf, "%s %s\n", pass.Sprint("PASS"), file.Path)
		} else {
			fmt.Fprintf(&buf, "%s %s\n", fail.Sprint("FAIL"), file.Path)

			for _, id := range file.RuleIDs() {
				if len(file.Missed[id]) == 0 && len(file.Unexpected[id]) == 0 {
					continue
				}

				fmt.Fprintf(&buf, "  %s\n", id)

				for line := range strings.SplitSeq(strings.TrimSuffix(Diff(file.Expected[id], file.Reported[id]), "\n"), "\n") {
					fmt.Fprintf(&buf, "    %s\n", line)
				}
			}
		}

		for _, ann := range file.Todo {
			fmt.Fprintf(&buf, "  %s %s:%d %s\n", todo.Sprint(string(ann.Kind)), file.Path, ann.Line, strings.Join(ann.RuleIDs, ", "))
		}
	}

	fmt.Fprintf(&buf, "%d passed, %d failed\n", len(r.Files)-r.Failed(), r.Failed())

	if _, err := io.WriteString(w, buf.String()); err != nil {
		return fmt.Errorf("write test report: %w", err)
	}

	return nil
}
