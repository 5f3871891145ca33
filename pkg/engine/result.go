package engine

import (
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/codesift/pkg/diag"
)

// Process exit codes.
const (
	ExitClean    = 0
	ExitFindings = 1
	ExitFatal    = 2
)

// IOError reports a target that could not be read.
type IOError struct {
	Err  error
	Path string
	Op   string
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Stats summarizes a scan.
type Stats struct {
	Files     int           `json:"files"`
	Bytes     int64         `json:"bytes"`
	Skipped   int           `json:"skipped"`
	Cancelled int           `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of a scan. Findings and Diagnostics are sorted.
type Result struct {
	// Fatal is set when the run itself failed, for example a fatal parse of the
	// only explicitly requested file.
	Fatal       error             `json:"-"`
	Findings    []Finding         `json:"findings"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
	Stats       Stats             `json:"stats"`
}

// ExitCode maps the result to a process exit code. The worst outcome wins.
func (r *Result) ExitCode() int {
	if r.Fatal != nil || diag.HasKind(r.Diagnostics, diag.KindIO) {
		return ExitFatal
	}

	if CountUnsuppressed(r.Findings) > 0 {
		return ExitFindings
	}

	return ExitClean
}
