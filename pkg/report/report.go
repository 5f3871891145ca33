// Package report renders findings as text, JSON or SARIF and prints the run
// summary tables.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown output format")

// Formats lists the supported format names.
func Formats() []string {
	return []string{string(FormatText), string(FormatJSON), string(FormatSARIF)}
}

// ParseFormat parses a format name case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatSARIF:
		return FormatSARIF, nil
	default:
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, name, strings.Join(Formats(), ", "))
	}
}

// Options control rendering.
type Options struct {
	// Rules describes the rules in SARIF output. When nil, descriptors are
	// derived from the findings.
	Rules []*rules.Rule
	// ToolVersion is reported as the SARIF driver version.
	ToolVersion string
	// Color enables ANSI colors in text output.
	Color bool
	// IncludeSuppressed keeps suppressed findings in text and JSON output.
	// SARIF always carries them, marked as suppressed in source.
	IncludeSuppressed bool
}

// Render formats findings. It does not modify its input.
func Render(findings []engine.Finding, format Format, opts Options) ([]byte, error) {
	switch format {
	case FormatText:
		return renderText(visible(findings, opts.IncludeSuppressed), opts), nil
	case FormatJSON:
		return renderJSON(visible(findings, opts.IncludeSuppressed))
	case FormatSARIF:
		return renderSARIF(findings, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func visible(findings []engine.Finding, includeSuppressed bool) []engine.Finding {
	out := make([]engine.Finding, 0, len(findings))

	for _, finding := range findings {
		if includeSuppressed || !finding.Suppressed {
			out = append(out, finding)
		}
	}

	return out
}

func renderJSON(findings []engine.Finding) ([]byte, error) {
	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode findings: %w", err)
	}

	return append(data, '\n'), nil
}
