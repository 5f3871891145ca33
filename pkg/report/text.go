package report

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
)

// palette colors text output. Colors are enabled per instance so that the
// library's terminal detection does not leak into rendered bytes.
type palette struct {
	severity map[rules.Severity]*color.Color
	path     *color.Color
	muted    *color.Color
}

func newPalette(enabled bool) palette {
	pal := palette{
		severity: map[rules.Severity]*color.Color{
			rules.SeverityError:   color.New(color.FgRed, color.Bold),
			rules.SeverityWarning: color.New(color.FgYellow),
			rules.SeverityInfo:    color.New(color.FgCyan),
		},
		path:  color.New(color.Bold),
		muted: color.New(color.Faint),
	}

	for _, c := range []*color.Color{pal.path, pal.muted} {
		toggle(c, enabled)
	}

	for _, c := range pal.severity {
		toggle(c, enabled)
	}

	return pal
}

func toggle(c *color.Color, enabled bool) {
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
}

func (pal palette) paint(severity rules.Severity) *color.Color {
	if c, ok := pal.severity[severity]; ok {
		return c
	}

	return pal.muted
}

// SingleLine flattens input for one terminal line. Control characters are
// dropped and every whitespace run becomes a single space.
func SingleLine(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, input)

	return strings.Join(strings.Fields(cleaned), " ")
}

// renderText writes one "path:line:col: [severity] rule_id: message" line per
// finding. Messages interpolate source text, so they are flattened first.
func renderText(findings []engine.Finding, opts Options) []byte {
	pal := newPalette(opts.Color)

	var buf bytes.Buffer

	for _, finding := range findings {
		location := fmt.Sprintf("%s:%d:%d", SingleLine(finding.Path), finding.Start.Line, finding.Start.Col)

		fmt.Fprintf(&buf, "%s: %s %s: %s",
			pal.path.Sprint(location),
			pal.paint(finding.Severity).Sprintf("[%s]", finding.Severity),
			finding.RuleID,
			SingleLine(finding.Message),
		)

		if finding.Suppressed {
			buf.WriteString(pal.muted.Sprint(" (suppressed)"))
		}

		buf.WriteByte('\n')
	}

	return buf.Bytes()
}
