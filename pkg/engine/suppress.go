package engine

import (
	"bytes"
	"strings"
)

func splitLines(source []byte) []string {
	raw := bytes.Split(source, []byte{'\n'})
	lines := make([]string, len(raw))

	for idx, line := range raw {
		lines[idx] = string(bytes.TrimSuffix(line, []byte{'\r'}))
	}

	return lines
}

// suppressed reports whether the finding of ruleID starting on the 1-based
// line is silenced by a marker on that line or the line above.
//
// A bare marker silences every rule. "marker: id1, id2" silences only the
// listed rules.
func suppressed(lines []string, line int, ruleID, marker string) bool {
	if marker == "" {
		return false
	}

	for _, candidate := range []int{line, line - 1} {
		if candidate < 1 || candidate > len(lines) {
			continue
		}

		if markerSilences(lines[candidate-1], ruleID, marker) {
			return true
		}
	}

	return false
}

func markerSilences(text, ruleID, marker string) bool {
	rest := text

	for {
		idx := strings.Index(rest, marker)
		if idx < 0 {
			return false
		}

		before := rest[:idx]
		rest = rest[idx+len(marker):]

		if idx > 0 && isWordByte(before[idx-1]) {
			continue
		}

		if rest != "" && isWordByte(rest[0]) {
			continue
		}

		ids, scoped := strings.CutPrefix(strings.TrimLeft(rest, " \t"), ":")
		if !scoped {
			return true
		}

		for _, field := range strings.FieldsFunc(ids, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if strings.TrimRight(field, "*/-#") == ruleID {
				return true
			}
		}
	}
}

func isWordByte(ch byte) bool {
	return ch == '_' || ch == '-' || ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}
