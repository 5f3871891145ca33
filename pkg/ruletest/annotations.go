// Package ruletest checks rules against annotated fixture files. A fixture
// marks the lines a rule must report with "ruleid: <id>" comments and the
// lines it must leave alone with "ok: <id>".
package ruletest

import (
	"bytes"
	"regexp"
	"strings"
)

// Kind is an annotation marker.
type Kind string

// Annotation markers. The todo variants record known false negatives and
// false positives; they are listed but never fail a check.
const (
	KindRuleID     Kind = "ruleid"
	KindOK         Kind = "ok"
	KindTodoRuleID Kind = "todoruleid"
	KindTodoOK     Kind = "todook"
)

// Todo reports whether the marker is one of the todo variants.
func (k Kind) Todo() bool {
	return k == KindTodoRuleID || k == KindTodoOK
}

// Annotation is one marker comment resolved to the line it applies to.
type Annotation struct {
	Kind    Kind     `json:"kind"`
	RuleIDs []string `json:"rule_ids"`
	// Line is the 1-based line the annotation applies to.
	Line int `json:"line"`
	// Source is the 1-based line the comment was written on.
	Source int `json:"source"`
}

var annotationRe = regexp.MustCompile(
	`(?://|#|/\*|--)\s*(todoruleid|todook|ruleid|ok)\s*:\s*([A-Za-z0-9_.\-]+(?:\s*,\s*[A-Za-z0-9_.\-]+)*)`,
)

// Annotations extracts the markers of source. A marker alone on its line
// applies to the next line that is not itself an annotation; a trailing
// marker applies to its own line.
func Annotations(source []byte) []Annotation {
	lines := bytes.Split(source, []byte("\n"))

	var (
		out     []Annotation
		pending []Annotation
	)

	for index, raw := range lines {
		number := index + 1
		text := strings.TrimRight(string(raw), "\r")

		loc := annotationRe.FindStringSubmatchIndex(text)
		if loc == nil {
			if len(pending) > 0 && strings.TrimSpace(text) != "" {
				for _, ann := range pending {
					ann.Line = number
					out = append(out, ann)
				}

				pending = nil
			}

			continue
		}

		ann := Annotation{
			Kind:    Kind(text[loc[2]:loc[3]]),
			RuleIDs: splitIDs(text[loc[4]:loc[5]]),
			Source:  number,
		}

		if strings.TrimSpace(text[:loc[0]]) != "" {
			ann.Line = number
			out = append(out, ann)

			continue
		}

		pending = append(pending, ann)
	}

	return out
}

func splitIDs(list string) []string {
	parts := strings.Split(list, ",")
	ids := make([]string, 0, len(parts))

	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}

	return ids
}
