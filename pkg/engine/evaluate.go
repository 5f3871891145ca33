package engine

import (
	"github.com/Sumatoshi-tech/codesift/pkg/match"
	"github.com/Sumatoshi-tech/codesift/pkg/pattern"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/uast"
	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// DefaultSuppressionMarker is the in-source comment marker that suppresses
// findings on its line and the line below.
const DefaultSuppressionMarker = "nosift"

// Evaluate runs every rule of set that targets file's language and returns
// the findings sorted. path is the display path recorded in findings.
func Evaluate(set *rules.Set, file *uast.File, path string) []Finding {
	return evaluate(set, file, path, DefaultSuppressionMarker)
}

func evaluate(set *rules.Set, file *uast.File, path, marker string) []Finding {
	ev := newEvaluator(file, marker)

	var findings []Finding

	for _, rule := range set.ForLanguage(file.Language) {
		findings = append(findings, ev.rule(rule, path)...)
	}

	SortFindings(findings)

	return findings
}

// span is a matched range of source together with the environment that
// produced it.
type span struct {
	pos *node.Positions
	env *match.Bindings
}

type spanKey struct {
	start uint
	end   uint
}

func keyOf(pos *node.Positions) spanKey {
	return spanKey{start: pos.StartOffset, end: pos.EndOffset}
}

// evaluator holds per-file indexes shared by all rules. It is owned by a
// single goroutine.
type evaluator struct {
	file    *uast.File
	byType  map[node.Type][]*node.Node
	parents []*node.Node
	named   []*node.Node
	cache   map[*pattern.Pattern][]span
	lines   []string
	marker  string
}

func newEvaluator(file *uast.File, marker string) *evaluator {
	ev := &evaluator{
		file:   file,
		byType: make(map[node.Type][]*node.Node),
		cache:  make(map[*pattern.Pattern][]span),
		lines:  splitLines(file.Source),
		marker: marker,
	}

	file.Root.VisitPreOrder(func(current *node.Node) {
		if !current.Anonymous {
			ev.named = append(ev.named, current)
		}

		ev.byType[current.Type] = append(ev.byType[current.Type], current)

		if len(current.Children) > 0 {
			ev.parents = append(ev.parents, current)
		}
	})

	return ev
}

func (ev *evaluator) rule(rule *rules.Rule, path string) []Finding {
	formula := rule.Formula(ev.file.Language)
	if formula == nil {
		return nil
	}

	seen := make(map[spanKey]struct{})

	var findings []Finding

	for _, found := range ev.eval(formula) {
		key := keyOf(found.pos)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		findings = append(findings, ev.finding(rule, path, found))
	}

	return findings
}

func (ev *evaluator) finding(rule *rules.Rule, path string, found span) Finding {
	bound := make(map[string]string, found.env.Len())
	for name, value := range found.env.Map() {
		bound[name] = ev.file.Text(value)
	}

	snippet := TrimSnippet(uast.SourceText(ev.file.Source, &node.Node{Pos: found.pos}))
	start := startPosition(found.pos)

	result := Finding{
		RuleID:      rule.ID,
		Path:        path,
		Severity:    rule.Severity,
		Message:     interpolate(rule.Message, bound),
		Category:    rule.Category,
		Snippet:     snippet,
		Fingerprint: Fingerprint(rule.ID, path, snippet),
		Start:       start,
		End:         endPosition(found.pos),
		Suppressed:  suppressed(ev.lines, start.Line, rule.ID, ev.marker),
	}

	if len(bound) > 0 {
		result.Metavariables = bound
	}

	return result
}

// eval returns the ranges a formula matches, in the order they were found.
func (ev *evaluator) eval(formula *rules.Formula) []span {
	switch formula.Op {
	case rules.OpPattern:
		return ev.patternSpans(formula.Pattern)
	case rules.OpOr:
		var union []span

		for _, branch := range formula.Children {
			union = append(union, ev.eval(branch)...)
		}

		return union
	case rules.OpAnd:
		return ev.conjunction(formula)
	default:
		return nil
	}
}

func (ev *evaluator) conjunction(formula *rules.Formula) []span {
	positives := formula.Positives()
	if len(positives) == 0 {
		return nil
	}

	current := ev.eval(positives[0])

	for _, positive := range positives[1:] {
		if len(current) == 0 {
			return nil
		}

		current = intersect(current, ev.eval(positive))
	}

	for _, filter := range formula.Filters() {
		if len(current) == 0 {
			return nil
		}

		current = ev.filter(filter, current)
	}

	return current
}

// intersect keeps ranges present in both inputs whose environments unify.
func intersect(left, right []span) []span {
	index := make(map[spanKey][]span, len(right))
	for _, candidate := range right {
		key := keyOf(candidate.pos)
		index[key] = append(index[key], candidate)
	}

	var out []span

	for _, current := range left {
		for _, other := range index[keyOf(current.pos)] {
			merged, err := current.env.Merge(other.env)
			if err != nil {
				continue
			}

			out = append(out, span{pos: current.pos, env: merged})
		}
	}

	return out
}

func (ev *evaluator) filter(filter *rules.Formula, current []span) []span {
	switch filter.Op {
	case rules.OpNot:
		excluded := ev.patternSpans(filter.Pattern)

		return keepIf(current, func(candidate span) bool {
			return !anyCompatible(excluded, candidate, func(other *node.Positions) bool {
				return other.Same(candidate.pos)
			})
		})
	case rules.OpNotInside:
		outer := ev.patternSpans(filter.Pattern)

		return keepIf(current, func(candidate span) bool {
			return !anyCompatible(outer, candidate, func(other *node.Positions) bool {
				return other.Contains(candidate.pos)
			})
		})
	case rules.OpInside:
		return ev.inside(filter, current)
	case rules.OpRegex:
		return keepIf(current, func(candidate span) bool {
			bound, ok := candidate.env.Lookup(filter.Metavariable)

			return ok && filter.Regex.MatchString(ev.file.Text(bound))
		})
	default:
		return current
	}
}

// inside keeps ranges contained in a compatible match of the filter pattern
// and extends their environment with that match's bindings.
func (ev *evaluator) inside(filter *rules.Formula, current []span) []span {
	outer := ev.patternSpans(filter.Pattern)

	var out []span

	for _, candidate := range current {
		for _, other := range outer {
			if !other.pos.Contains(candidate.pos) {
				continue
			}

			merged, err := candidate.env.Merge(other.env)
			if err != nil {
				continue
			}

			out = append(out, span{pos: candidate.pos, env: merged})

			break
		}
	}

	return out
}

func anyCompatible(others []span, candidate span, located func(*node.Positions) bool) bool {
	for _, other := range others {
		if !located(other.pos) {
			continue
		}

		if _, err := candidate.env.Merge(other.env); err == nil {
			return true
		}
	}

	return false
}

func keepIf(spans []span, keep func(span) bool) []span {
	out := spans[:0:0]

	for _, candidate := range spans {
		if keep(candidate) {
			out = append(out, candidate)
		}
	}

	return out
}

// patternSpans matches compiled against every candidate node in document
// order. Results are cached per pattern for the lifetime of the evaluator.
func (ev *evaluator) patternSpans(compiled *pattern.Pattern) []span {
	if cached, ok := ev.cache[compiled]; ok {
		return cached
	}

	var out []span

	if compiled.IsSequence() {
		out = ev.sequenceSpans(compiled.Sequence)
	} else {
		for _, candidate := range ev.candidates(compiled.Root) {
			for env := range match.Match(compiled.Root, candidate, nil) {
				out = append(out, span{pos: candidate.Pos, env: env})
			}
		}
	}

	ev.cache[compiled] = out

	return out
}

// candidates narrows anchor nodes by the pattern root's type. A bare
// metavariable anchors on named nodes only, never on keyword or operator
// tokens.
func (ev *evaluator) candidates(root *node.Node) []*node.Node {
	if root.IsMetavariable() {
		return ev.named
	}

	return ev.byType[root.Type]
}

func (ev *evaluator) sequenceSpans(sequence []*node.Node) []span {
	var out []span

	for _, parent := range ev.parents {
		for window := range match.MatchSequence(sequence, parent.Children, nil) {
			first := parent.Children[window.Start]
			last := parent.Children[window.End-1]

			out = append(out, span{pos: node.Span(first.Pos, last.Pos), env: window.Env})
		}
	}

	return out
}
