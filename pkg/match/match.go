package match

import (
	"iter"

	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// Window is a successful match of a sibling-sequence pattern: the matched
// siblings are siblings[Start:End].
type Window struct {
	Env   *Bindings
	Start int
	End   int
}

// emit receives one environment and the number of target siblings consumed.
// Returning false stops the search.
type emit func(env *Bindings, consumed int) bool

// Match unifies pattern with target, rooted at target. It yields one
// environment per distinct way the pattern matches; a pattern without
// metavariables or ellipses yields at most once. The sequence is lazy and
// backtracks only within one sibling list at a time.
func Match(pattern, target *node.Node, env *Bindings) iter.Seq[*Bindings] {
	return func(yield func(*Bindings) bool) {
		if pattern == nil || target == nil {
			return
		}

		matchNode(pattern, target, env, yield)
	}
}

// Matches reports whether pattern matches target at least once.
func Matches(pattern, target *node.Node) bool {
	for range Match(pattern, target, nil) {
		return true
	}

	return false
}

// MatchSequence finds every run of consecutive siblings matched by the
// pattern sequence. Runs may start at any sibling; a trailing ellipsis
// extends the run to the end of the list.
func MatchSequence(patterns, siblings []*node.Node, env *Bindings) iter.Seq[Window] {
	for len(patterns) > 0 && patterns[0].IsEllipsis() {
		patterns = patterns[1:]
	}

	return func(yield func(Window) bool) {
		if len(patterns) == 0 {
			return
		}

		for start := range siblings {
			done := !matchList(patterns, siblings[start:], env, true, func(found *Bindings, consumed int) bool {
				if consumed == 0 {
					return true
				}

				return yield(Window{Env: found, Start: start, End: start + consumed})
			})
			if done {
				return
			}
		}
	}
}

// matchNode returns false when the consumer asked to stop.
func matchNode(pattern, target *node.Node, env *Bindings, yield func(*Bindings) bool) bool {
	switch {
	case pattern.IsMetavariable():
		next, err := env.Unify(pattern.Token, target)
		if err != nil {
			return true
		}

		return yield(next)
	case pattern.IsEllipsis():
		return yield(env)
	case pattern.Type != target.Type:
		return true
	case len(pattern.Children) == 0 && len(target.Children) == 0:
		if pattern.Token != target.Token {
			return true
		}

		return yield(env)
	}

	return matchList(pattern.Children, target.Children, env, false, func(found *Bindings, _ int) bool {
		return yield(found)
	})
}

// matchList matches patterns against targets element-wise. In prefix mode
// targets may have unmatched trailing elements; otherwise both lists must be
// consumed entirely. An ellipsis tries the shortest run first; as the last
// pattern it consumes every remaining target.
func matchList(patterns, targets []*node.Node, env *Bindings, prefix bool, yield emit) bool {
	return matchFrom(patterns, targets, 0, env, prefix, yield)
}

func matchFrom(patterns, targets []*node.Node, offset int, env *Bindings, prefix bool, yield emit) bool {
	if len(patterns) == 0 {
		if len(targets) > 0 && !prefix {
			return true
		}

		return yield(env, offset)
	}

	head := patterns[0]

	if head.IsEllipsis() {
		if len(patterns) == 1 {
			return yield(env, offset+len(targets))
		}

		for skip := 0; skip <= len(targets); skip++ {
			if !matchFrom(patterns[1:], targets[skip:], offset+skip, env, prefix, yield) {
				return false
			}
		}

		return true
	}

	if len(targets) == 0 {
		return true
	}

	return matchNode(head, targets[0], env, func(next *Bindings) bool {
		return matchFrom(patterns[1:], targets[1:], offset+1, next, prefix, yield)
	})
}
