// Package match unifies compiled patterns with parsed source trees.
package match

import (
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/codesift/pkg/uast/pkg/node"
)

// ConsistencyViolation is returned when a metavariable that is already bound
// would be rebound to a structurally different subtree. It is an ordinary
// negative match result and is never reported to users.
type ConsistencyViolation struct {
	Name      string
	Bound     *node.Node
	Candidate *node.Node
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("metavariable %s already bound to %s, cannot bind %s", e.Name, e.Bound, e.Candidate)
}

// Bindings is an immutable metavariable environment. Extending it returns a
// new environment sharing its tail with the old one, so backtracking never
// has to undo anything. The nil *Bindings is the empty environment.
type Bindings struct {
	parent *Bindings
	name   string
	value  *node.Node
	size   int
}

// Lookup returns the node bound to name.
func (env *Bindings) Lookup(name string) (*node.Node, bool) {
	for curr := env; curr != nil; curr = curr.parent {
		if curr.name == name {
			return curr.value, true
		}
	}

	return nil, false
}

// Len returns the number of bound metavariables.
func (env *Bindings) Len() int {
	if env == nil {
		return 0
	}

	return env.size
}

// Bind returns env extended with name -> value without checking for an
// existing binding.
func (env *Bindings) Bind(name string, value *node.Node) *Bindings {
	return &Bindings{parent: env, name: name, value: value, size: env.Len() + 1}
}

// Unify binds name to value. If name is already bound, the existing subtree
// must be structurally equal to value; otherwise a *ConsistencyViolation is
// returned.
func (env *Bindings) Unify(name string, value *node.Node) (*Bindings, error) {
	bound, ok := env.Lookup(name)
	if !ok {
		return env.Bind(name, value), nil
	}

	if node.Equal(bound, value) {
		return env, nil
	}

	return nil, &ConsistencyViolation{Name: name, Bound: bound, Candidate: value}
}

// Merge unifies every binding of other into env.
func (env *Bindings) Merge(other *Bindings) (*Bindings, error) {
	merged := env

	for _, name := range other.Names() {
		value, _ := other.Lookup(name)

		next, err := merged.Unify(name, value)
		if err != nil {
			return nil, err
		}

		merged = next
	}

	return merged, nil
}

// Names returns the bound metavariable names, sorted.
func (env *Bindings) Names() []string {
	names := make([]string, 0, env.Len())

	for curr := env; curr != nil; curr = curr.parent {
		names = append(names, curr.name)
	}

	slices.Sort(names)

	return names
}

// Map returns the bindings as a map.
func (env *Bindings) Map() map[string]*node.Node {
	result := make(map[string]*node.Node, env.Len())

	for curr := env; curr != nil; curr = curr.parent {
		if _, seen := result[curr.name]; !seen {
			result[curr.name] = curr.value
		}
	}

	return result
}
