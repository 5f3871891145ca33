package rules

import (
	"cmp"
	"fmt"
	"slices"
)

// Set is an ordered collection of rules with unique ids.
type Set struct {
	byID  map[string]*Rule
	rules []*Rule
}

// NewSet creates a set holding rules. Duplicate ids are rejected.
func NewSet(rules ...*Rule) (*Set, error) {
	set := &Set{byID: make(map[string]*Rule, len(rules))}

	for _, rule := range rules {
		err := set.Add(rule)
		if err != nil {
			return nil, err
		}
	}

	return set, nil
}

// Add inserts rule keeping the set sorted by id.
func (s *Set) Add(rule *Rule) error {
	if _, exists := s.byID[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}

	idx, _ := slices.BinarySearchFunc(s.rules, rule.ID, func(existing *Rule, id string) int {
		return cmp.Compare(existing.ID, id)
	})

	s.rules = slices.Insert(s.rules, idx, rule)
	s.byID[rule.ID] = rule

	return nil
}

// Len returns the number of rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}

	return len(s.rules)
}

// Rules returns the rules sorted by id. The slice must not be modified.
func (s *Set) Rules() []*Rule {
	if s == nil {
		return nil
	}

	return s.rules
}

// ByID looks a rule up by id.
func (s *Set) ByID(id string) (*Rule, bool) {
	if s == nil {
		return nil, false
	}

	rule, ok := s.byID[id]

	return rule, ok
}

// ForLanguage returns the rules that target language, sorted by id.
func (s *Set) ForLanguage(language string) []*Rule {
	var out []*Rule

	for _, rule := range s.Rules() {
		if rule.AppliesTo(language) {
			out = append(out, rule)
		}
	}

	return out
}

// Languages returns every language targeted by some rule, sorted.
func (s *Set) Languages() []string {
	seen := make(map[string]struct{})

	for _, rule := range s.Rules() {
		for _, lang := range rule.Languages {
			seen[lang] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for lang := range seen {
		out = append(out, lang)
	}

	slices.Sort(out)

	return out
}

// Select returns a new set restricted to ids. An empty selection returns s.
func (s *Set) Select(ids ...string) (*Set, error) {
	if len(ids) == 0 {
		return s, nil
	}

	selected := &Set{byID: make(map[string]*Rule, len(ids))}

	for _, id := range ids {
		rule, ok := s.ByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}

		if _, dup := selected.byID[id]; dup {
			continue
		}

		err := selected.Add(rule)
		if err != nil {
			return nil, err
		}
	}

	return selected, nil
}

// Exclude returns a new set without ids. Every id must name a rule in s.
func (s *Set) Exclude(ids ...string) (*Set, error) {
	if len(ids) == 0 {
		return s, nil
	}

	dropped := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if _, ok := s.ByID(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}

		dropped[id] = struct{}{}
	}

	kept := &Set{byID: make(map[string]*Rule, s.Len())}

	for _, rule := range s.Rules() {
		if _, skip := dropped[rule.ID]; skip {
			continue
		}

		kept.rules = append(kept.rules, rule)
		kept.byID[rule.ID] = rule
	}

	return kept, nil
}
