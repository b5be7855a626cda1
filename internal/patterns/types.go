package patterns

import (
	"fmt"
	"regexp"
)

// Rule is a single redaction rule: text matched by Pattern is replaced by
// Replacement, whole span at a time.
type Rule struct {
	Name        string
	Category    string
	Pattern     *regexp.Regexp
	Replacement string

	builtin bool
}

// Set is an ordered, immutable collection of rules. Position in the set is
// match priority: when two rules match at the same offset, the earlier one
// wins.
type Set struct {
	rules []Rule
	index map[string]int // name -> position
}

func newSet() *Set {
	return &Set{index: make(map[string]int)}
}

// add inserts a rule, replacing in place when the name already exists so an
// override keeps the original priority slot.
func (s *Set) add(r Rule) {
	if i, ok := s.index[r.Name]; ok {
		s.rules[i] = r
		return
	}
	s.index[r.Name] = len(s.rules)
	s.rules = append(s.rules, r)
}

// remove drops the rule at position i and reindexes.
func (s *Set) remove(i int) {
	s.rules = append(s.rules[:i], s.rules[i+1:]...)
	for k := range s.index {
		delete(s.index, k)
	}
	for j, r := range s.rules {
		s.index[r.Name] = j
	}
}

// Len returns the number of active rules.
func (s *Set) Len() int {
	return len(s.rules)
}

// Rules returns the rules in priority order. Callers must not modify the
// returned slice.
func (s *Set) Rules() []Rule {
	return s.rules
}

// Names returns the rule names in priority order.
func (s *Set) Names() []string {
	names := make([]string, len(s.rules))
	for i, r := range s.rules {
		names[i] = r.Name
	}
	return names
}

// LoadOptions controls how a rule set is assembled. The zero value builds
// the built-in defaults with no compliance filter.
type LoadOptions struct {
	File       string   // optional rule file
	Dir        string   // optional directory of rule files
	Compliance []string // optional profile filter for built-ins
	NoDefaults bool     // skip built-ins entirely
}

// LoadError reports a rule source that could not be read.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("pattern source %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// defaultReplacement is the marker used when a rule does not specify one.
func defaultReplacement(category string) string {
	return "[REDACTED:" + category + "]"
}
