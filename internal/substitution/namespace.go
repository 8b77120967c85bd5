// Package substitution implements the Substitution & Formula Engine (spec
// §4.3): `{namespace.path}` string substitution and `=expression` formula
// evaluation against a stack of namespaces. Hand-rolled rather than grounded
// on the teacher's goja-based internal/cwlexpr, because this grammar (`{…}`
// interpolation, `=` formulas, UNSET/EMPTY sentinels, a fixed namespace
// stack) is its own small language, not JavaScript; the interpolation-scan
// shape (balanced-delimiter matching, sole-expression-preserves-type) is
// nonetheless grounded on cwlexpr.evaluateInterpolated's approach. goja
// itself is kept and reused for the embedded-scripting collaborator
// (internal/scripting), where the cab flavours genuinely need JavaScript/
// Python-style callables.
package substitution

import (
	"fmt"
	"sort"
	"strings"
)

// Unset is the sentinel produced by the UNSET literal: assigning it to a
// parameter removes that binding entirely rather than setting it to a zero
// value.
type unsetType struct{}

func (unsetType) String() string { return "UNSET" }

// UnsetValue is the singleton UNSET sentinel.
var UnsetValue = unsetType{}

// IsUnset reports whether v is the UNSET sentinel.
func IsUnset(v any) bool {
	_, ok := v.(unsetType)
	return ok
}

// Namespace is a single named scope in the evaluation stack: a dotted-path
// lookup over its own value tree.
type Namespace struct {
	Name string
	Data map[string]any
}

// Stack is the ordered set of namespaces available at evaluation time (spec
// §4.3): recipe, root, current, previous, steps.<label>, info, config, self.
// Lookups of a bare (unqualified) identifier are not supported — every
// lookup names its namespace explicitly, e.g. "current.msdir".
type Stack struct {
	Recipe  map[string]any
	Root    map[string]any
	Current map[string]any
	Previous map[string]any
	Steps   map[string]map[string]any // label -> bound params+outputs
	Info    map[string]any
	Config  map[string]any
	Self    map[string]any
}

// NewStack builds an empty Stack; callers set the fields they have data for.
func NewStack() *Stack {
	return &Stack{Steps: map[string]map[string]any{}}
}

// Lookup resolves a dotted path rooted at a namespace name, e.g.
// "steps.cal_*.msdir" or "current.field". Wildcards ('*', '?') are
// supported on the step-label segment of "steps.<label>...."; when more
// than one registered label matches, the alphanumerically largest wins
// (spec §4.3).
func (s *Stack) Lookup(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	head := path[0]
	rest := path[1:]

	switch head {
	case "recipe":
		return lookupIn(s.Recipe, rest)
	case "root":
		return lookupIn(s.Root, rest)
	case "current":
		return lookupIn(s.Current, rest)
	case "previous":
		return lookupIn(s.Previous, rest)
	case "info":
		return lookupIn(s.Info, rest)
	case "config":
		return lookupIn(s.Config, rest)
	case "self":
		return lookupIn(s.Self, rest)
	case "steps":
		if len(rest) == 0 {
			return nil, false
		}
		label, paramPath := rest[0], rest[1:]
		data, ok := s.resolveStepLabel(label)
		if !ok {
			return nil, false
		}
		return lookupIn(data, paramPath)
	}
	return nil, false
}

// resolveStepLabel finds the registered step matching label, which may
// contain '*'/'?' wildcards; ties are broken by taking the alphanumerically
// largest matching label.
func (s *Stack) resolveStepLabel(label string) (map[string]any, bool) {
	if data, ok := s.Steps[label]; ok && !strings.ContainsAny(label, "*?") {
		return data, true
	}
	var candidates []string
	for k := range s.Steps {
		if matchWildcard(label, k) {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Strings(candidates)
	best := candidates[len(candidates)-1]
	return s.Steps[best], true
}

// matchWildcard implements shell-style '*'/'?' matching (no character
// classes, which the spec's step-label wildcards don't use).
func matchWildcard(pattern, s string) bool {
	return matchWildcardRec(pattern, s)
}

func matchWildcardRec(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		if matchWildcardRec(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if matchWildcardRec(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if s == "" {
			return false
		}
		return matchWildcardRec(pattern[1:], s[1:])
	default:
		if s == "" || s[0] != pattern[0] {
			return false
		}
		return matchWildcardRec(pattern[1:], s[1:])
	}
}

// lookupIn walks a dotted path through nested maps/lists, with '[index]'
// subscripting supported as its own path segment form "name[idx]" having
// already been split by the caller.
func lookupIn(data map[string]any, path []string) (any, bool) {
	var cur any = data
	for _, seg := range path {
		name, idx, hasIdx := splitIndex(seg)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[name]
		if !ok {
			return nil, false
		}
		cur = v
		if hasIdx {
			list, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			cur = list[idx]
		}
	}
	return cur, true
}

// splitIndex splits "name[idx]" into ("name", idx, true), or returns
// (seg, 0, false) if seg has no index suffix.
func splitIndex(seg string) (string, int, bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	name := seg[:open]
	idxStr := seg[open+1 : len(seg)-1]
	var idx int
	if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
		return seg, 0, false
	}
	return name, idx, true
}
