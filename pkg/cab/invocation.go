package cab

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caracal/kitchen/pkg/schema"
)

// InvocationPlan is the fully-bound, backend-agnostic description of one
// execution: what to run and with what argv/environment (spec §4.4's
// "invocation plan"). A Backend turns this into a running process.
type InvocationPlan struct {
	Flavour Flavour
	Image   string

	Argv []string
	Env  map[string]string

	Stdin  string
	Stdout string
	Stderr string

	// Params carries the bound, typechecked parameter values, for flavours
	// (callable/inline-code/external) that consume them directly rather
	// than through argv.
	Params map[string]any
}

// Plan binds values against a cab's input schema and produces an
// InvocationPlan. values must already be typechecked (pkg/schema.Typecheck)
// and have defaults applied by the caller (the Step Scheduler).
func Plan(c *Cab, values map[string]any, env map[string]string) (*InvocationPlan, error) {
	plan := &InvocationPlan{
		Flavour: c.Flavour,
		Image:   c.Image,
		Env:     map[string]string{},
		Params:  values,
	}
	for k, v := range c.Management.Environment {
		plan.Env[k] = v
	}
	for k, v := range env {
		plan.Env[k] = v
	}

	if c.Flavour.Kind != FlavourBinary {
		// Non-binary flavours hand bound Params to their runtime collaborator
		// directly; no argv synthesis is needed.
		return plan, nil
	}

	argv := []string{c.Flavour.Command}
	var head, keyed, tail []renderedArg

	for i, name := range c.InputOrder() {
		entry, ok := c.Inputs[name]
		if !ok {
			continue
		}
		val, present := values[name]
		if !present || val == nil {
			if !entry.Policies.PassMissingAsNone {
				continue
			}
		}
		if entry.Policies.Skip {
			continue
		}
		toks, err := renderArg(entry, val)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		if len(toks) == 0 {
			continue
		}
		ra := renderedArg{order: i, name: name, tokens: toks}
		switch {
		case entry.Policies.PositionalHead:
			head = append(head, ra)
		case entry.Policies.Positional:
			tail = append(tail, ra)
		default:
			keyed = append(keyed, ra)
		}
	}

	sortStable(head)
	sortStable(tail)
	sortStable(keyed)

	for _, a := range head {
		argv = append(argv, a.tokens...)
	}
	for _, a := range keyed {
		argv = append(argv, a.tokens...)
	}
	for _, a := range tail {
		argv = append(argv, a.tokens...)
	}

	plan.Argv = argv
	return plan, nil
}

type renderedArg struct {
	order  int
	name   string
	tokens []string
}

func sortStable(a []renderedArg) {
	sort.SliceStable(a, func(i, j int) bool { return a[i].order < a[j].order })
}

// renderArg turns one bound value into its argv tokens, per the policies
// table (spec §4.4): prefix, key_value, explicit_true/false, repeat, split,
// replace and format. Non-boolean positional and positional_head values are
// rendered as the bare value, without prefix or name.
func renderArg(e *schema.Entry, val any) ([]string, error) {
	p := e.Policies
	name := e.DisplayName()
	prefix := p.Prefix
	if prefix == "" {
		prefix = "--"
	}

	if b, ok := val.(bool); ok {
		if b {
			if p.ExplicitTrue != "" {
				return prefixed(prefix, name, p.ExplicitTrue), nil
			}
			return []string{prefix + name}, nil
		}
		if p.ExplicitFalse != "" {
			return prefixed(prefix, name, p.ExplicitFalse), nil
		}
		return nil, nil // false booleans are omitted unless explicit_false is set
	}

	if p.Positional || p.PositionalHead {
		prefix, name = "", ""
	}

	if list, ok := val.([]any); ok {
		return renderList(e, list, prefix, name)
	}

	s := formatScalar(p.Format, val)
	s = applyReplace(p.Replace, s)

	if p.Split != "" {
		parts := strings.Split(s, p.Split)
		anyVals := make([]any, len(parts))
		for i, part := range parts {
			anyVals[i] = part
		}
		return renderList(e, anyVals, prefix, name)
	}

	if p.KeyValue {
		return []string{fmt.Sprintf("%s%s=%s", prefix, name, s)}, nil
	}
	return prefixedValue(prefix, name, s), nil
}

func renderList(e *schema.Entry, list []any, prefix, name string) ([]string, error) {
	p := e.Policies
	switch p.Repeat {
	case "repeat", "list":
		var out []string
		for i, item := range list {
			format := p.Format
			if i < len(p.FormatListScalar) {
				format = p.FormatListScalar[i]
			} else if len(p.FormatList) > 0 {
				format = p.FormatList[i%len(p.FormatList)]
			}
			s := applyReplace(p.Replace, formatScalar(format, item))
			if p.KeyValue {
				out = append(out, fmt.Sprintf("%s%s=%s", prefix, name, s))
			} else {
				out = append(out, prefixedValue(prefix, name, s)...)
			}
		}
		return out, nil
	default:
		sep := p.Repeat
		if sep == "" {
			sep = ","
		}
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = applyReplace(p.Replace, formatScalar(p.Format, item))
		}
		joined := strings.Join(parts, sep)
		if p.KeyValue {
			return []string{fmt.Sprintf("%s%s=%s", prefix, name, joined)}, nil
		}
		return prefixedValue(prefix, name, joined), nil
	}
}

func prefixed(prefix, name, value string) []string {
	return []string{prefix + name, value}
}

func prefixedValue(prefix, name, value string) []string {
	if prefix == "" && name == "" {
		return []string{value}
	}
	return []string{prefix + name, value}
}

func formatScalar(format string, val any) string {
	if format != "" {
		return fmt.Sprintf(format, val)
	}
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// applyReplace runs the policies.replace name-substitution map over s using
// a longest-key-first pass, equivalent in intent to scabha's multireplace:
// overlapping keys never double-substitute because each matched span is
// consumed once, left to right.
func applyReplace(repl map[string]string, s string) string {
	if len(repl) == 0 {
		return s
	}
	keys := make([]string, 0, len(repl))
	for k := range repl {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	var b strings.Builder
	for i := 0; i < len(s); {
		matched := false
		for _, k := range keys {
			if k == "" {
				continue
			}
			if strings.HasPrefix(s[i:], k) {
				b.WriteString(repl[k])
				i += len(k)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
