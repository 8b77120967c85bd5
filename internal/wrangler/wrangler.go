// Package wrangler implements the Cab Runtime's output-wrangling pipeline
// (spec §4.4 "Management" table): regex-triggered actions applied to each
// line of a cab's stdout/stderr as it streams. Grounded verbatim in
// semantics on the original Python implementation's
// stimela/kitchen/wranglers.py action classes, ported onto regexp2 (rather
// than Go's RE2-based regexp) because several real recipes' wrangler
// patterns rely on named groups interacting with backreferences/lookahead
// that RE2 cannot express.
package wrangler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"

	"github.com/caracal/kitchen/internal/kerrors"
)

// Rule pairs a compiled pattern with its ordered action list.
type Rule struct {
	Pattern *regexp2.Regexp
	Actions []Action
}

// Status accumulates the side effects of a cab run's wrangler pass: parsed
// outputs, warnings, and forced success/failure (spec §4.4/§4.7).
type Status struct {
	Outputs        map[string]any
	outputPriority map[string]int
	Warnings       []string
	ForcedSuccess  bool
	ForcedFailure  bool
	FailureMessage string
}

func NewStatus() *Status {
	return &Status{Outputs: map[string]any{}, outputPriority: map[string]int{}}
}

// Output source priorities (spec §4.4/§4.6's output-precedence rule):
// PARSE_JSON_OUTPUT_DICT > PARSE_JSON_OUTPUTS > PARSE_OUTPUT > file-based/
// flavour-native values. Within the same priority, later lines win.
const (
	PriorityNative = iota
	PriorityParseOutput
	PriorityJSONOutputs
	PriorityJSONOutputDict
)

// SetOutput records an output value at the given source priority, only
// overwriting an existing entry if priority is at least as high as the one
// that set it.
func (s *Status) SetOutput(key string, val any, priority int) {
	if cur, ok := s.outputPriority[key]; ok && priority < cur {
		return
	}
	s.Outputs[key] = val
	s.outputPriority[key] = priority
}

// LineResult is what a Rule pass over one line of output produces.
type LineResult struct {
	Display  string // the line text as it should be shown to the user, "" if suppressed
	Suppress bool
	Severity string // re-emit severity if set, e.g. "ERROR"
}

// Compile builds a Rule for one pattern plus its ordered action specifiers.
func Compile(pattern string, specs []string) (*Rule, error) {
	// Python-style (?P<name>...) groups are rewritten to the (?<name>...)
	// form that regexp2 accepts outside its RE2 mode.
	re, err := regexp2.Compile(strings.ReplaceAll(pattern, "(?P<", "(?<"), regexp2.None)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.LoadError, fmt.Errorf("wrangler pattern %q: %w", pattern, err))
	}
	actions := make([]Action, 0, len(specs))
	for _, spec := range specs {
		a, err := ParseAction(re, spec)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return &Rule{Pattern: re, Actions: actions}, nil
}

// ApplyLine attempts every configured rule against line, in declaration
// order, applying each matching rule's actions in listed order (spec §4.4:
// "Actions are applied in listed order for each line. Multiple regex
// entries are attempted independently on every line, in declaration
// order.").
func ApplyLine(rules []*Rule, status *Status, line string) LineResult {
	result := LineResult{Display: line}
	for _, rule := range rules {
		m, err := rule.Pattern.FindStringMatch(line)
		if err != nil || m == nil {
			continue
		}
		for _, action := range rule.Actions {
			out, severity := action.Apply(status, result.Display, m)
			if out == nil {
				result.Suppress = true
				result.Display = ""
				continue
			}
			result.Display = *out
			result.Suppress = false
			if severity != "" {
				result.Severity = severity
			}
		}
	}
	return result
}

// Action is one wrangler action (spec §4.4 table). Apply returns the
// (possibly modified) display text — nil to suppress the line — and a
// severity override, or "" for none.
type Action interface {
	Apply(status *Status, line string, m *regexp2.Match) (*string, string)
}

// ParseAction parses one action specifier string against the action table.
func ParseAction(re *regexp2.Regexp, spec string) (Action, error) {
	switch {
	case spec == "SUPPRESS":
		return suppressAction{}, nil
	case spec == "DECLARE_SUCCESS":
		return declareSuccessAction{}, nil
	case spec == "PARSE_JSON_OUTPUTS":
		return parseJSONOutputsAction{}, nil
	case spec == "PARSE_JSON_OUTPUT_DICT":
		return parseJSONOutputDictAction{}, nil
	case strings.HasPrefix(spec, "REPLACE:"):
		return replaceAction{replacement: strings.TrimPrefix(spec, "REPLACE:"), re: re}, nil
	case strings.HasPrefix(spec, "HIGHLIGHT:"):
		return highlightAction{style: strings.TrimPrefix(spec, "HIGHLIGHT:")}, nil
	case strings.HasPrefix(spec, "SEVERITY:"):
		level := strings.TrimPrefix(spec, "SEVERITY:")
		if !validLevel(level) {
			return nil, kerrors.Newf(kerrors.SchemaError, "wrangler action %q: invalid logging level", spec)
		}
		return severityAction{level: level}, nil
	case strings.HasPrefix(spec, "WARNING:"):
		return warningAction{message: strings.TrimPrefix(spec, "WARNING:")}, nil
	case spec == "ERROR" || strings.HasPrefix(spec, "ERROR:"):
		msg := ""
		if idx := strings.Index(spec, ":"); idx >= 0 {
			msg = spec[idx+1:]
		}
		return errorAction{message: msg}, nil
	case strings.HasPrefix(spec, "PARSE_OUTPUT:"):
		return parseParseOutput(spec)
	default:
		return nil, kerrors.Newf(kerrors.SchemaError, "%q is not a valid wrangler specifier", spec)
	}
}

func validLevel(level string) bool {
	switch level {
	case "ERROR", "WARNING", "INFO", "DEBUG", "CRITICAL", "FATAL":
		return true
	}
	return false
}

type suppressAction struct{}

func (suppressAction) Apply(_ *Status, _ string, _ *regexp2.Match) (*string, string) {
	return nil, ""
}

type replaceAction struct {
	replacement string
	re          *regexp2.Regexp
}

func (a replaceAction) Apply(_ *Status, line string, _ *regexp2.Match) (*string, string) {
	out, err := a.re.Replace(line, a.replacement, -1, -1)
	if err != nil {
		return &line, ""
	}
	return &out, ""
}

type highlightAction struct{ style string }

func (a highlightAction) Apply(_ *Status, line string, m *regexp2.Match) (*string, string) {
	full := m.String()
	out := strings.Replace(line, full, fmt.Sprintf("[%s]%s[/%s]", a.style, full, a.style), 1)
	return &out, ""
}

type severityAction struct{ level string }

func (a severityAction) Apply(_ *Status, line string, _ *regexp2.Match) (*string, string) {
	return &line, a.level
}

type warningAction struct{ message string }

func (a warningAction) Apply(status *Status, line string, _ *regexp2.Match) (*string, string) {
	status.Warnings = append(status.Warnings, a.message)
	return &line, "WARNING"
}

type errorAction struct{ message string }

func (a errorAction) Apply(status *Status, line string, m *regexp2.Match) (*string, string) {
	msg := a.message
	if msg != "" {
		msg = formatWithGroups(msg, m)
	} else {
		msg = fmt.Sprintf("cab marked as failed based on encountering %q in output", m.String())
	}
	status.ForcedFailure = true
	status.FailureMessage = msg
	return &line, "ERROR"
}

type declareSuccessAction struct{}

func (declareSuccessAction) Apply(status *Status, line string, _ *regexp2.Match) (*string, string) {
	status.ForcedSuccess = true
	return &line, ""
}

// formatWithGroups substitutes "{name}"-style references to m's named
// groups into msg, mirroring the original message.format(**match.groupdict()).
func formatWithGroups(msg string, m *regexp2.Match) string {
	out := msg
	for _, g := range m.Groups() {
		if g.Name == "" || isNumeric(g.Name) {
			continue
		}
		out = strings.ReplaceAll(out, "{"+g.Name+"}", g.String())
	}
	return out
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

type parseOutputAction struct {
	name  string
	group string
	dtype string
}

func parseParseOutput(spec string) (Action, error) {
	rest := strings.TrimPrefix(spec, "PARSE_OUTPUT:")
	parts := strings.Split(rest, ":")
	var name, group, dtype string
	switch len(parts) {
	case 2:
		group, dtype = parts[0], parts[1]
		name = group
	case 3:
		name, group, dtype = parts[0], parts[1], parts[2]
	default:
		return nil, kerrors.Newf(kerrors.SchemaError, "%q is not a valid PARSE_OUTPUT specifier", spec)
	}
	switch dtype {
	case "str", "bool", "int", "float", "complex", "json", "JSON", "yaml", "YAML":
	default:
		return nil, kerrors.Newf(kerrors.SchemaError, "%q: unsupported dtype %q", spec, dtype)
	}
	return parseOutputAction{name: name, group: group, dtype: dtype}, nil
}

func (a parseOutputAction) Apply(status *Status, line string, m *regexp2.Match) (*string, string) {
	raw := groupValue(m, a.group)
	val, err := loadScalar(raw, a.dtype)
	if err != nil {
		status.ForcedFailure = true
		status.FailureMessage = fmt.Sprintf("error parsing string %q for output %q: %v", raw, a.name, err)
		return &line, "ERROR"
	}
	status.SetOutput(a.name, val, PriorityParseOutput)
	return &line, ""
}

func groupValue(m *regexp2.Match, group string) string {
	if g := m.GroupByName(group); g != nil {
		return g.String()
	}
	var idx int
	if _, err := fmt.Sscanf(group, "%d", &idx); err == nil {
		if g := m.GroupByNumber(idx); g != nil {
			return g.String()
		}
	}
	return ""
}

func loadScalar(raw, dtype string) (any, error) {
	switch dtype {
	case "str":
		return raw, nil
	case "bool":
		return raw == "True" || raw == "true" || raw == "1", nil
	case "int":
		var n int64
		_, err := fmt.Sscanf(raw, "%d", &n)
		return n, err
	case "float", "complex":
		var f float64
		_, err := fmt.Sscanf(raw, "%g", &f)
		return f, err
	case "json", "JSON":
		var v any
		err := json.Unmarshal([]byte(raw), &v)
		return v, err
	case "yaml", "YAML":
		var v any
		err := yaml.Unmarshal([]byte(raw), &v)
		return v, err
	}
	return raw, nil
}

type parseJSONOutputsAction struct{}

func (parseJSONOutputsAction) Apply(status *Status, line string, m *regexp2.Match) (*string, string) {
	for _, g := range m.Groups() {
		if g.Name == "" || isNumeric(g.Name) || g.String() == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(g.String()), &v); err != nil {
			status.ForcedFailure = true
			status.FailureMessage = fmt.Sprintf("error parsing string %q for output %q: %v", g.String(), g.Name, err)
			continue
		}
		status.SetOutput(g.Name, v, PriorityJSONOutputs)
	}
	return &line, ""
}

type parseJSONOutputDictAction struct{}

func (parseJSONOutputDictAction) Apply(status *Status, line string, m *regexp2.Match) (*string, string) {
	groups := m.Groups()
	if len(groups) < 2 {
		return &line, ""
	}
	raw := groups[1].String()
	var dict map[string]any
	if err := json.Unmarshal([]byte(raw), &dict); err != nil {
		status.ForcedFailure = true
		status.FailureMessage = fmt.Sprintf("error parsing output dict from %q: %v", raw, err)
		return &line, "ERROR"
	}
	for k, v := range dict {
		status.SetOutput(k, v, PriorityJSONOutputDict)
	}
	return &line, ""
}
