package substitution

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caracal/kitchen/internal/kerrors"
)

// Engine evaluates substitution strings and formulas against a Stack.
type Engine struct {
	Funcs map[string]Func
}

// NewEngine creates an Engine with the standard builtin function set.
func NewEngine() *Engine {
	return &Engine{Funcs: StandardFuncs()}
}

// EvaluateValue evaluates one bound-parameter value (spec §4.3): strings are
// checked for the `=`/`==` formula prefix and otherwise substitution-scanned;
// lists and maps are walked recursively; anything else passes through
// unchanged.
func (e *Engine) EvaluateValue(raw any, stack *Stack) (any, error) {
	switch v := raw.(type) {
	case string:
		return e.evaluateString(v, stack)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := e.EvaluateValue(item, stack)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := e.EvaluateValue(item, stack)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return raw, nil
	}
}

func (e *Engine) evaluateString(s string, stack *Stack) (any, error) {
	if strings.HasPrefix(s, "==") {
		return "=" + s[2:], nil
	}
	if strings.HasPrefix(s, "=") {
		val, err := e.EvaluateFormula(s[1:], stack)
		if err != nil {
			return nil, err
		}
		if IsUnset(val) {
			return UnsetValue, nil
		}
		return val, nil
	}
	return e.substitute(s, stack)
}

// braceUnescaper turns the escaped `{{` and `}}` of literal text into single
// braces.
var braceUnescaper = strings.NewReplacer("{{", "{", "}}", "}")

// substitute replaces every `{...}` occurrence in s. `{{` and `}}` produce a
// literal `{` and `}`. If the entire string is a single `{...}` substitution, the typed
// lookup/format result is returned directly rather than stringified, so a
// sole substitution can yield a list, number or bool.
func (e *Engine) substitute(s string, stack *Stack) (any, error) {
	matches, err := findBraces(s)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return braceUnescaper.Replace(s), nil
	}
	if len(matches) == 1 && matches[0].start == 0 && matches[0].end == len(s) {
		return e.evalBraceExpr(matches[0].expr, stack)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(braceUnescaper.Replace(s[last:m.start]))
		val, err := e.evalBraceExpr(m.expr, stack)
		if err != nil {
			return nil, err
		}
		b.WriteString(ToDisplayString(val))
		last = m.end
	}
	b.WriteString(braceUnescaper.Replace(s[last:]))
	return b.String(), nil
}

type braceMatch struct {
	start, end int
	expr       string
}

// findBraces scans for balanced `{...}` spans, skipping escaped `{{`.
func findBraces(s string) ([]braceMatch, error) {
	var out []braceMatch
	i := 0
	for i < len(s) {
		if s[i] == '{' {
			if i+1 < len(s) && s[i+1] == '{' {
				i += 2
				continue
			}
			depth := 1
			j := i + 1
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				j++
			}
			if depth != 0 {
				return nil, kerrors.New(kerrors.LoadError, fmt.Sprintf("unbalanced '{' in %q", s))
			}
			out = append(out, braceMatch{start: i, end: j, expr: s[i+1 : j-1]})
			i = j
			continue
		}
		i++
	}
	return out, nil
}

// evalBraceExpr evaluates the interior of a `{...}` substitution: a dotted
// namespace lookup (with optional wildcards/[index]) followed by an optional
// ":format spec".
func (e *Engine) evalBraceExpr(inner string, stack *Stack) (any, error) {
	lookupPart, formatSpec, hasFormat := splitFormatSpec(inner)
	path := strings.Split(strings.TrimSpace(lookupPart), ".")
	val, ok := stack.Lookup(path)
	if !ok {
		// Pure lookup context: unresolved identifiers yield "unset" and the
		// caller decides (spec §4.3's error-policy note).
		return UnsetValue, nil
	}
	if hasFormat {
		return FormatValue(val, formatSpec), nil
	}
	return val, nil
}

// splitFormatSpec splits "path:format" on the first unescaped top-level ':'.
func splitFormatSpec(s string) (lookup, format string, has bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ':':
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}

// ToDisplayString renders a value for substitution into surrounding text.
func ToDisplayString(v any) string {
	if IsUnset(v) {
		return ""
	}
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// FormatValue applies a python-str.format-style mini format spec (a subset:
// optional alignment (<, >, ^), width, and for numbers a precision and
// d/f/s type character) to val.
func FormatValue(val any, spec string) string {
	align := byte(0)
	rest := spec
	if len(rest) > 0 && (rest[0] == '<' || rest[0] == '>' || rest[0] == '^') {
		align = rest[0]
		rest = rest[1:]
	}
	precision := -1
	typeChar := byte(0)
	widthStr := rest
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		widthStr = rest[:dot]
		precStr := rest[dot+1:]
		if len(precStr) > 0 {
			last := precStr[len(precStr)-1]
			if last < '0' || last > '9' {
				typeChar = last
				precStr = precStr[:len(precStr)-1]
			}
		}
		precision, _ = strconv.Atoi(precStr)
	} else if len(widthStr) > 0 {
		last := widthStr[len(widthStr)-1]
		if last < '0' || last > '9' {
			typeChar = last
			widthStr = widthStr[:len(widthStr)-1]
		}
	}
	// A leading zero before the width digits (e.g. "02d") requests zero-fill
	// rather than space-fill, as in Python's str.format mini-language.
	zeroFill := len(widthStr) > 1 && widthStr[0] == '0'
	width, _ := strconv.Atoi(widthStr)

	var s string
	switch typeChar {
	case 'f':
		p := precision
		if p < 0 {
			p = 6
		}
		s = strconv.FormatFloat(toFloat(val), 'f', p, 64)
	case 'd':
		s = strconv.FormatInt(toInt(val), 10)
	default:
		if precision >= 0 {
			s = strconv.FormatFloat(toFloat(val), 'f', precision, 64)
		} else {
			s = ToDisplayString(val)
		}
	}
	if width > len(s) {
		fillChar := " "
		if zeroFill && align == 0 {
			fillChar = "0"
		}
		pad := strings.Repeat(fillChar, width-len(s))
		switch align {
		case '<':
			s = s + pad
		case '^':
			left := (width - len(s)) / 2
			s = strings.Repeat(" ", left) + s + strings.Repeat(" ", width-len(s)-left)
		default: // '>' or unset: numbers right-align by default
			if fillChar == "0" && len(s) > 0 && (s[0] == '-' || s[0] == '+') {
				s = string(s[0]) + pad + s[1:]
			} else {
				s = pad + s
			}
		}
	}
	return s
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	}
	return 0
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	}
	return 0
}
