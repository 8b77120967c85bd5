package substitution

import (
	"fmt"

	"github.com/caracal/kitchen/internal/kerrors"
)

// Func is a formula builtin; args are already-evaluated values.
type Func func(args []any) (any, error)

// parser is a recursive-descent parser/evaluator for the formula grammar
// (spec §4.3): standard arithmetic, comparison, logical, membership,
// bitwise and shift operators with conventional precedence over integer,
// floating, string, boolean and list literals, function calls and
// namespace-lookup identifiers.
type parser struct {
	lex   *lexer
	cur   token
	stack *Stack
	funcs map[string]Func
}

// EvaluateFormula parses and evaluates a formula (the text following a
// leading `=`) against stack.
func (e *Engine) EvaluateFormula(expr string, stack *Stack) (any, error) {
	p := &parser{lex: newLexer(expr), stack: stack, funcs: e.Funcs}
	if err := p.advance(); err != nil {
		return nil, err
	}
	val, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input near %q", p.cur.text)
	}
	return val, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) isOp(ops ...string) bool {
	return p.cur.kind == tokOp && containsStr(ops, p.cur.text)
}

func (p *parser) isIdent(name string) bool {
	return p.cur.kind == tokIdent && p.cur.text == name
}

func containsStr(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// parseOr: or
func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isIdent("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

// parseAnd: and
func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isIdent("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

// parseNot: not X
func (p *parser) parseNot() (any, error) {
	if p.isIdent("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parseComparison()
}

var compareOps = []string{"==", "!=", "<", "<=", ">", ">="}

// parseComparison: comparisons and membership (in / not in)
func (p *parser) parseComparison() (any, error) {
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	for {
		if p.isOp(compareOps...) {
			op := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseBitOr()
			if err != nil {
				return nil, err
			}
			left, err = compare(op, left, right)
			if err != nil {
				return nil, err
			}
			continue
		}
		if p.isIdent("in") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseBitOr()
			if err != nil {
				return nil, err
			}
			left = membership(left, right)
			continue
		}
		if p.isIdent("not") {
			savePos, saveCur := p.lex.pos, p.cur
			if err := p.advance(); err == nil && p.isIdent("in") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				right, err := p.parseBitOr()
				if err != nil {
					return nil, err
				}
				left = !membership(left, right)
				continue
			}
			p.lex.pos, p.cur = savePos, saveCur
		}
		break
	}
	return left, nil
}

func (p *parser) parseBitOr() (any, error) {
	left, err := p.parseBitXor()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBitXor()
		if err != nil {
			return nil, err
		}
		left = toInt(left) | toInt(right)
	}
	return left, nil
}

func (p *parser) parseBitXor() (any, error) {
	left, err := p.parseBitAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("^") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseBitAnd()
		if err != nil {
			return nil, err
		}
		left = toInt(left) ^ toInt(right)
	}
	return left, nil
}

func (p *parser) parseBitAnd() (any, error) {
	left, err := p.parseShift()
	if err != nil {
		return nil, err
	}
	for p.isOp("&") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseShift()
		if err != nil {
			return nil, err
		}
		left = toInt(left) & toInt(right)
	}
	return left, nil
}

func (p *parser) parseShift() (any, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isOp("<<", ">>") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if op == "<<" {
			left = toInt(left) << uint(toInt(right))
		} else {
			left = toInt(left) >> uint(toInt(right))
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (any, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left, err = arith(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = arith(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	if p.isOp("-") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if isFloatVal(v) {
			return -toFloat(v), nil
		}
		return -toInt(v), nil
	}
	if p.isOp("~") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ^toInt(v), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	switch p.cur.kind {
	case tokInt:
		v := p.cur.ival
		return v, p.advance()
	case tokFloat:
		v := p.cur.fval
		return v, p.advance()
	case tokString:
		v := p.cur.text
		return v, p.advance()
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("expected ')'")
		}
		return v, p.advance()
	case tokLBracket:
		return p.parseListLiteral()
	case tokIdent:
		return p.parseIdentOrCall()
	}
	return nil, fmt.Errorf("unexpected token in formula")
}

func (p *parser) parseListLiteral() (any, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	var items []any
	for p.cur.kind != tokRBracket {
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.cur.kind != tokRBracket {
		return nil, fmt.Errorf("expected ']'")
	}
	return items, p.advance()
}

func (p *parser) parseIdentOrCall() (any, error) {
	switch p.cur.text {
	case "true":
		return true, p.advance()
	case "false":
		return false, p.advance()
	case "UNSET":
		return UnsetValue, p.advance()
	case "EMPTY":
		return "", p.advance()
	}

	path := []string{p.cur.text}
	fname := p.cur.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.cur.kind == tokLParen {
		return p.parseCall(fname)
	}

	for p.cur.kind == tokDot || p.cur.kind == tokLBracket {
		if p.cur.kind == tokDot {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tokIdent {
				return nil, fmt.Errorf("expected identifier after '.'")
			}
			path = append(path, p.cur.text)
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		// '[' index ']' attaches to the last path segment.
		if err := p.advance(); err != nil {
			return nil, err
		}
		idxVal, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRBracket {
			return nil, fmt.Errorf("expected ']'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		path[len(path)-1] = fmt.Sprintf("%s[%d]", path[len(path)-1], toInt(idxVal))
	}

	val, ok := p.stack.Lookup(path)
	if !ok {
		return nil, kerrors.New(kerrors.UnsetInExpression, fmt.Sprintf("unset identifier %q in expression", joinPath(path)))
	}
	return val, nil
}

func joinPath(path []string) string {
	s := path[0]
	for _, p := range path[1:] {
		s += "." + p
	}
	return s
}

func (p *parser) parseCall(name string) (any, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []any
	for p.cur.kind != tokRParen {
		v, err := p.parseOr()
		if err != nil {
			// IF and IFSET receive an unresolved lookup argument as UNSET.
			ke, isKE := err.(*kerrors.Error)
			if !isKE || ke.Kind != kerrors.UnsetInExpression || (name != "IF" && name != "IFSET") ||
				(p.cur.kind != tokComma && p.cur.kind != tokRParen) {
				return nil, err
			}
			v = UnsetValue
		}
		args = append(args, v)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.cur.kind != tokRParen {
		return nil, fmt.Errorf("expected ')' in call to %s", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	fn, ok := p.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	return fn(args)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	case string:
		return val != ""
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

func isFloatVal(v any) bool {
	_, ok := v.(float64)
	return ok
}

func arith(op string, l, r any) (any, error) {
	if ls, ok := l.(string); ok {
		if op == "+" {
			if rs, ok := r.(string); ok {
				return ls + rs, nil
			}
		}
		return nil, kerrors.New(kerrors.BadArgumentType, fmt.Sprintf("invalid operand types for %q", op))
	}
	if isFloatVal(l) || isFloatVal(r) {
		lf, rf := toFloat(l), toFloat(r)
		switch op {
		case "+":
			return lf + rf, nil
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			return lf / rf, nil
		case "//":
			return float64(int64(lf / rf)), nil
		case "%":
			return float64(int64(lf) % int64(rf)), nil
		}
	}
	li, ri := toInt(l), toInt(r)
	switch op {
	case "+":
		return li + ri, nil
	case "-":
		return li - ri, nil
	case "*":
		return li * ri, nil
	case "/":
		return float64(li) / float64(ri), nil
	case "//":
		return li / ri, nil
	case "%":
		return li % ri, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func compare(op string, l, r any) (any, error) {
	if isFloatVal(l) || isFloatVal(r) {
		lf, rf := toFloat(l), toFloat(r)
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	if ls, lok := l.(string); lok {
		rs, rok := r.(string)
		if rok {
			switch op {
			case "==":
				return ls == rs, nil
			case "!=":
				return ls != rs, nil
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
	}
	li, ri := toInt(l), toInt(r)
	switch op {
	case "==":
		return li == ri, nil
	case "!=":
		return li != ri, nil
	case "<":
		return li < ri, nil
	case "<=":
		return li <= ri, nil
	case ">":
		return li > ri, nil
	case ">=":
		return li >= ri, nil
	}
	return nil, fmt.Errorf("unknown comparison operator %q", op)
}

func membership(needle, haystack any) bool {
	switch hs := haystack.(type) {
	case []any:
		for _, item := range hs {
			if eq(item, needle) {
				return true
			}
		}
		return false
	case string:
		ns, ok := needle.(string)
		return ok && len(ns) > 0 && indexOfSubstring(hs, ns) >= 0
	}
	return false
}

func indexOfSubstring(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func eq(a, b any) bool {
	r, err := compare("==", a, b)
	if err != nil {
		return false
	}
	bv, _ := r.(bool)
	return bv
}
