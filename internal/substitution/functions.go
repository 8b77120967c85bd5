package substitution

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caracal/kitchen/internal/kerrors"
)

// StandardFuncs returns the builtin function table (spec §4.3): IF, IFSET,
// GLOB, MIN, MAX, LIST, RANGE, EXISTS, DIRNAME, BASENAME, EXTENSION,
// STRIPEXT.
func StandardFuncs() map[string]Func {
	return map[string]Func{
		"IF":        fnIf,
		"IFSET":     fnIfset,
		"GLOB":      fnGlob,
		"MIN":       fnMin,
		"MAX":       fnMax,
		"LIST":      fnList,
		"RANGE":     fnRange,
		"EXISTS":    fnExists,
		"DIRNAME":   fnDirname,
		"BASENAME":  fnBasename,
		"EXTENSION": fnExtension,
		"STRIPEXT":  fnStripext,
	}
}

// fnIf implements IF(cond, t, f[, if_unset]): the engine never throws for an
// unset cond when if_unset is supplied (spec §4.3's error-policy note).
func fnIf(args []any) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("IF: expected at least 3 arguments, got %d", len(args))
	}
	cond := args[0]
	if IsUnset(cond) {
		if len(args) >= 4 {
			return args[3], nil
		}
		return nil, kerrors.New(kerrors.UnsetInExpression, "IF: condition is unset and no if_unset branch given")
	}
	if truthy(cond) {
		return args[1], nil
	}
	return args[2], nil
}

// fnIfset implements IFSET(lookup[, set[, unset]]): returns `set` (default
// the looked-up value) if the lookup resolved, else `unset` (default "").
func fnIfset(args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("IFSET: expected at least 1 argument")
	}
	lookup := args[0]
	if IsUnset(lookup) {
		if len(args) >= 3 {
			return args[2], nil
		}
		return "", nil
	}
	if len(args) >= 2 {
		return args[1], nil
	}
	return lookup, nil
}

func fnGlob(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("GLOB: expected exactly 1 argument")
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, kerrors.New(kerrors.BadArgumentType, "GLOB: argument must be a string")
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("GLOB: %w", err)
	}
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = m
	}
	return out, nil
}

func fnMin(args []any) (any, error) { return minmax(args, false) }
func fnMax(args []any) (any, error) { return minmax(args, true) }

func minmax(args []any, wantMax bool) (any, error) {
	vals := flattenNumeric(args)
	if len(vals) == 0 {
		return nil, fmt.Errorf("MIN/MAX: no numeric arguments given")
	}
	best := vals[0]
	for _, v := range vals[1:] {
		if (wantMax && toFloat(v) > toFloat(best)) || (!wantMax && toFloat(v) < toFloat(best)) {
			best = v
		}
	}
	return best, nil
}

func flattenNumeric(args []any) []any {
	var out []any
	for _, a := range args {
		if list, ok := a.([]any); ok {
			out = append(out, flattenNumeric(list)...)
			continue
		}
		out = append(out, a)
	}
	return out
}

func fnList(args []any) (any, error) { return args, nil }

func fnRange(args []any) (any, error) {
	var start, stop, step int64 = 0, 0, 1
	switch len(args) {
	case 1:
		stop = toInt(args[0])
	case 2:
		start, stop = toInt(args[0]), toInt(args[1])
	case 3:
		start, stop, step = toInt(args[0]), toInt(args[1]), toInt(args[2])
	default:
		return nil, fmt.Errorf("RANGE: expected 1 to 3 arguments, got %d", len(args))
	}
	if step == 0 {
		return nil, fmt.Errorf("RANGE: step must be non-zero")
	}
	var out []any
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out, nil
}

// fnExists implements EXISTS(pattern): a filesystem-touching check (spec
// §4.3/§5 group it with GLOB as a suspension point), matching
// scabha/evaluator.py's bool(glob.glob(pattern)) rather than a set/unset test.
func fnExists(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("EXISTS: expected exactly 1 argument")
	}
	if IsUnset(args[0]) {
		return UnsetValue, nil
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, kerrors.New(kerrors.BadArgumentType, "EXISTS: argument must be a string")
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("EXISTS: %w", err)
	}
	return len(matches) > 0, nil
}

func stringArg(name string, args []any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected exactly 1 argument", name)
	}
	s, ok := args[0].(string)
	if !ok {
		return "", kerrors.New(kerrors.BadArgumentType, fmt.Sprintf("%s: argument must be a string, got %T", name, args[0]))
	}
	return s, nil
}

func fnDirname(args []any) (any, error) {
	s, err := stringArg("DIRNAME", args)
	if err != nil {
		return nil, err
	}
	return filepath.Dir(s), nil
}

func fnBasename(args []any) (any, error) {
	s, err := stringArg("BASENAME", args)
	if err != nil {
		return nil, err
	}
	return filepath.Base(s), nil
}

func fnExtension(args []any) (any, error) {
	s, err := stringArg("EXTENSION", args)
	if err != nil {
		return nil, err
	}
	return filepath.Ext(s), nil
}

func fnStripext(args []any) (any, error) {
	s, err := stringArg("STRIPEXT", args)
	if err != nil {
		return nil, err
	}
	ext := filepath.Ext(s)
	return strings.TrimSuffix(s, ext), nil
}
