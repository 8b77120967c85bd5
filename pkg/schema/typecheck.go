package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Coerce parses a string representation into a value matching dtype, as
// required for shorthand defaults and for values arriving from the
// command-line or from string-only substitution results (spec §4.2:
// "coerces string representations... where a unique parse exists; rejects
// otherwise with TypeMismatch").
func Coerce(s string, d *DType) (any, error) {
	switch d.Kind {
	case KindScalar:
		return coerceScalar(s, d.Name)
	case KindFile, KindDirectory, KindMS, KindURI:
		return s, nil
	case KindOptional:
		if s == "" {
			return nil, nil
		}
		return Coerce(s, d.Elem)
	case KindList:
		parts := splitListLiteral(s)
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			v, err := Coerce(p, d.Elem)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot coerce string to %s", d.Name)
	}
}

func coerceScalar(s, typeName string) (any, error) {
	switch typeName {
	case "int", "integer":
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid integer: %w", s, err)
		}
		return v, nil
	case "float", "floating":
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid float: %w", s, err)
		}
		return v, nil
	case "bool", "boolean":
		v, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid boolean: %w", s, err)
		}
		return v, nil
	default:
		return s, nil
	}
}

// splitListLiteral parses a bracketed "[a,b,c]" or bare "a,b,c" list literal.
func splitListLiteral(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := splitTopLevel(s)
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), "\"'")
	}
	return parts
}

// Typecheck validates value against dtype, coercing string representations
// where a unique parse exists. It returns the (possibly coerced) value, or a
// plain error that callers wrap as kerrors.TypeMismatch.
func Typecheck(value any, d *DType) (any, error) {
	if value == nil {
		if d.Kind == KindOptional {
			return nil, nil
		}
		return nil, fmt.Errorf("value is unset for non-optional dtype %s", d.Name)
	}

	switch d.Kind {
	case KindOptional:
		return Typecheck(value, d.Elem)

	case KindScalar:
		return typecheckScalar(value, d.Name)

	case KindFile, KindDirectory, KindMS, KindURI:
		s, ok := asString(value)
		if !ok {
			return nil, fmt.Errorf("expected path-like string for dtype %s, got %T", d.Name, value)
		}
		return s, nil

	case KindList:
		items, ok := value.([]any)
		if !ok {
			if s, ok := value.(string); ok {
				var err error
				items, err = stringsToAny(splitListLiteral(s))
				if err != nil {
					return nil, err
				}
			} else {
				return nil, fmt.Errorf("expected list for dtype %s, got %T", d.Name, value)
			}
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := Typecheck(item, d.Elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case KindTuple:
		items, ok := value.([]any)
		if !ok || len(items) != len(d.Elems) {
			return nil, fmt.Errorf("expected tuple of %d elements for dtype %s", len(d.Elems), d.Name)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := Typecheck(item, d.Elems[i])
			if err != nil {
				return nil, fmt.Errorf("tuple element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case KindUnion:
		var lastErr error
		for _, alt := range d.Elems {
			v, err := Typecheck(value, alt)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("value matches none of %s: %w", d.Name, lastErr)

	case KindDict:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected mapping for dtype %s, got %T", d.Name, value)
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			coerced, err := Typecheck(v, d.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = coerced
		}
		return out, nil

	default:
		return value, nil
	}
}

func typecheckScalar(value any, typeName string) (any, error) {
	switch typeName {
	case "int", "integer":
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
			return nil, fmt.Errorf("%v is not an integer", v)
		case string:
			return coerceScalar(v, typeName)
		}
	case "float", "floating":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case string:
			return coerceScalar(v, typeName)
		}
	case "bool", "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return coerceScalar(v, typeName)
		}
	default: // str/string and anything unrecognized pass through as strings
		switch v := value.(type) {
		case string:
			return v, nil
		case int64, int, float64, bool:
			return fmt.Sprintf("%v", v), nil
		}
	}
	return nil, fmt.Errorf("%v (%T) is not a valid %s", value, value, typeName)
}

func asString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func stringsToAny(ss []string) ([]any, error) {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out, nil
}
