package substitution

import (
	"os"
	"path/filepath"
	"testing"
)

func stackWithCurrent(data map[string]any) *Stack {
	s := NewStack()
	s.Current = data
	return s
}

func TestEngine_SubstitutionLookup(t *testing.T) {
	eng := NewEngine()
	stack := stackWithCurrent(map[string]any{"name": "sample1", "count": int64(42)})

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"sole lookup preserves type", "{current.count}", int64(42)},
		{"interpolated string", "output_{current.name}.txt", "output_sample1.txt"},
		{"escaped brace", "{{literal}}", "{literal}"},
		{"multiple lookups", "{current.name}_{current.count}", "sample1_42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eng.EvaluateValue(tt.expr, stack)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEngine_Formula(t *testing.T) {
	eng := NewEngine()
	stack := stackWithCurrent(map[string]any{"count": int64(21)})

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"arithmetic", "=current.count * 2", int64(42)},
		{"comparison", "=current.count > 10", true},
		{"string concat", `="a" + "b"`, "ab"},
		{"escaped equals is literal", "==weird", "=weird"},
		{"list literal and membership", "=3 in [1,2,3]", true},
		{"function call", "=MAX(1, 5, 3)", int64(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eng.EvaluateValue(tt.expr, stack)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEngine_UnsetInExpressionIsError(t *testing.T) {
	eng := NewEngine()
	stack := NewStack()
	if _, err := eng.EvaluateValue("=current.missing + 1", stack); err == nil {
		t.Fatal("expected an error for unset identifier in arithmetic context")
	}
}

func TestEngine_UnresolvedPureLookupIsUnset(t *testing.T) {
	eng := NewEngine()
	stack := NewStack()
	got, err := eng.EvaluateValue("{current.missing}", stack)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsUnset(got) {
		t.Errorf("expected UNSET sentinel, got %v", got)
	}
}

func TestFormatValue_ZeroFillWidth(t *testing.T) {
	tests := []struct {
		name string
		val  any
		spec string
		want string
	}{
		{"zero-fill pads with leading zero", int64(1), "02d", "01"},
		{"zero-fill no-op when value already fills width", int64(12), "02d", "12"},
		{"zero-fill three wide", int64(7), "03d", "007"},
		{"space-fill unaffected by non-zero-leading width", int64(1), "2d", " 1"},
		{"zero-fill keeps sign in front of padding", int64(-1), "04d", "-001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatValue(tt.val, tt.spec)
			if got != tt.want {
				t.Errorf("FormatValue(%v, %q) = %q, want %q", tt.val, tt.spec, got, tt.want)
			}
		})
	}
}

func TestFnExists_TouchesFilesystem(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.ms")
	if err := os.WriteFile(present, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := fnExists([]any{present})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != true {
		t.Errorf("EXISTS(%q) = %v, want true", present, got)
	}

	missing := filepath.Join(dir, "does-not-exist.ms")
	got, err = fnExists([]any{missing})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != false {
		t.Errorf("EXISTS(%q) = %v, want false", missing, got)
	}

	got, err = fnExists([]any{UnsetValue})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsUnset(got) {
		t.Errorf("EXISTS(UNSET) = %v, want UNSET", got)
	}
}

func TestStack_WildcardStepLabel(t *testing.T) {
	s := NewStack()
	s.Steps["cal_1"] = map[string]any{"msdir": "a"}
	s.Steps["cal_2"] = map[string]any{"msdir": "b"}
	val, ok := s.Lookup([]string{"steps", "cal_*", "msdir"})
	if !ok {
		t.Fatal("expected wildcard lookup to match")
	}
	if val != "b" {
		t.Errorf("expected alphanumerically-largest label cal_2 to win, got %v", val)
	}
}
