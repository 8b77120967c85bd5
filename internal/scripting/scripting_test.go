package scripting

import "testing"

func TestRunCallable_ScalarReturn(t *testing.T) {
	preamble := `function double(inputs) { return inputs.n * 2; }`
	eng := NewEngine(preamble)

	res, err := eng.RunCallable("double", map[string]any{"n": int64(21)}, []string{"result"})
	if err != nil {
		t.Fatalf("RunCallable: %v", err)
	}
	if res.Outputs["result"] != int64(42) {
		t.Errorf("result = %v, want 42", res.Outputs["result"])
	}
}

func TestRunCallable_DictReturn(t *testing.T) {
	preamble := `function split(inputs) { return {sum: inputs.a + inputs.b, diff: inputs.a - inputs.b}; }`
	eng := NewEngine(preamble)

	res, err := eng.RunCallable("split", map[string]any{"a": int64(10), "b": int64(3)}, []string{"sum", "diff"})
	if err != nil {
		t.Fatalf("RunCallable: %v", err)
	}
	if res.Outputs["sum"] != int64(13) || res.Outputs["diff"] != int64(7) {
		t.Errorf("unexpected outputs: %+v", res.Outputs)
	}
}

func TestRunInlineCode_OutputVars(t *testing.T) {
	eng := NewEngine()
	code := `var msname = inputs.ms + "-flagged";`

	res, err := eng.RunInlineCode(code, map[string]any{"ms": "foo.ms"}, nil, []string{"msname"})
	if err != nil {
		t.Fatalf("RunInlineCode: %v", err)
	}
	if res.Outputs["msname"] != "foo.ms-flagged" {
		t.Errorf("msname = %v, want foo.ms-flagged", res.Outputs["msname"])
	}
}

func TestRunDynamicSchema(t *testing.T) {
	preamble := `function revise(params) { return {inputs: {extra: {dtype: "string"}}}; }`
	eng := NewEngine(preamble)

	out, err := eng.RunDynamicSchema("revise", map[string]any{"ms": "foo.ms"})
	if err != nil {
		t.Fatalf("RunDynamicSchema: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", out)
	}
	if _, ok := m["inputs"]; !ok {
		t.Errorf("expected inputs key in revised schema, got %+v", m)
	}
}
