package wrangler

import "testing"

func TestApplyLine_Suppress(t *testing.T) {
	rule, err := Compile(`^DEBUG:`, []string{"SUPPRESS"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	status := NewStatus()
	res := ApplyLine([]*Rule{rule}, status, "DEBUG: noisy detail")
	if !res.Suppress {
		t.Errorf("expected line to be suppressed")
	}
}

func TestApplyLine_ParseOutput(t *testing.T) {
	rule, err := Compile(`^RESULT: (?P<val>\d+)`, []string{"PARSE_OUTPUT:result:val:int"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	status := NewStatus()
	ApplyLine([]*Rule{rule}, status, "RESULT: 42")
	if status.Outputs["result"] != int64(42) {
		t.Errorf("expected parsed output 42, got %v", status.Outputs["result"])
	}
}

func TestApplyLine_DeclareSuccessAndError(t *testing.T) {
	rule, err := Compile(`^FATAL`, []string{"ERROR:explosion"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	status := NewStatus()
	ApplyLine([]*Rule{rule}, status, "FATAL: something broke")
	if !status.ForcedFailure {
		t.Errorf("expected forced failure")
	}
	if status.FailureMessage != "explosion" {
		t.Errorf("expected failure message 'explosion', got %q", status.FailureMessage)
	}

	successRule, err := Compile(`^ALL GOOD`, []string{"DECLARE_SUCCESS"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	status2 := NewStatus()
	ApplyLine([]*Rule{successRule}, status2, "ALL GOOD, really")
	if !status2.ForcedSuccess {
		t.Errorf("expected forced success")
	}
}

func TestParseAction_Invalid(t *testing.T) {
	if _, err := ParseAction(nil, "NOT_A_REAL_ACTION"); err == nil {
		t.Errorf("expected error for unrecognized action specifier")
	}
}
