package cabrun

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/caracal/kitchen/internal/localbackend"
	"github.com/caracal/kitchen/pkg/cab"
)

type collectSink struct {
	lines []string
}

func (s *collectSink) Line(stream, severity, text string) {
	s.lines = append(s.lines, text)
}
func (s *collectSink) Close() error { return nil }

func TestRunner_WrangledOutputAndSuccess(t *testing.T) {
	c := &cab.Cab{
		Name:    "echo-result",
		Flavour: cab.Flavour{Kind: cab.FlavourBinary, Command: "/bin/sh"},
		Management: cab.Management{
			Wranglers: []cab.WranglerRule{
				{Pattern: `^RESULT: (?P<val>\d+)`, Actions: []string{"PARSE_OUTPUT:answer:val:int"}},
			},
		},
	}
	runner, err := New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plan := &cab.InvocationPlan{
		Argv:   []string{"/bin/sh", "-c", "echo RESULT: 42"},
		Env:    map[string]string{},
		Params: map[string]any{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	be := localbackend.New(t.TempDir(), logger)
	sink := &collectSink{}

	result, err := runner.Run(context.Background(), be, c, plan, sink)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Outputs["answer"] != int64(42) {
		t.Errorf("expected parsed output 42, got %v", result.Outputs["answer"])
	}
}

func TestRunner_NonZeroExitIsFailure(t *testing.T) {
	c := &cab.Cab{
		Name:    "fail",
		Flavour: cab.Flavour{Kind: cab.FlavourBinary, Command: "/bin/sh"},
	}
	runner, err := New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	plan := &cab.InvocationPlan{
		Argv:   []string{"/bin/sh", "-c", "exit 3"},
		Params: map[string]any{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	be := localbackend.New(t.TempDir(), logger)

	result, err := runner.Run(context.Background(), be, c, plan, nil)
	if err == nil {
		t.Fatal("expected an error for non-zero exit")
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}
