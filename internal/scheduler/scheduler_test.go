package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/caracal/kitchen/internal/kerrors"
	"github.com/caracal/kitchen/internal/localbackend"
	"github.com/caracal/kitchen/pkg/backend"
	"github.com/caracal/kitchen/pkg/cab"
	"github.com/caracal/kitchen/pkg/recipe"
	"github.com/caracal/kitchen/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunRecipe_TwoStepPipeline(t *testing.T) {
	trueCab := &cab.Cab{
		Name:    "true",
		Flavour: cab.Flavour{Kind: cab.FlavourBinary, Command: "/bin/true"},
		Inputs:  map[string]*schema.Entry{},
		Outputs: map[string]*schema.Entry{},
	}
	cabs := map[string]*cab.Cab{"true": trueCab}
	cabResolver := func(name string) (*cab.Cab, bool) { c, ok := cabs[name]; return c, ok }

	r := &recipe.Recipe{
		Name:    "pipe",
		Inputs:  map[string]*schema.Entry{},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{},
		Aliases: map[string][]recipe.ParamRef{},
		Steps: []*recipe.Step{
			{Label: "step1", Cab: "true", Params: map[string]any{}},
			{Label: "step2", Cab: "true", Params: map[string]any{}},
		},
	}

	reg := backend.NewRegistry(testLogger())
	reg.Register(localbackend.New(t.TempDir(), testLogger()))

	sched := New(cabResolver, nil, reg, testLogger())

	if err := sched.RunRecipe(context.Background(), r, nil, Options{}, nil); err != nil {
		t.Fatalf("RunRecipe: %v", err)
	}
}

func TestScheduler_RunRecipe_StepTimeoutKillsChild(t *testing.T) {
	sleepCab := &cab.Cab{
		Name:    "sleep",
		Flavour: cab.Flavour{Kind: cab.FlavourBinary, Command: "/bin/sleep"},
		Inputs: map[string]*schema.Entry{
			"duration": {
				Name:     "duration",
				DType:    &schema.DType{Kind: schema.KindScalar, Name: "string"},
				Policies: schema.Policies{Positional: true},
			},
		},
		Outputs: map[string]*schema.Entry{},
	}
	cabs := map[string]*cab.Cab{"sleep": sleepCab}
	cabResolver := func(name string) (*cab.Cab, bool) { c, ok := cabs[name]; return c, ok }

	r := &recipe.Recipe{
		Name:    "pipe",
		Inputs:  map[string]*schema.Entry{},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{},
		Aliases: map[string][]recipe.ParamRef{},
		Steps: []*recipe.Step{
			{Label: "s", Cab: "sleep", Params: map[string]any{"duration": "5"}, Timeout: 50 * time.Millisecond},
		},
	}

	reg := backend.NewRegistry(testLogger())
	reg.Register(localbackend.New(t.TempDir(), testLogger()))

	sched := New(cabResolver, nil, reg, testLogger())

	err := sched.RunRecipe(context.Background(), r, nil, Options{}, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, kerrors.New(kerrors.Timeout, "")) {
		t.Errorf("expected a Timeout-kind error, got %v", err)
	}
}

func TestScheduler_SelectStep_NeverTagSkips(t *testing.T) {
	sched := New(nil, nil, backend.NewRegistry(testLogger()), testLogger())
	step := &recipe.Step{Label: "s", Tags: []string{"never"}}
	ok, err := sched.selectStep(step, Options{}, nil)
	if err != nil {
		t.Fatalf("selectStep: %v", err)
	}
	if ok {
		t.Error("expected never-tagged step to be excluded")
	}
}

func TestScheduler_SelectStep_ForcedStepOverridesSkip(t *testing.T) {
	sched := New(nil, nil, backend.NewRegistry(testLogger()), testLogger())
	step := &recipe.Step{Label: "s", Skip: true, Tags: []string{"never"}}
	ok, err := sched.selectStep(step, Options{OnlySteps: map[string]bool{"s": true}}, nil)
	if err != nil {
		t.Fatalf("selectStep: %v", err)
	}
	if !ok {
		t.Error("expected explicitly-selected step to run despite skip/never")
	}
}
