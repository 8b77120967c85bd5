package recipe

import (
	"testing"

	"github.com/caracal/kitchen/pkg/cab"
	"github.com/caracal/kitchen/pkg/schema"
)

func msEntry(withDefault bool) *schema.Entry {
	e := &schema.Entry{Name: "ms", DType: &schema.DType{Kind: schema.KindMS}}
	if withDefault {
		e.HasDefault = true
		e.Default = "bar.ms"
	}
	return e
}

func TestPrevalidate_AliasPropagation(t *testing.T) {
	s1Cab := &cab.Cab{Name: "s1cab", Inputs: map[string]*schema.Entry{"ms": msEntry(true)}}
	s2Cab := &cab.Cab{Name: "s2cab", Inputs: map[string]*schema.Entry{"ms": msEntry(false)}}
	cabs := map[string]*cab.Cab{"s1cab": s1Cab, "s2cab": s2Cab}
	resolver := func(name string) (*cab.Cab, bool) { c, ok := cabs[name]; return c, ok }

	r := &Recipe{
		Name:    "test",
		Inputs:  map[string]*schema.Entry{"ms": {Name: "ms", DType: &schema.DType{Kind: schema.KindMS}}},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{},
		Aliases: map[string][]ParamRef{
			"ms": {{Step: "s1", Param: "ms"}, {Step: "s2", Param: "ms"}},
		},
		Steps: []*Step{
			{Label: "s1", Cab: "s1cab", Params: map[string]any{}},
			{Label: "s2", Cab: "s2cab", Params: map[string]any{}},
		},
	}

	if err := r.Prevalidate(map[string]any{"ms": "foo.ms"}, resolver, nil); err != nil {
		t.Fatalf("prevalidate: %v", err)
	}
	if r.Steps[0].Params["ms"] != "foo.ms" || r.Steps[1].Params["ms"] != "foo.ms" {
		t.Fatalf("expected both steps to receive explicit ms=foo.ms, got %v / %v",
			r.Steps[0].Params["ms"], r.Steps[1].Params["ms"])
	}
}

func TestPrevalidate_UpwardDefaultPropagation(t *testing.T) {
	s1Cab := &cab.Cab{Name: "s1cab", Inputs: map[string]*schema.Entry{"ms": msEntry(true)}}
	s2Cab := &cab.Cab{Name: "s2cab", Inputs: map[string]*schema.Entry{"ms": msEntry(false)}}
	cabs := map[string]*cab.Cab{"s1cab": s1Cab, "s2cab": s2Cab}
	resolver := func(name string) (*cab.Cab, bool) { c, ok := cabs[name]; return c, ok }

	r := &Recipe{
		Name:    "test",
		Inputs:  map[string]*schema.Entry{"ms": {Name: "ms", DType: &schema.DType{Kind: schema.KindMS}}},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{},
		Aliases: map[string][]ParamRef{
			"ms": {{Step: "s1", Param: "ms"}, {Step: "s2", Param: "ms"}},
		},
		Steps: []*Step{
			{Label: "s1", Cab: "s1cab", Params: map[string]any{}},
			{Label: "s2", Cab: "s2cab", Params: map[string]any{}},
		},
	}

	if err := r.Prevalidate(nil, resolver, nil); err != nil {
		t.Fatalf("prevalidate: %v", err)
	}
	if r.Vars["ms"] != "bar.ms" {
		t.Errorf("expected recipe-level ms to resolve from s1's default bar.ms, got %v", r.Vars["ms"])
	}
	if r.Steps[1].Params["ms"] != "bar.ms" {
		t.Errorf("expected s2 to receive propagated default bar.ms, got %v", r.Steps[1].Params["ms"])
	}
}

func TestPrevalidate_AliasMissingTargetStepIsUnresolvedAlias(t *testing.T) {
	r := &Recipe{
		Name:    "test",
		Inputs:  map[string]*schema.Entry{"ms": {Name: "ms", DType: &schema.DType{Kind: schema.KindMS}}},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{},
		Aliases: map[string][]ParamRef{
			"ms": {{Step: "nosuchstep", Param: "ms"}},
		},
		Steps: []*Step{},
	}
	err := r.Prevalidate(map[string]any{"ms": "foo.ms"}, nil, nil)
	if err == nil {
		t.Fatal("expected UnresolvedAlias error for missing target step")
	}
}

func TestPrevalidate_AliasMissingTargetParamIsUnresolvedAlias(t *testing.T) {
	s1Cab := &cab.Cab{Name: "s1cab", Inputs: map[string]*schema.Entry{"ms": msEntry(true)}}
	cabs := map[string]*cab.Cab{"s1cab": s1Cab}
	resolver := func(name string) (*cab.Cab, bool) { c, ok := cabs[name]; return c, ok }

	r := &Recipe{
		Name:    "test",
		Inputs:  map[string]*schema.Entry{},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{},
		Aliases: map[string][]ParamRef{
			"ms": {{Step: "s1", Param: "nosuchparam"}},
		},
		Steps: []*Step{
			{Label: "s1", Cab: "s1cab", Params: map[string]any{}},
		},
	}
	if err := r.Prevalidate(nil, resolver, nil); err == nil {
		t.Fatal("expected UnresolvedAlias error for missing target parameter")
	}
}

func TestPrevalidate_OutputAliasWithMultipleTargetsIsUnresolvedAlias(t *testing.T) {
	s1Cab := &cab.Cab{Name: "s1cab", Outputs: map[string]*schema.Entry{"image": {Name: "image", DType: &schema.DType{Kind: schema.KindFile}}}}
	s2Cab := &cab.Cab{Name: "s2cab", Outputs: map[string]*schema.Entry{"image": {Name: "image", DType: &schema.DType{Kind: schema.KindFile}}}}
	cabs := map[string]*cab.Cab{"s1cab": s1Cab, "s2cab": s2Cab}
	resolver := func(name string) (*cab.Cab, bool) { c, ok := cabs[name]; return c, ok }

	r := &Recipe{
		Name:    "test",
		Inputs:  map[string]*schema.Entry{},
		Outputs: map[string]*schema.Entry{"image": {Name: "image", DType: &schema.DType{Kind: schema.KindFile}}},
		Vars:    map[string]any{},
		Aliases: map[string][]ParamRef{
			"image": {{Step: "s1", Param: "image"}, {Step: "s2", Param: "image"}},
		},
		Steps: []*Step{
			{Label: "s1", Cab: "s1cab", Params: map[string]any{}},
			{Label: "s2", Cab: "s2cab", Params: map[string]any{}},
		},
	}
	if err := r.Prevalidate(nil, resolver, nil); err == nil {
		t.Fatal("expected UnresolvedAlias error for output alias with multiple targets")
	}
}

func TestPrevalidate_AliasIncompatibleSchemaIsUnresolvedAlias(t *testing.T) {
	s1Cab := &cab.Cab{Name: "s1cab", Inputs: map[string]*schema.Entry{"n": {Name: "n", DType: &schema.DType{Kind: schema.KindScalar, Name: "integer"}}}}
	cabs := map[string]*cab.Cab{"s1cab": s1Cab}
	resolver := func(name string) (*cab.Cab, bool) { c, ok := cabs[name]; return c, ok }

	r := &Recipe{
		Name:    "test",
		Inputs:  map[string]*schema.Entry{"n": {Name: "n", DType: &schema.DType{Kind: schema.KindScalar, Name: "string"}}},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{},
		Aliases: map[string][]ParamRef{
			"n": {{Step: "s1", Param: "n"}},
		},
		Steps: []*Step{
			{Label: "s1", Cab: "s1cab", Params: map[string]any{}},
		},
	}
	if err := r.Prevalidate(map[string]any{"n": "1"}, resolver, nil); err == nil {
		t.Fatal("expected UnresolvedAlias error for incompatible alias schema")
	}
}

func TestPrevalidate_AssignBasedOnUnmatchedIsError(t *testing.T) {
	r := &Recipe{
		Name:    "test",
		Inputs:  map[string]*schema.Entry{},
		Outputs: map[string]*schema.Entry{},
		Vars:    map[string]any{"mode": "unexpected"},
		AssignBasedOn: []AssignBasedOnRule{
			{DriverParam: "mode", Cases: []AssignBasedOnCase{
				{Value: "fast", Assignments: map[string]any{"niter": 100}},
			}},
		},
	}
	if err := r.Prevalidate(map[string]any{"mode": "unexpected"}, nil, nil); err == nil {
		t.Fatal("expected AssignBasedOnUnmatched error")
	}
}
