// Package recipe implements the Recipe Model (spec §4.5): a named pipeline
// of ordered steps, its own input/output schema, variables, and the
// alias/assignment machinery that threads parameters between steps.
// Grounded on the teacher's pkg/cwl.Workflow/Step (the typed CWL workflow
// projection), generalized from CWL's single-DAG Workflow to Stimela's
// linear, possibly-nested recipe-of-steps shape.
package recipe

import (
	"time"

	"github.com/caracal/kitchen/pkg/schema"
)

// Recipe is a named pipeline (spec §3 "Recipe").
type Recipe struct {
	Name string
	Info string

	Inputs  map[string]*schema.Entry
	Outputs map[string]*schema.Entry
	Vars    map[string]any

	// Assign is the recipe-level unconditional assignment map (spec §4.5
	// step 3), re-evaluated at the start of every for-loop iteration.
	Assign map[string]any
	// AssignBasedOn is the recipe-level conditional-assignment chain.
	AssignBasedOn []AssignBasedOnRule

	Steps []*Step // declaration order; authoritative execution order

	// Aliases maps a recipe-level name to the set of step-parameter paths it
	// controls (spec §4.5 step 3: explicit aliases plus auto-aliases for
	// inputs/outputs not otherwise bound).
	Aliases map[string][]ParamRef

	// Immune records which recipe inputs were given an explicit value by the
	// caller, forbidding overwrite by assign (spec §4.5 step 2, GLOSSARY
	// "Immune").
	Immune map[string]bool

	Backend string // recipe-level default backend, spec §4.8
}

// ParamRef names one step's bound parameter, e.g. "stepA.input_ms".
type ParamRef struct {
	Step  string
	Param string
}

// Step is one element of a recipe's pipeline (spec §3 "Step").
type Step struct {
	Label string // unique within the enclosing recipe
	Info  string

	Cab      string // name of the invoked cab, mutually exclusive with Recipe
	Recipe   string // name of a sub-recipe to recurse into

	Params map[string]any // literal/substitution-bearing bound parameters, pre-evaluation

	// Assign is the step-level unconditional assignment map (spec §4.6
	// step 2); assignments persist only for this step's invocation.
	Assign map[string]any

	Skip    any    // bool or a substitution/formula string, evaluated truthy per §4.6 step 1
	Tags    []string
	Backend string // step-level backend override, highest priority in §4.8

	// SkipIfOutputs is "exist" or "fresh" (spec §4.6 step 1), or "" for none.
	SkipIfOutputs string

	// Timeout, if non-zero, bounds the step's run time (spec §5); exceeding
	// it kills the child and reports Timeout.
	Timeout time.Duration

	AssignBasedOn []AssignBasedOnRule

	ForLoop *ForLoop
}

// AssignBasedOnRule implements the assign_based_on conditional-parameter
// feature (spec §4.5): the first matching case's assignments are applied.
type AssignBasedOnRule struct {
	DriverParam string // step parameter whose bound value selects the case
	Cases       []AssignBasedOnCase
}

// AssignBasedOnCase pairs a trigger value (matched against the rule's
// driving variable) with the parameter assignments to apply when it matches.
// The default ("__else__") case has IsDefault set.
type AssignBasedOnCase struct {
	Value       string
	IsDefault   bool
	Assignments map[string]any
}

// ForLoop implements the scatter/for-loop construct (spec §4.5): a step is
// run once per value of Over, optionally in parallel.
type ForLoop struct {
	Var string // loop variable name, bound into each iteration's namespace

	// Over names an input holding the list, or is a substitution/formula
	// expression to evaluate, when the for-loop's `over:` is a scalar
	// (string). OverList holds the values directly when `over:` was
	// declared as a literal list in the document.
	Over     string
	OverList []any

	// Scatter controls concurrency: N>0 allows up to N concurrent
	// iterations, -1 means all iterations run concurrently, and
	// absent/0/1 means serial.
	Scatter int

	DisplayStatus bool // surface per-iteration progress
}

// Concurrent reports whether iterations may run in parallel.
func (f *ForLoop) Concurrent() bool { return f.Scatter != 0 && f.Scatter != 1 }

// ConcurrencyLimit returns the max number of concurrent iterations, or 0 for
// "unbounded" (Scatter == -1).
func (f *ForLoop) ConcurrencyLimit() int {
	if f.Scatter < 0 {
		return 0
	}
	return f.Scatter
}
