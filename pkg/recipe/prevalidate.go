package recipe

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/caracal/kitchen/internal/kerrors"
	"github.com/caracal/kitchen/pkg/cab"
	"github.com/caracal/kitchen/pkg/schema"
)

// CabResolver looks up a cab definition by name, as referenced by a step's
// cab attribute.
type CabResolver func(name string) (*cab.Cab, bool)

// RecipeResolver looks up a sub-recipe definition by name, as referenced by
// a step's recipe attribute.
type RecipeResolver func(name string) (*Recipe, bool)

// Prevalidate runs the seven-step prevalidation algorithm (spec §4.5)
// against this recipe: immune-input marking, assign/assign_based_on
// application, alias construction (explicit plus auto-aliases), upward
// default propagation, downward alias propagation, and recipe-input
// typechecking. explicitParams are the caller-supplied key=value overrides
// for this recipe's own inputs.
func (r *Recipe) Prevalidate(explicitParams map[string]any, cabs CabResolver, recipes RecipeResolver) error {
	r.markImmune(explicitParams)
	if err := r.applyAssign(); err != nil {
		return err
	}
	r.buildAliases(cabs, recipes)
	if err := r.validateAliases(cabs, recipes); err != nil {
		return err
	}
	r.propagateDefaultsUp(cabs, recipes)
	r.propagateAliasesDown()
	return r.typecheckInputs()
}

// markImmune implements step 2: every input given an explicit value by the
// caller is immune to later assign/assign_based_on overwrite.
func (r *Recipe) markImmune(explicit map[string]any) {
	r.Immune = map[string]bool{}
	if r.Vars == nil {
		r.Vars = map[string]any{}
	}
	for k, v := range explicit {
		r.Vars[k] = v
		if _, ok := r.Inputs[k]; ok {
			r.Immune[k] = true
		}
	}
}

// ReapplyAssign re-runs the recipe-level assign/assign_based_on chain (spec
// §4.6 step 2: "Apply recipe-level assign (re-evaluated)..." — called once
// per step and once per for-loop iteration, after prevalidation has already
// run it once).
func (r *Recipe) ReapplyAssign() error {
	return r.applyAssign()
}

// applyAssign implements step 3: unconditional assign, then the
// assign_based_on case chain, skipping immune targets throughout.
func (r *Recipe) applyAssign() error {
	for k, v := range r.Assign {
		if r.Immune[k] {
			continue
		}
		r.Vars[k] = v
	}
	for _, rule := range r.AssignBasedOn {
		driverVal := r.Vars[rule.DriverParam]
		matched := false
		var defaultCase *AssignBasedOnCase
		for i := range rule.Cases {
			c := &rule.Cases[i]
			if c.IsDefault {
				defaultCase = c
				continue
			}
			if stringify(driverVal) == c.Value {
				r.applyAssignments(c.Assignments)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if defaultCase != nil {
			r.applyAssignments(defaultCase.Assignments)
			continue
		}
		return kerrors.Newf(kerrors.AssignBasedOnUnmatched,
			"recipe %q: assign_based_on %q: value %v matches no case and no __else__ is declared",
			r.Name, rule.DriverParam, driverVal)
	}
	return nil
}

func (r *Recipe) applyAssignments(assignments map[string]any) {
	for k, v := range assignments {
		if r.Immune[k] {
			continue
		}
		r.Vars[k] = v
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// buildAliases implements step 4: the explicit aliases: section (already
// populated by Parse) is kept as-is, and an auto-alias named
// "<step-label>.<param>" is synthesised for every step parameter not
// already covered by an explicit alias.
func (r *Recipe) buildAliases(cabs CabResolver, recipes RecipeResolver) {
	if r.Aliases == nil {
		r.Aliases = map[string][]ParamRef{}
	}
	bound := map[string]bool{}
	for _, refs := range r.Aliases {
		for _, ref := range refs {
			bound[ref.Step+"."+ref.Param] = true
		}
	}
	for _, step := range r.Steps {
		for _, pname := range stepSchemaNames(step, cabs, recipes) {
			key := step.Label + "." + pname
			if bound[key] {
				continue
			}
			aliasName := key
			r.Aliases[aliasName] = append(r.Aliases[aliasName], ParamRef{Step: step.Label, Param: pname})
			bound[key] = true
		}
	}
}

// stepSchemaNames lists every input/output name a step's cab or sub-recipe
// declares. Map key order is non-deterministic, so output names (held in
// plain maps) are pulled out with maps.Keys before the final sort rather
// than appended straight off a range, keeping the unsorted-extraction step
// itself library-driven instead of another hand-rolled loop.
func stepSchemaNames(step *Step, cabs CabResolver, recipes RecipeResolver) []string {
	var names []string
	if step.Cab != "" && cabs != nil {
		if c, ok := cabs(step.Cab); ok {
			names = append(names, c.InputOrder()...)
			names = append(names, maps.Keys(c.Outputs)...)
		}
	}
	if step.Recipe != "" && recipes != nil {
		if sub, ok := recipes(step.Recipe); ok {
			names = append(names, maps.Keys(sub.Inputs)...)
			names = append(names, maps.Keys(sub.Outputs)...)
		}
	}
	sort.Strings(names)
	return names
}

// validateAliases implements invariants #1/#2 (spec §3): every alias target
// must exist as a step parameter with a schema-compatible dtype, and an
// output alias (one whose name matches a recipe output) may have exactly
// one target. auto-aliases always pass this by construction; only
// explicitly-declared aliases can name a nonexistent or incompatible
// target, per spec §7 "UnresolvedAlias: alias target missing or
// incompatible schemas — fatal at prevalidation".
func (r *Recipe) validateAliases(cabs CabResolver, recipes RecipeResolver) error {
	for name, refs := range r.Aliases {
		if _, isOutput := r.Outputs[name]; isOutput && len(refs) != 1 {
			return kerrors.Newf(kerrors.UnresolvedAlias,
				"recipe %q: output alias %q must have exactly one target, has %d", r.Name, name, len(refs))
		}
		var declared *schema.Entry
		if e, ok := r.Inputs[name]; ok {
			declared = e
		} else if e, ok := r.Outputs[name]; ok {
			declared = e
		}
		for _, ref := range refs {
			entry, err := r.targetEntry(ref, cabs, recipes)
			if err != nil {
				return err
			}
			if declared != nil && entry != nil && !dtypeCompatible(declared.DType, entry.DType) {
				return kerrors.Newf(kerrors.UnresolvedAlias,
					"recipe %q: alias %q target %s.%s has incompatible schema",
					r.Name, name, ref.Step, ref.Param)
			}
		}
	}
	return nil
}

// targetEntry resolves an alias's target step parameter to its schema entry,
// failing with UnresolvedAlias if the step or the parameter does not exist.
func (r *Recipe) targetEntry(ref ParamRef, cabs CabResolver, recipes RecipeResolver) (*schema.Entry, error) {
	step := r.stepByLabel(ref.Step)
	if step == nil {
		return nil, kerrors.Newf(kerrors.UnresolvedAlias,
			"recipe %q: alias target step %q not found", r.Name, ref.Step)
	}
	if step.Cab != "" && cabs != nil {
		if c, ok := cabs(step.Cab); ok {
			if e, ok := c.Inputs[ref.Param]; ok {
				return e, nil
			}
			if e, ok := c.Outputs[ref.Param]; ok {
				return e, nil
			}
		}
	}
	if step.Recipe != "" && recipes != nil {
		if sub, ok := recipes(step.Recipe); ok {
			if e, ok := sub.Inputs[ref.Param]; ok {
				return e, nil
			}
			if e, ok := sub.Outputs[ref.Param]; ok {
				return e, nil
			}
		}
	}
	return nil, kerrors.Newf(kerrors.UnresolvedAlias,
		"recipe %q: alias target %s.%s does not exist", r.Name, ref.Step, ref.Param)
}

func dtypeCompatible(a, b *schema.DType) bool {
	if a == nil || b == nil {
		return true
	}
	ua, ub := unwrapOptional(a), unwrapOptional(b)
	if ua.Kind != ub.Kind {
		return false
	}
	if ua.Kind == schema.KindScalar {
		return ua.Name == ub.Name
	}
	return true
}

func unwrapOptional(d *schema.DType) *schema.DType {
	for d.Kind == schema.KindOptional && d.Elem != nil {
		d = d.Elem
	}
	return d
}

// propagateDefaultsUp implements step 5: for every recipe input still
// without a value, search its alias targets in declaration order for a
// default or implicit template and propagate the first one found.
func (r *Recipe) propagateDefaultsUp(cabs CabResolver, recipes RecipeResolver) {
	for name := range r.Inputs {
		if _, has := r.Vars[name]; has {
			continue
		}
		for _, ref := range r.Aliases[name] {
			if val, found := r.findDefaultForRef(ref, cabs, recipes); found {
				r.Vars[name] = val
				break
			}
		}
	}
}

func (r *Recipe) findDefaultForRef(ref ParamRef, cabs CabResolver, recipes RecipeResolver) (any, bool) {
	step := r.stepByLabel(ref.Step)
	if step == nil {
		return nil, false
	}
	if step.Cab != "" && cabs != nil {
		if c, ok := cabs(step.Cab); ok {
			if e, ok := c.Inputs[ref.Param]; ok {
				if e.HasDefault {
					return e.Default, true
				}
				if e.Implicit != "" {
					return e.Implicit, true
				}
			}
		}
	}
	if step.Recipe != "" && recipes != nil {
		if sub, ok := recipes(step.Recipe); ok {
			if e, ok := sub.Inputs[ref.Param]; ok {
				if e.HasDefault {
					return e.Default, true
				}
				if e.Implicit != "" {
					return e.Implicit, true
				}
			}
		}
	}
	return nil, false
}

func (r *Recipe) stepByLabel(label string) *Step {
	for _, s := range r.Steps {
		if s.Label == label {
			return s
		}
	}
	return nil
}

// propagateAliasesDown implements step 6: every alias with a recipe-level
// value (explicit, assigned, or just propagated upward in step 5) pushes
// that value down into every target step's params, overriding whatever
// default the step's own cab would otherwise apply (spec §8 scenario 4).
func (r *Recipe) propagateAliasesDown() {
	for name, refs := range r.Aliases {
		val, ok := r.Vars[name]
		if !ok {
			continue
		}
		for _, ref := range refs {
			step := r.stepByLabel(ref.Step)
			if step == nil {
				continue
			}
			if step.Params == nil {
				step.Params = map[string]any{}
			}
			step.Params[ref.Param] = val
		}
	}
}

// typecheckInputs implements step 7.
func (r *Recipe) typecheckInputs() error {
	for name, entry := range r.Inputs {
		val, ok := r.Vars[name]
		if !ok {
			if entry.Required {
				return kerrors.Newf(kerrors.TypeMismatch,
					"recipe %q: required input %q has no value after propagation", r.Name, name)
			}
			continue
		}
		checked, err := schema.Typecheck(val, entry.DType)
		if err != nil {
			return kerrors.Wrap(kerrors.TypeMismatch, fmt.Errorf("recipe %q: input %q: %w", r.Name, name, err))
		}
		r.Vars[name] = checked
	}
	return nil
}
