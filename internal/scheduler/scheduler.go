// Package scheduler implements the Step Scheduler (spec §4.6): it walks a
// recipe's steps in declaration order, resolving each one's selection,
// assignment, alias and substitution state before dispatching it to the Cab
// Runtime or recursing into a sub-recipe. Grounded on the teacher's
// internal/scheduler.Scheduler (step-state machine, dispatch-and-collect
// loop) generalized from CWL's single-pass DAG walk to Stimela's linear,
// skip/assign/alias/scatter-aware recipe execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caracal/kitchen/internal/cabrun"
	"github.com/caracal/kitchen/internal/kerrors"
	"github.com/caracal/kitchen/internal/logging"
	"github.com/caracal/kitchen/internal/statusserver"
	"github.com/caracal/kitchen/internal/substitution"
	"github.com/caracal/kitchen/pkg/backend"
	"github.com/caracal/kitchen/pkg/cab"
	"github.com/caracal/kitchen/pkg/recipe"
	"github.com/caracal/kitchen/pkg/schema"
)

// State is a step's lifecycle state (spec §4.6 "state machine of a step").
type State string

const (
	StatePending      State = "Pending"
	StatePreValidated State = "PreValidated"
	StateBound        State = "Bound"
	StateRunning      State = "Running"
	StateSucceeded    State = "Succeeded"
	StateFailed       State = "Failed"
	StateSkipped      State = "Skipped"
)

// Options configures a Scheduler run (spec §6 "Invocation surface").
type Options struct {
	Backend       string            // opts.backend, lowest-priority default
	OnlySteps     map[string]bool   // explicit -s/--step selection; empty means "all"
	IncludeTags   map[string]bool   // --tags
	ExcludeTags   map[string]bool   // --skip-tags
	Env           map[string]string // config.run.env.<NAME>
	LogDir        string            // base directory for per-step log files
}

// Scheduler drives one or more recipe runs against a fixed set of cabs,
// sub-recipes and backends.
type Scheduler struct {
	Cabs     recipe.CabResolver
	Recipes  recipe.RecipeResolver
	Backends *backend.Registry
	Logger   *slog.Logger
	Status   *statusserver.RunStatus // optional; nil disables live-progress reporting

	// ConsoleSink, if set, receives every step's wrangled output lines in
	// addition to the slog/file sinks — the CLI front end wires its
	// isatty-aware logging.ConsoleSink here.
	ConsoleSink logging.Sink

	engine *substitution.Engine

	mu      sync.Mutex
	runners map[string]*cabrun.Runner

	// stepsMu guards writes to a Stack's Steps map, shared by reference
	// across every scatter iteration's cloned Stack (spec §5: iterations
	// only avoid interposing on each other's disjoint output paths, not on
	// the shared "steps.<label>" namespace). It also guards states, the
	// scheduler's own per-step lifecycle record.
	stepsMu sync.Mutex
	states  map[string]State

	// RunID uniquely identifies one top-level RunRecipe invocation; RunRecipe
	// attaches it to the scheduler's logger as run_id.
	RunID string
}

// New creates a Scheduler.
func New(cabs recipe.CabResolver, recipes recipe.RecipeResolver, backends *backend.Registry, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Cabs:     cabs,
		Recipes:  recipes,
		Backends: backends,
		Logger:   logger.With("component", "scheduler"),
		engine:   substitution.NewEngine(),
		runners:  map[string]*cabrun.Runner{},
		states:   map[string]State{},
	}
}

// StepState reports a step's last-recorded lifecycle state, for callers
// that want the scheduler's own State taxonomy rather than the coarser
// statusserver.StepState shown to live-progress viewers.
func (s *Scheduler) StepState(label string) (State, bool) {
	s.stepsMu.Lock()
	defer s.stepsMu.Unlock()
	st, ok := s.states[label]
	return st, ok
}

// StepStates returns a snapshot of every step's lifecycle state recorded so
// far.
func (s *Scheduler) StepStates() map[string]State {
	s.stepsMu.Lock()
	defer s.stepsMu.Unlock()
	out := make(map[string]State, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

func (s *Scheduler) setState(label string, st State) {
	s.stepsMu.Lock()
	s.states[label] = st
	s.stepsMu.Unlock()
}

// RunRecipe prevalidates r and executes its steps in declaration order
// (spec §4.6). explicitParams are caller-supplied overrides for r's own
// inputs; stack carries ambient namespaces (root/info/config) that outlive
// this single recipe invocation — e.g. when recursing into a sub-recipe,
// the parent supplies its own stack.Root/Info/Config so "root." lookups
// keep referring to the top-level recipe throughout.
func (s *Scheduler) RunRecipe(ctx context.Context, r *recipe.Recipe, explicitParams map[string]any, opts Options, parent *substitution.Stack) error {
	if parent == nil && s.RunID == "" {
		s.RunID = uuid.NewString()
		s.Logger = s.Logger.With("run_id", s.RunID)
	}
	if err := r.Prevalidate(explicitParams, s.Cabs, s.Recipes); err != nil {
		return err
	}
	for _, step := range r.Steps {
		s.setState(step.Label, StatePreValidated)
	}

	stack := substitution.NewStack()
	stack.Recipe = r.Vars
	if parent != nil {
		stack.Root = parent.Root
		stack.Info = parent.Info
		stack.Config = parent.Config
	} else {
		stack.Root = r.Vars
		stack.Config = envToAny(opts.Env)
	}

	for _, step := range r.Steps {
		if err := s.runStepOrScatter(ctx, r, step, opts, stack); err != nil {
			fq := r.Name + "." + step.Label
			if ke, ok := err.(*kerrors.Error); ok {
				return ke.WithFQName(fq)
			}
			return kerrors.Wrap(kerrors.CabFailure, err).WithFQName(fq)
		}
	}
	return nil
}

func envToAny(env map[string]string) map[string]any {
	envMap := map[string]any{}
	for k, v := range env {
		envMap[k] = v
	}
	return map[string]any{"run": map[string]any{"env": envMap}}
}

// runStepOrScatter dispatches step once, or iterates it over a for-loop's
// values with the configured scatter concurrency (spec §4.5/§5).
func (s *Scheduler) runStepOrScatter(ctx context.Context, r *recipe.Recipe, step *recipe.Step, opts Options, stack *substitution.Stack) error {
	if step.ForLoop == nil {
		return s.runStep(ctx, r, step, opts, stack, "")
	}

	items, err := s.resolveForLoopItems(step.ForLoop, r, stack)
	if err != nil {
		return err
	}

	limit := step.ForLoop.ConcurrencyLimit()
	if !step.ForLoop.Concurrent() {
		for i, item := range items {
			iterStack := cloneStackWithVar(stack, step.ForLoop.Var, item)
			if err := s.runStep(ctx, r, step, opts, iterStack, fmt.Sprintf("#%d", i)); err != nil {
				return err
			}
		}
		return nil
	}

	// Each concurrent iteration gets a unique scatter instance ID, appended
	// to its fqname, so its log lines are distinguishable even when
	// iterations share a loop index across nested for-loops. Status updates
	// are keyed by step label alone.
	sem := make(chan struct{}, maxInt(limit, len(items)))
	var wg sync.WaitGroup
	errs := make([]error, len(items))
	for i, item := range items {
		i, item := i, item
		instanceID := uuid.NewString()[:8]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			iterStack := cloneStackWithVar(stack, step.ForLoop.Var, item)
			errs[i] = s.runStep(ctx, r, step, opts, iterStack, fmt.Sprintf("#%d-%s", i, instanceID))
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a == 0 {
		return b
	}
	if a > b {
		return b
	}
	return a
}

func (s *Scheduler) resolveForLoopItems(fl *recipe.ForLoop, r *recipe.Recipe, stack *substitution.Stack) ([]any, error) {
	if fl.OverList != nil {
		return fl.OverList, nil
	}
	if val, ok := r.Vars[fl.Over]; ok {
		if list, ok := val.([]any); ok {
			return list, nil
		}
	}
	evaluated, err := s.engine.EvaluateValue(fl.Over, stack)
	if err != nil {
		return nil, fmt.Errorf("for_loop over %q: %w", fl.Over, err)
	}
	if list, ok := evaluated.([]any); ok {
		return list, nil
	}
	return nil, fmt.Errorf("for_loop over %q did not resolve to a list", fl.Over)
}

func cloneStackWithVar(stack *substitution.Stack, name string, val any) *substitution.Stack {
	cp := *stack
	cp.Recipe = mergeVar(stack.Recipe, name, val)
	return &cp
}

func mergeVar(m map[string]any, name string, val any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[name] = val
	return out
}

// runStep implements the per-step algorithm (spec §4.6 steps 1-8).
func (s *Scheduler) runStep(ctx context.Context, r *recipe.Recipe, step *recipe.Step, opts Options, stack *substitution.Stack, iterSuffix string) error {
	fqname := r.Name + "." + step.Label + iterSuffix

	selected, err := s.selectStep(step, opts, stack)
	if err != nil {
		return err
	}
	if !selected {
		s.setStatus(step.Label, statusserver.StepSkipped, "")
		s.setState(step.Label, StateSkipped)
		stack.Previous = defaultParamsFor(step, s.Cabs, s.Recipes)
		return nil
	}

	// Step 2: recipe-level assign re-evaluated, then step-level assign.
	if err := r.ReapplyAssign(); err != nil {
		return err
	}
	boundParams := mergeParams(step.Params, step.Assign)

	// Step 3 was performed during recipe prevalidation (downward alias
	// propagation writes directly into step.Params); nothing further here.

	// Step 4: evaluate substitutions/formulas with stack.Current pointing at
	// this step's own params so self-referential lookups resolve.
	stack.Current = boundParams
	evaluated, err := s.evaluateParams(boundParams, stack)
	if err != nil {
		return kerrors.Wrap(kerrors.UnsetInExpression, err).WithFQName(fqname)
	}
	s.setState(step.Label, StateBound)
	s.setStatus(step.Label, statusserver.StepRunning, "")
	s.setState(step.Label, StateRunning)

	// spec §5: a per-step timeout, if set, is enforced by killing the child
	// and reporting Timeout — exec.CommandContext (used by every Backend's
	// Spawn) kills the process as soon as dispatchCtx's deadline passes.
	dispatchCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	var result *cabrun.Result
	if step.Cab != "" {
		result, err = s.runCabStep(dispatchCtx, r, step, opts, evaluated, fqname)
	} else if step.Recipe != "" {
		sub, ok := s.Recipes(step.Recipe)
		if !ok {
			return kerrors.Newf(kerrors.LoadError, "step %q: sub-recipe %q not found", step.Label, step.Recipe)
		}
		subErr := s.RunRecipe(dispatchCtx, sub, evaluated, opts, stack)
		if subErr != nil {
			err = subErr
		} else {
			result = &cabrun.Result{Success: true, Outputs: outputsToAny(sub.Outputs, sub.Vars)}
		}
	} else {
		return kerrors.Newf(kerrors.SchemaError, "step %q declares neither cab nor recipe", step.Label)
	}

	if err != nil {
		s.setStatus(step.Label, statusserver.StepFailed, err.Error())
		s.setState(step.Label, StateFailed)
		if dispatchCtx.Err() == context.DeadlineExceeded {
			return kerrors.Wrap(kerrors.Timeout, dispatchCtx.Err()).WithFQName(fqname)
		}
		return kerrors.Wrap(kerrors.CabFailure, err).WithFQName(fqname)
	}

	// Step 7: record previous, propagate outputs.
	stack.Previous = mergeParams(evaluated, result.Outputs)
	s.stepsMu.Lock()
	stack.Steps[step.Label] = stack.Previous
	s.stepsMu.Unlock()
	s.setStatus(step.Label, statusserver.StepSuccess, "")
	s.setState(step.Label, StateSucceeded)
	return nil
}

func outputsToAny(entries map[string]*schema.Entry, vars map[string]any) map[string]any {
	out := map[string]any{}
	for name := range entries {
		if v, ok := vars[name]; ok {
			out[name] = v
		}
	}
	return out
}

func mergeParams(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (s *Scheduler) evaluateParams(params map[string]any, stack *substitution.Stack) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		val, err := s.engine.EvaluateValue(v, stack)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		if substitution.IsUnset(val) {
			continue
		}
		out[k] = val
	}
	return out, nil
}

// selectStep implements spec §4.6 step 1.
func (s *Scheduler) selectStep(step *recipe.Step, opts Options, stack *substitution.Stack) (bool, error) {
	forced := len(opts.OnlySteps) > 0 && opts.OnlySteps[step.Label]
	if len(opts.OnlySteps) > 0 && !forced {
		return false, nil
	}
	if forced {
		return true, nil
	}

	if hasTag(step.Tags, "never") {
		return false, nil
	}
	if !hasTag(step.Tags, "always") {
		if len(opts.IncludeTags) > 0 && !anyTagMatches(step.Tags, opts.IncludeTags) {
			return false, nil
		}
		if anyTagMatches(step.Tags, opts.ExcludeTags) {
			return false, nil
		}
	}

	if skip, err := s.skipTruthy(step.Skip, stack); err != nil {
		return false, err
	} else if skip {
		return false, nil
	}

	if step.SkipIfOutputs != "" {
		skip, err := s.checkSkipIfOutputs(step)
		if err != nil {
			return false, err
		}
		if skip {
			return false, nil
		}
	}
	return true, nil
}

func hasTag(tags []string, name string) bool {
	for _, t := range tags {
		if t == name {
			return true
		}
	}
	return false
}

func anyTagMatches(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

func (s *Scheduler) skipTruthy(skip any, stack *substitution.Stack) (bool, error) {
	switch v := skip.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if v == "" {
			return false, nil
		}
		val, err := s.engine.EvaluateValue(v, stack)
		if err != nil {
			return false, err
		}
		return truthyValue(val), nil
	default:
		return false, nil
	}
}

func truthyValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

// checkSkipIfOutputs implements "exist"/"fresh" freshness skip (spec §4.6
// step 1, §8 scenario 6): "exist" skips if every required file output
// already exists; "fresh" additionally requires every such output to be at
// least as new as the newest non-excluded input.
func (s *Scheduler) checkSkipIfOutputs(step *recipe.Step) (bool, error) {
	var inputs, outputs map[string]*schema.Entry
	if step.Cab != "" {
		c, ok := s.Cabs(step.Cab)
		if !ok {
			return false, nil
		}
		inputs, outputs = c.Inputs, c.Outputs
	} else if step.Recipe != "" {
		sub, ok := s.Recipes(step.Recipe)
		if !ok {
			return false, nil
		}
		inputs, outputs = sub.Inputs, sub.Outputs
	}

	var outputPaths []string
	for name, entry := range outputs {
		if !entry.DType.IsFileLike() {
			continue
		}
		val, ok := step.Params[name]
		path, isStr := val.(string)
		if !ok || !isStr || path == "" {
			if entry.Required {
				return false, nil // cannot evaluate; do not skip
			}
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return false, nil
		}
		outputPaths = append(outputPaths, path)
	}
	if len(outputPaths) == 0 {
		// spec §8 boundary: "fresh" with no file-type outputs means "do not skip".
		return false, nil
	}
	if step.SkipIfOutputs == "exist" {
		return true, nil
	}

	newestInput := newestModTime(step.Params, inputs, outputs)
	if newestInput.IsZero() {
		return true, nil
	}
	for _, p := range outputPaths {
		fi, err := os.Stat(p)
		if err != nil || fi.ModTime().Before(newestInput) {
			return false, nil
		}
	}
	return true, nil
}

// newestModTime returns the latest modification time among step.Params
// values that name existing, non-excluded file-like inputs.
func newestModTime(params map[string]any, inputs, outputs map[string]*schema.Entry) time.Time {
	var newest time.Time
	for name, val := range params {
		if _, isOutput := outputs[name]; isOutput {
			continue
		}
		in, isInput := inputs[name]
		if !isInput || in.SkipFreshnessCheck || in.DType == nil || !in.DType.IsFileLike() {
			continue
		}
		path, ok := val.(string)
		if !ok || path == "" {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest
}

func (s *Scheduler) runCabStep(ctx context.Context, r *recipe.Recipe, step *recipe.Step, opts Options, values map[string]any, fqname string) (*cabrun.Result, error) {
	c, ok := s.Cabs(step.Cab)
	if !ok {
		return nil, kerrors.Newf(kerrors.LoadError, "step %q: cab %q not found", step.Label, step.Cab)
	}
	if err := c.Validate(); err != nil {
		return nil, kerrors.Wrap(kerrors.SchemaError, err)
	}

	bound := make(map[string]any, len(values))
	for name, entry := range c.Inputs {
		val, present := values[name]
		if !present {
			if entry.HasDefault {
				val = entry.Default
			} else if entry.Implicit != "" {
				val = entry.Implicit
			} else if entry.Required {
				return nil, kerrors.Newf(kerrors.TypeMismatch, "step %q: required input %q unset", step.Label, name)
			} else {
				continue
			}
		}
		checked, err := schema.Typecheck(val, entry.DType)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.TypeMismatch, fmt.Errorf("step %q input %q: %w", step.Label, name, err))
		}
		bound[name] = checked
		if entry.Mkdir {
			if p, ok := checked.(string); ok {
				os.MkdirAll(filepath.Dir(p), 0o755)
			}
		}
		if entry.RemoveIfExists {
			if p, ok := checked.(string); ok {
				os.RemoveAll(p)
			}
		}
	}

	plan, err := cab.Plan(c, bound, opts.Env)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.SchemaError, err)
	}

	// A cab-level backend takes precedence over the recipe's.
	recipeBackend := r.Backend
	if c.Backend != "" {
		recipeBackend = c.Backend
	}
	be, err := s.Backends.Resolve(ctx, step.Backend, recipeBackend, opts.Backend)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.BackendUnavailable, err)
	}

	runner, err := s.runnerFor(c)
	if err != nil {
		return nil, err
	}

	sink := s.sinkFor(fqname, opts)
	result, err := runner.Run(ctx, be, c, plan, sink)
	if err != nil {
		return result, err
	}

	for name, entry := range c.Outputs {
		if !entry.Required {
			continue
		}
		if _, ok := result.Outputs[name]; !ok {
			return result, kerrors.Newf(kerrors.MissingRequiredOutput,
				"step %q: required output %q missing after run", step.Label, name)
		}
	}
	return result, nil
}

func (s *Scheduler) runnerFor(c *cab.Cab) (*cabrun.Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runners[c.Name]; ok {
		return r, nil
	}
	r, err := cabrun.New(c)
	if err != nil {
		return nil, err
	}
	s.runners[c.Name] = r
	return r, nil
}

func (s *Scheduler) sinkFor(fqname string, opts Options) logging.Sink {
	sinks := logging.MultiSink{logging.NewSlogSink(s.Logger, fqname)}
	if s.ConsoleSink != nil {
		sinks = append(sinks, s.ConsoleSink)
	}
	if opts.LogDir == "" {
		return sinks
	}
	template := filepath.Join(opts.LogDir, "%Y%m%d_%H%M%S_"+fqname+".log")
	lineSink, err := logging.NewLineSink(template, time.Now())
	if err != nil {
		s.Logger.Warn("could not open per-step log file", "step", fqname, "error", err)
		return sinks
	}
	return append(sinks, lineSink)
}

func (s *Scheduler) setStatus(label string, state statusserver.StepState, msg string) {
	if s.Status == nil {
		return
	}
	s.Status.SetStep(label, state, msg)
}

// defaultParamsFor implements the "previous after a skipped step" rule
// (spec §5/§8): a skipped step still updates `previous` with its declared
// defaults/implicits.
func defaultParamsFor(step *recipe.Step, cabs recipe.CabResolver, recipes recipe.RecipeResolver) map[string]any {
	out := map[string]any{}
	var entries map[string]*schema.Entry
	if step.Cab != "" && cabs != nil {
		if c, ok := cabs(step.Cab); ok {
			entries = c.Inputs
		}
	} else if step.Recipe != "" && recipes != nil {
		if sub, ok := recipes(step.Recipe); ok {
			entries = sub.Inputs
		}
	}
	for name, e := range entries {
		if e.HasDefault {
			out[name] = e.Default
		} else if e.Implicit != "" {
			out[name] = e.Implicit
		}
	}
	return out
}
