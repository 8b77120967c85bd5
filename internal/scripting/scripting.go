// Package scripting implements the embedded-scripting collaborator (spec
// §1/§4.4): given a callable reference or an inline code block, a set of
// bound inputs and the names of desired outputs, run it and collect
// outputs. It also serves the dynamic-schema extension (spec §4.2), which
// re-invokes a callable with bound params to obtain a revised inputs/outputs
// mapping. Grounded on the teacher's internal/cwlexpr.Evaluator — a
// goja.Runtime set up once per call, with the bound values injected as
// global variables rather than re-parsed CWL parameter references.
package scripting

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Engine runs callables/inline code blocks in a fresh JavaScript VM per
// invocation. A fresh goja.Runtime per call keeps cab invocations isolated
// from one another, matching the teacher's per-Evaluate-call vm setup.
type Engine struct {
	// Preamble is JavaScript source loaded into every VM before the
	// callable/code runs, e.g. a shim defining the module namespace a
	// "callable" reference resolves against.
	Preamble []string
}

// NewEngine creates an Engine with the given preamble scripts.
func NewEngine(preamble ...string) *Engine {
	return &Engine{Preamble: preamble}
}

// Result is the outcome of running a callable or inline code block.
type Result struct {
	// Outputs holds the requested output names mapped to their values, or
	// (when there were no named outputs requested) the single "__return__"
	// key holding the callable's raw return value.
	Outputs map[string]any
}

// RunCallable invokes a dotted module.function reference (the "callable in
// embedded scripting" cab flavour, spec §4.4) with inputs bound as keyword
// arguments, collecting outputNames from the return value: a bare scalar
// return maps to the sole requested output name, and a dict-valued return is
// destructured by key.
func (e *Engine) RunCallable(ref string, inputs map[string]any, outputNames []string) (*Result, error) {
	vm, err := e.setupVM()
	if err != nil {
		return nil, err
	}
	if err := vm.Set("__inputs__", inputs); err != nil {
		return nil, fmt.Errorf("scripting: set inputs: %w", err)
	}
	fn, err := resolveCallable(vm, ref)
	if err != nil {
		return nil, err
	}
	val, err := vm.RunString(fmt.Sprintf("(%s)(__inputs__)", fn))
	if err != nil {
		return nil, fmt.Errorf("scripting: callable %q: %w", ref, err)
	}
	return collectOutputs(val.Export(), outputNames), nil
}

// RunInlineCode execs a preamble plus the declared code block (the "inline
// scripting code" cab flavour, spec §4.4). inputVars, if non-nil, are bound
// as individual global variables rather than a single dict; outputVars, if
// non-nil, names the globals to read back after execution instead of using
// the code's return value.
func (e *Engine) RunInlineCode(code string, inputs map[string]any, inputVars, outputVars []string) (*Result, error) {
	vm, err := e.setupVM()
	if err != nil {
		return nil, err
	}
	if len(inputVars) > 0 {
		for _, name := range inputVars {
			if err := vm.Set(name, inputs[name]); err != nil {
				return nil, fmt.Errorf("scripting: set input var %q: %w", name, err)
			}
		}
	} else {
		if err := vm.Set("inputs", inputs); err != nil {
			return nil, fmt.Errorf("scripting: set inputs: %w", err)
		}
	}

	wrapped := fmt.Sprintf("(function() {\n%s\n})()", code)
	if len(outputVars) > 0 {
		// Output variables are read back as globals, so the code runs at top
		// level where its var declarations land on the global object.
		wrapped = code
	}
	val, err := vm.RunString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("scripting: inline code: %w", err)
	}

	if len(outputVars) > 0 {
		out := map[string]any{}
		for _, name := range outputVars {
			v := vm.Get(name)
			if v != nil {
				out[name] = v.Export()
			}
		}
		return &Result{Outputs: out}, nil
	}
	return collectOutputs(val.Export(), nil), nil
}

// RunDynamicSchema invokes a dynamic_schema callable (spec §4.2) with the
// step's currently-bound params, returning the revised inputs/outputs
// mapping it produced (as a generic any — the caller re-parses it through
// pkg/schema the same way it parsed the cab's static schema).
func (e *Engine) RunDynamicSchema(ref string, boundParams map[string]any) (any, error) {
	vm, err := e.setupVM()
	if err != nil {
		return nil, err
	}
	if err := vm.Set("__params__", boundParams); err != nil {
		return nil, fmt.Errorf("scripting: set params: %w", err)
	}
	fn, err := resolveCallable(vm, ref)
	if err != nil {
		return nil, err
	}
	val, err := vm.RunString(fmt.Sprintf("(%s)(__params__)", fn))
	if err != nil {
		return nil, fmt.Errorf("scripting: dynamic_schema %q: %w", ref, err)
	}
	return val.Export(), nil
}

func (e *Engine) setupVM() (*goja.Runtime, error) {
	vm := goja.New()
	for i, src := range e.Preamble {
		if _, err := vm.RunString(src); err != nil {
			return nil, fmt.Errorf("scripting: preamble[%d]: %w", i, err)
		}
	}
	return vm, nil
}

// resolveCallable validates that ref is a bare identifier or dotted path
// already reachable from the VM's global scope (bound there by Preamble),
// returning it unchanged for direct use as a call expression.
func resolveCallable(vm *goja.Runtime, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("scripting: empty callable reference")
	}
	if _, err := vm.RunString(fmt.Sprintf("typeof (%s)", ref)); err != nil {
		return "", fmt.Errorf("scripting: callable %q not resolvable: %w", ref, err)
	}
	return ref, nil
}

// collectOutputs maps a callable's raw return value onto outputNames: a
// dict-like return is destructured by key, a bare scalar is assigned to the
// sole requested name (or "__return__" if none was named).
func collectOutputs(ret any, outputNames []string) *Result {
	if m, ok := ret.(map[string]any); ok {
		if len(outputNames) == 0 {
			return &Result{Outputs: m}
		}
		out := map[string]any{}
		for _, name := range outputNames {
			if v, ok := m[name]; ok {
				out[name] = v
			}
		}
		return &Result{Outputs: out}
	}
	if len(outputNames) == 1 {
		return &Result{Outputs: map[string]any{outputNames[0]: ret}}
	}
	return &Result{Outputs: map[string]any{"__return__": ret}}
}
