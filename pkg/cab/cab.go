// Package cab implements the Cab Model (spec §4.4): a reusable wrapper around
// a concrete task, bound parameters in hand, producing an invocation plan for
// a Backend. Grounded on the teacher's pkg/cwl.CommandLineTool (the typed
// tool definition) and internal/cmdline.Builder (parameter binding to argv),
// generalized from CWL's single CommandLineTool shape to the four cab
// flavours of spec §4.4.
package cab

import (
	"fmt"

	"github.com/caracal/kitchen/pkg/schema"
)

// FlavourKind distinguishes the four ways a cab's underlying task can be run.
type FlavourKind string

const (
	FlavourBinary              FlavourKind = "binary"
	FlavourCallableScripting   FlavourKind = "python" // callable in embedded scripting
	FlavourInlineScriptingCode FlavourKind = "cab"     // inline scripting code block
	FlavourExternalTaskRunner  FlavourKind = "external"
)

// Flavour describes how to invoke the cab's underlying task.
type Flavour struct {
	Kind FlavourKind

	// FlavourBinary
	Command string // base command / argv[0]

	// FlavourCallableScripting
	Callable string // e.g. "module.function"

	// FlavourInlineScriptingCode
	Code string // inline script source

	// FlavourExternalTaskRunner
	Runner string // name of the registered external runner
}

// Management holds the cab's auxiliary behaviours (spec §4.4): wranglers,
// environment variables and cleanup targets.
type Management struct {
	Wranglers   []WranglerRule
	Environment map[string]string
	Cleanup     []string // management.cleanup entries as parsed; nothing removes them after a run
}

// WranglerRule pairs a regex pattern with an ordered list of action
// specifiers, as declared under cabs.<name>.management.wranglers.
type WranglerRule struct {
	Pattern string
	Actions []string
}

// Cab is a reusable task wrapper (spec §3 "Cab").
type Cab struct {
	Name    string
	Info    string
	Flavour Flavour
	Image   string // container image reference, if any

	Inputs  map[string]*schema.Entry
	Outputs map[string]*schema.Entry

	// InputOrderList preserves the schema's declaration order, since
	// argv synthesis for keyed options follows declaration order (spec
	// §4.4). Populated by the parser from the backing OrderedMap.
	InputOrderList []string

	Management Management

	// Backend, if set, pins this cab to a specific execution backend,
	// overriding the recipe/opts-level default (spec §4.8 selection order).
	Backend string

	// DynamicSchema holds the cab's dynamic_schema callable name as parsed.
	// Nothing invokes it: steps bind and validate against Inputs/Outputs as
	// declared.
	DynamicSchema string
}

// InputOrder returns input names in their schema-declaration order, which
// determines argv ordering for keyed options (spec §4.4).
func (c *Cab) InputOrder() []string {
	if len(c.InputOrderList) > 0 {
		return c.InputOrderList
	}
	names := make([]string, 0, len(c.Inputs))
	for n := range c.Inputs {
		names = append(names, n)
	}
	return names
}

// Validate checks that a flavour is set and that it carries its required
// field (command, callable, inline code or runner name).
func (c *Cab) Validate() error {
	switch c.Flavour.Kind {
	case FlavourBinary:
		if c.Flavour.Command == "" {
			return fmt.Errorf("cab %q: binary flavour requires a command", c.Name)
		}
	case FlavourCallableScripting:
		if c.Flavour.Callable == "" {
			return fmt.Errorf("cab %q: python flavour requires a callable", c.Name)
		}
	case FlavourInlineScriptingCode:
		if c.Flavour.Code == "" {
			return fmt.Errorf("cab %q: cab flavour requires inline code", c.Name)
		}
	case FlavourExternalTaskRunner:
		if c.Flavour.Runner == "" {
			return fmt.Errorf("cab %q: external flavour requires a runner name", c.Name)
		}
	default:
		return fmt.Errorf("cab %q: no flavour set", c.Name)
	}
	return nil
}
