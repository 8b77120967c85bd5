// Package cabrun implements the Cab Runtime (spec §4.6 step 5, §4.7): given
// a bound InvocationPlan and a Backend, spawns the process, streams its
// stdout/stderr concurrently through the wrangler pipeline with line-atomic
// log-sink rendering, and evaluates the run's final status once the process
// exits. Grounded on the teacher's internal/executor usage from
// cmd/cwl-runner (spawn, drain streams, wait, inspect exit code) generalized
// to add the wrangler pass the teacher's CWL runner has no equivalent of.
package cabrun

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/caracal/kitchen/internal/kerrors"
	"github.com/caracal/kitchen/internal/logging"
	"github.com/caracal/kitchen/internal/wrangler"
	"github.com/caracal/kitchen/pkg/backend"
	"github.com/caracal/kitchen/pkg/cab"
)

// Result is the outcome of one cab invocation.
type Result struct {
	Success        bool
	ExitCode       int
	Outputs        map[string]any
	Warnings       []string
	FailureMessage string
}

// Runner drives a single cab invocation to completion.
type Runner struct {
	rules []*wrangler.Rule
}

// New compiles a cab's management.wranglers into a Runner. Compilation
// happens once per cab, not per invocation, since the same cab is typically
// run many times (for-loop scatter, repeated pipeline stages).
func New(c *cab.Cab) (*Runner, error) {
	rules := make([]*wrangler.Rule, 0, len(c.Management.Wranglers))
	for _, w := range c.Management.Wranglers {
		rule, err := wrangler.Compile(w.Pattern, w.Actions)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &Runner{rules: rules}, nil
}

// Run spawns plan on be, streams its output through the wrangler pipeline
// and sink, and determines the run's final status. c supplies the schema
// used for file-based output discovery once the process exits.
func (r *Runner) Run(ctx context.Context, be backend.Backend, c *cab.Cab, plan *cab.InvocationPlan, sink logging.Sink) (*Result, error) {
	if err := be.Prepare(ctx, plan); err != nil {
		return nil, kerrors.Wrap(kerrors.BackendUnavailable, err)
	}
	handle, err := be.Spawn(ctx, plan)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.BackendUnavailable, err)
	}

	status := wrangler.NewStatus()
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(2)
	go r.drain(&wg, &mu, status, handle.Stdout, "stdout", sink)
	go r.drain(&wg, &mu, status, handle.Stderr, "stderr", sink)
	wg.Wait()

	exitCode, waitErr := handle.Wait()
	if sink != nil {
		defer sink.Close()
	}

	for k, v := range fileBasedOutputs(c, plan) {
		status.SetOutput(k, v, wrangler.PriorityNative)
	}
	if v, ok := plan.Params["__return__"]; ok {
		for k, vv := range flavourReturnOutputs(v) {
			status.SetOutput(k, vv, wrangler.PriorityNative)
		}
	}

	result := &Result{
		Outputs:  status.Outputs,
		Warnings: status.Warnings,
		ExitCode: exitCode,
	}

	switch {
	case status.ForcedFailure:
		result.Success = false
		result.FailureMessage = status.FailureMessage
		return result, kerrors.New(kerrors.CabFailure, status.FailureMessage)
	case status.ForcedSuccess:
		result.Success = true
		return result, nil
	case ctx.Err() == context.DeadlineExceeded:
		result.Success = false
		result.FailureMessage = "step timed out"
		return result, kerrors.Wrap(kerrors.Timeout, ctx.Err())
	case ctx.Err() != nil:
		return result, kerrors.Wrap(kerrors.Cancelled, ctx.Err())
	case waitErr != nil:
		result.Success = false
		result.FailureMessage = waitErr.Error()
		return result, kerrors.Wrap(kerrors.CabFailure, waitErr)
	case exitCode != 0:
		result.Success = false
		result.FailureMessage = fmt.Sprintf("exited with status %d", exitCode)
		return result, kerrors.Newf(kerrors.CabFailure, "exited with status %d", exitCode)
	default:
		result.Success = true
		return result, nil
	}
}

func (r *Runner) drain(wg *sync.WaitGroup, mu *sync.Mutex, status *wrangler.Status, stream io.Reader, name string, sink logging.Sink) {
	defer wg.Done()
	if stream == nil {
		return
	}
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		mu.Lock()
		res := wrangler.ApplyLine(r.rules, status, line)
		mu.Unlock()
		if res.Suppress || sink == nil {
			continue
		}
		sink.Line(name, res.Severity, res.Display)
	}
}

// fileBasedOutputs checks each of the cab's file-like output declarations
// against the bound parameter values for on-disk existence, the lowest-
// priority output source (spec §4.4's precedence rule).
func fileBasedOutputs(c *cab.Cab, plan *cab.InvocationPlan) map[string]any {
	out := map[string]any{}
	for name, entry := range c.Outputs {
		if !entry.DType.IsFileLike() {
			continue
		}
		val, ok := plan.Params[name]
		if !ok {
			if entry.Implicit != "" {
				val = entry.Implicit
			} else {
				continue
			}
		}
		path, ok := val.(string)
		if !ok || path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			out[name] = path
		}
	}
	return out
}

// flavourReturnOutputs unpacks the native return value a callable/inline-code
// flavour produced (spec §4.4: non-binary flavours may set output params
// directly rather than through wranglers).
func flavourReturnOutputs(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
