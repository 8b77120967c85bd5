// Package backend declares the execution Backend interface (spec §4.8): a
// pluggable target that can run an already-bound InvocationPlan. Grounded on
// the teacher's internal/executor.Executor interface and Registry, widened
// from the teacher's submit/status/cancel/logs polling shape to a
// synchronous spawn-and-stream shape that matches how a cab's stdout/stderr
// is wrangled line-by-line as it runs (spec §4.6/§4.7).
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/caracal/kitchen/pkg/cab"
)

// Type identifies a backend implementation, e.g. "local", "container", "batch".
type Type string

// Backend is a pluggable execution target for an InvocationPlan.
type Backend interface {
	// Type returns this backend's identifier.
	Type() Type

	// Available reports whether the backend can currently accept work (e.g.
	// the container runtime is reachable, the batch scheduler responds).
	Available(ctx context.Context) error

	// Prepare performs any setup the plan requires before it can run (image
	// pull, workspace staging). It is safe to call repeatedly.
	Prepare(ctx context.Context, plan *cab.InvocationPlan) error

	// Spawn starts the plan and returns a handle to its running process.
	Spawn(ctx context.Context, plan *cab.InvocationPlan) (*ProcessHandle, error)

	// Build constructs a container image from imageSpec (spec §4.8's
	// "build" operation); backends without image-building support return
	// ErrBuildUnsupported.
	Build(ctx context.Context, imageSpec string) error
}

// ErrBuildUnsupported is returned by Backend.Build when the backend has no
// image-building facility.
var ErrBuildUnsupported = fmt.Errorf("backend does not support building images")

// ProcessHandle is a running invocation: its stdout/stderr streams and a
// future for its terminal exit status.
type ProcessHandle struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Wait blocks until the process exits, returning its exit code and any
	// error that prevented normal completion (distinct from a non-zero exit
	// code, which is reported via ExitCode with a nil error).
	Wait func() (exitCode int, err error)

	// Cancel requests early termination of the process.
	Cancel func() error
}

// Registry maps Type values to their Backend implementations, with a
// selection order matching spec §4.8: step backend, then recipe backend,
// then opts.backend, then the first registered backend that reports
// Available.
type Registry struct {
	backends map[Type]Backend
	order    []Type
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[Type]Backend),
		logger:   logger.With("component", "backend-registry"),
	}
}

// Register adds a Backend, keyed by its Type().
func (r *Registry) Register(b Backend) {
	t := b.Type()
	if _, exists := r.backends[t]; !exists {
		r.order = append(r.order, t)
	}
	r.backends[t] = b
	r.logger.Info("backend registered", "type", t)
}

// Get returns the Backend for the given type.
func (r *Registry) Get(t Type) (Backend, error) {
	b, ok := r.backends[t]
	if !ok {
		return nil, fmt.Errorf("no backend registered for type %q", t)
	}
	return b, nil
}

// Resolve implements the §4.8 selection order: it tries, in priority order,
// the step's backend, the recipe's backend, opts.backend, and finally falls
// back to the first registered backend that reports Available.
func (r *Registry) Resolve(ctx context.Context, stepBackend, recipeBackend, optsBackend string) (Backend, error) {
	for _, candidate := range []string{stepBackend, recipeBackend, optsBackend} {
		if candidate == "" {
			continue
		}
		b, ok := r.backends[Type(candidate)]
		if !ok {
			return nil, fmt.Errorf("backend %q not registered", candidate)
		}
		if err := b.Available(ctx); err != nil {
			return nil, fmt.Errorf("backend %q unavailable: %w", candidate, err)
		}
		return b, nil
	}
	for _, t := range r.order {
		b := r.backends[t]
		if err := b.Available(ctx); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no available backend")
}
