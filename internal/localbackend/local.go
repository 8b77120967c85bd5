// Package localbackend implements the core-shipped direct-process Backend
// (spec §4.8: "at least one backend ships with the core and requires no
// external runtime"). Grounded on the teacher's internal/executor.LocalExecutor.
package localbackend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/caracal/kitchen/pkg/backend"
	"github.com/caracal/kitchen/pkg/cab"
)

// Backend runs invocation plans as local OS processes.
type Backend struct {
	logger  *slog.Logger
	workDir string

	// MaxOpenFiles, if non-zero, caps RLIMIT_NOFILE on every process this
	// backend spawns (spec §4.8: "Resource-limit options (e.g. max open
	// files) are applied to locally-spawned processes before exec"),
	// grounded on the teacher's internal/toolexec resource-accounting
	// package, generalized from reading rusage after exit to capping
	// rlimits before exec.
	MaxOpenFiles int
}

// New creates a Backend rooted at workDir. If workDir is empty, os.TempDir()
// is used.
func New(workDir string, logger *slog.Logger) *Backend {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Backend{workDir: workDir, logger: logger.With("component", "local-backend")}
}

func (b *Backend) Type() backend.Type { return "local" }

func (b *Backend) Available(ctx context.Context) error { return nil }

func (b *Backend) Prepare(ctx context.Context, plan *cab.InvocationPlan) error {
	return os.MkdirAll(b.workDir, 0o755)
}

func (b *Backend) Build(ctx context.Context, imageSpec string) error {
	return backend.ErrBuildUnsupported
}

func (b *Backend) Spawn(ctx context.Context, plan *cab.InvocationPlan) (*backend.ProcessHandle, error) {
	if len(plan.Argv) == 0 {
		return nil, fmt.Errorf("local backend: empty argv")
	}
	cmd := exec.CommandContext(ctx, plan.Argv[0], plan.Argv[1:]...)
	cmd.Dir = b.workDir
	for k, v := range plan.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if len(cmd.Env) > 0 {
		cmd.Env = append(os.Environ(), cmd.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("local backend: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("local backend: stderr pipe: %w", err)
	}
	if plan.Stdin != "" {
		f, err := os.Open(plan.Stdin)
		if err != nil {
			return nil, fmt.Errorf("local backend: open stdin %s: %w", plan.Stdin, err)
		}
		cmd.Stdin = f
	}

	if b.MaxOpenFiles > 0 {
		restore, err := lowerNoFileLimit(b.MaxOpenFiles)
		if err != nil {
			return nil, fmt.Errorf("local backend: setrlimit: %w", err)
		}
		defer restore()
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("local backend: start: %w", err)
	}

	return &backend.ProcessHandle{
		Stdout: stdout,
		Stderr: stderr,
		Wait: func() (int, error) {
			err := cmd.Wait()
			if err == nil {
				return 0, nil
			}
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode(), nil
			}
			return -1, err
		},
		Cancel: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Kill()
		},
	}, nil
}

// lowerNoFileLimit temporarily sets the process's RLIMIT_NOFILE soft limit
// to n, returning a func that restores the prior limit. A child forked by
// cmd.Start while the limit is lowered inherits it at fork time, so calling
// restore immediately after Start leaves the parent's own limit unaffected
// while the child stays capped for its lifetime. Concurrent Spawn calls
// race on this process-global limit; callers that need concurrent
// per-process caps should run each under its own backend instance.
func lowerNoFileLimit(n int) (restore func(), err error) {
	var old syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &old); err != nil {
		return nil, fmt.Errorf("getrlimit: %w", err)
	}
	next := old
	next.Cur = uint64(n)
	if next.Max != 0 && next.Cur > next.Max {
		next.Cur = next.Max
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &next); err != nil {
		return nil, fmt.Errorf("setrlimit: %w", err)
	}
	return func() {
		_ = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &old)
	}, nil
}
