// Package batchbackend implements a generic batch-scheduler wrapper Backend
// (spec §4.8: "a batch scheduler wrapper composes above any other backend").
// Generalized from the teacher's internal/executor.BVBRCExecutor — which
// hard-coded one bioinformatics platform's async JSON-RPC submit/poll
// protocol — into a scheduler-agnostic adapter driven by a synchronous,
// blocking submission command (e.g. "sbatch --wait", "qsub -sync yes"),
// which fits the Backend interface's spawn-and-stream shape without needing
// a separate polling loop.
package batchbackend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/caracal/kitchen/pkg/backend"
	"github.com/caracal/kitchen/pkg/cab"
)

// Backend wraps another Backend's invocation plans in a batch scheduler's
// blocking submission command.
type Backend struct {
	logger    *slog.Logger
	workDir   string
	submitCmd []string // e.g. []string{"sbatch", "--wait"}, script path appended
}

// New creates a Backend that submits jobs via submitCmd (the scheduler's
// blocking-submit invocation, with the generated job script appended as its
// final argument) from workDir.
func New(workDir string, submitCmd []string, logger *slog.Logger) *Backend {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Backend{
		workDir:   workDir,
		submitCmd: submitCmd,
		logger:    logger.With("component", "batch-backend"),
	}
}

func (b *Backend) Type() backend.Type { return "batch" }

func (b *Backend) Available(ctx context.Context) error {
	if len(b.submitCmd) == 0 {
		return fmt.Errorf("batch backend: no submit command configured")
	}
	if _, err := exec.LookPath(b.submitCmd[0]); err != nil {
		return fmt.Errorf("batch scheduler %q not found: %w", b.submitCmd[0], err)
	}
	return nil
}

func (b *Backend) Prepare(ctx context.Context, plan *cab.InvocationPlan) error {
	return os.MkdirAll(b.workDir, 0o755)
}

func (b *Backend) Build(ctx context.Context, imageSpec string) error {
	return backend.ErrBuildUnsupported
}

func (b *Backend) Spawn(ctx context.Context, plan *cab.InvocationPlan) (*backend.ProcessHandle, error) {
	if len(plan.Argv) == 0 {
		return nil, fmt.Errorf("batch backend: empty argv")
	}
	script, err := b.writeJobScript(plan)
	if err != nil {
		return nil, err
	}

	args := append(append([]string{}, b.submitCmd[1:]...), script)
	cmd := exec.CommandContext(ctx, b.submitCmd[0], args...)
	cmd.Dir = b.workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("batch backend: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("batch backend: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("batch backend: submit: %w", err)
	}

	return &backend.ProcessHandle{
		Stdout: stdout,
		Stderr: stderr,
		Wait: func() (int, error) {
			err := os.Remove(script)
			_ = err // best-effort cleanup; a missing script is not fatal
			werr := cmd.Wait()
			if werr == nil {
				return 0, nil
			}
			if exitErr, ok := werr.(*exec.ExitError); ok {
				return exitErr.ExitCode(), nil
			}
			return -1, werr
		},
		Cancel: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Kill()
		},
	}, nil
}

func (b *Backend) writeJobScript(plan *cab.InvocationPlan) (string, error) {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	for k, v := range plan.Env {
		sb.WriteString(fmt.Sprintf("export %s=%q\n", k, v))
	}
	sb.WriteString("exec")
	for _, a := range plan.Argv {
		sb.WriteString(" " + shellQuote(a))
	}
	sb.WriteString("\n")

	path := filepath.Join(b.workDir, fmt.Sprintf("job-%d.sh", os.Getpid()))
	if err := os.WriteFile(path, []byte(sb.String()), 0o755); err != nil {
		return "", fmt.Errorf("batch backend: write job script: %w", err)
	}
	return path, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
