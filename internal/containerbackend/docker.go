// Package containerbackend implements the reference container Backend (spec
// §4.8's "container runtime" adapter) by shelling out to the docker CLI.
// Grounded on the teacher's internal/executor.DockerExecutor.
package containerbackend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/caracal/kitchen/pkg/backend"
	"github.com/caracal/kitchen/pkg/cab"
)

// Backend runs invocation plans inside Docker containers via the docker CLI.
type Backend struct {
	logger  *slog.Logger
	workDir string
	counter int
}

// New creates a Backend rooted at workDir, which is bind-mounted as /work
// inside each container. If workDir is empty, os.TempDir() is used.
func New(workDir string, logger *slog.Logger) *Backend {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Backend{workDir: workDir, logger: logger.With("component", "container-backend")}
}

func (b *Backend) Type() backend.Type { return "container" }

func (b *Backend) Available(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker not reachable: %w", err)
	}
	return nil
}

func (b *Backend) Prepare(ctx context.Context, plan *cab.InvocationPlan) error {
	if plan.Image == "" {
		return fmt.Errorf("container backend: plan has no image")
	}
	return os.MkdirAll(b.workDir, 0o755)
}

func (b *Backend) Build(ctx context.Context, imageSpec string) error {
	cmd := exec.CommandContext(ctx, "docker", "build", "-t", imageSpec, ".")
	cmd.Dir = b.workDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker build: %w: %s", err, out)
	}
	return nil
}

func (b *Backend) Spawn(ctx context.Context, plan *cab.InvocationPlan) (*backend.ProcessHandle, error) {
	if plan.Image == "" {
		return nil, fmt.Errorf("container backend: plan has no image")
	}
	if len(plan.Argv) == 0 {
		return nil, fmt.Errorf("container backend: empty argv")
	}

	b.counter++
	name := fmt.Sprintf("kitchen-%d", b.counter)

	args := []string{"run", "--rm", "--name", name, "-v", b.workDir + ":/work", "-w", "/work"}
	for k, v := range plan.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, plan.Image)
	args = append(args, plan.Argv...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("container backend: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("container backend: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("container backend: docker run: %w", err)
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
			return exec.Command("docker", "kill", name).Run()
		},
	}, nil
}
