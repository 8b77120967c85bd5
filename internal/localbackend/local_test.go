package localbackend

import (
	"context"
	"io"
	"log/slog"
	"syscall"
	"testing"

	"github.com/caracal/kitchen/pkg/cab"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackend_Spawn_AppliesMaxOpenFiles(t *testing.T) {
	var before syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &before); err != nil {
		t.Fatalf("getrlimit: %v", err)
	}
	if before.Cur <= 64 {
		t.Skip("ambient RLIMIT_NOFILE too low to exercise a lowered cap")
	}

	b := New(t.TempDir(), testLogger())
	b.MaxOpenFiles = 64

	handle, err := b.Spawn(context.Background(), &cab.InvocationPlan{Argv: []string{"/bin/true"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := handle.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	var after syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &after); err != nil {
		t.Fatalf("getrlimit after spawn: %v", err)
	}
	if after.Cur != before.Cur {
		t.Errorf("expected parent's RLIMIT_NOFILE restored to %d after Spawn, got %d", before.Cur, after.Cur)
	}
}

func TestLowerNoFileLimit_RestoresOnCall(t *testing.T) {
	var before syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &before); err != nil {
		t.Fatalf("getrlimit: %v", err)
	}
	if before.Cur <= 32 {
		t.Skip("ambient RLIMIT_NOFILE too low to exercise a lowered cap")
	}

	restore, err := lowerNoFileLimit(32)
	if err != nil {
		t.Fatalf("lowerNoFileLimit: %v", err)
	}

	var lowered syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lowered); err != nil {
		t.Fatalf("getrlimit after lower: %v", err)
	}
	if lowered.Cur != 32 {
		t.Errorf("expected RLIMIT_NOFILE lowered to 32, got %d", lowered.Cur)
	}

	restore()

	var after syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &after); err != nil {
		t.Fatalf("getrlimit after restore: %v", err)
	}
	if after.Cur != before.Cur {
		t.Errorf("expected RLIMIT_NOFILE restored to %d, got %d", before.Cur, after.Cur)
	}
}
