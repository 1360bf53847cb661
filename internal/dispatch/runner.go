package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// stderrTail bounds how much stderr is quoted in an ExitError.
const stderrTail = 2048

// ExitError reports an evaluation tool that exited unsuccessfully.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExecRunner runs invocations as child processes in their own process
// group, writing output to files in the invocation's LogDir.
type ExecRunner struct {
	// WaitDelay is how long to wait for the process after a termination
	// signal before killing it. Zero means five seconds.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, inv Invocation) error {
	stdout, err := os.Create(filepath.Join(inv.LogDir, "stdout.txt"))
	if err != nil {
		return fmt.Errorf("creating stdout log: %w", err)
	}
	defer stdout.Close()

	stderrPath := filepath.Join(inv.LogDir, "stderr.txt")
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return fmt.Errorf("creating stderr log: %w", err)
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	cmd.Cancel = func() error {
		slog.Debug("sending termination signal to evaluation", "pid", cmd.Process.Pid)
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	setNewProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", inv.Name, err)
	}

	err = cmd.Wait()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", inv.Name, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Command:  inv.Name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   readTail(stderrPath, stderrTail),
		}
	}
	return fmt.Errorf("waiting for %s: %w", inv.Name, err)
}

func readTail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if info.Size() > n {
		f.Seek(info.Size()-n, io.SeekStart)
	}
	data, _ := io.ReadAll(f)
	return strings.TrimSpace(string(data))
}
