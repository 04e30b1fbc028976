package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
)

// Host runs commands on the local machine via os/exec.
//
// Output of mutating commands is streamed to Stdout/Stderr so the user sees
// the tools' own diagnostics exactly as the shell script would have shown
// them. A copy of the stderr tail is kept for error messages.
type Host struct {
	// Stdout and Stderr receive streamed command output.
	Stdout io.Writer
	Stderr io.Writer

	// Env is the base environment. When nil, the process environment is used.
	Env []string
}

// NewHost creates a Host runner streaming to the given writers.
func NewHost(stdout, stderr io.Writer) *Host {
	return &Host{Stdout: stdout, Stderr: stderr}
}

// Kind reports RunnerHost.
func (h *Host) Kind() model.RunnerKind {
	return model.RunnerHost
}

// Close is a no-op for the host runner.
func (h *Host) Close() error {
	return nil
}

// Run executes c and waits for it.
//
// A command that cannot be started (binary missing from PATH, bad working
// directory) returns a plain error. A command that exits non-zero returns
// *ExitError. Cancellation returns the context error.
func (h *Host) Run(ctx context.Context, c Command) (Result, error) {
	logger := ctxlog.FromContext(ctx)

	// #nosec G204: commands are built from validated configuration
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	base := h.Env
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = append(append([]string{}, base...), c.Env...)

	var stdout strings.Builder
	stderr := &TailWriter{}
	if c.Capture {
		cmd.Stdout = &stdout
		cmd.Stderr = stderr
	} else {
		cmd.Stdout = writerOrDiscard(h.Stdout)
		cmd.Stderr = io.MultiWriter(writerOrDiscard(h.Stderr), stderr)
	}

	logger.Debug("exec", "cmd", c.String())

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	// The context error takes precedence: a killed process reports
	// "signal: killed", which hides the real cause.
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s interrupted: %w", c.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: c, Code: res.ExitCode, Stderr: res.Stderr}
	}

	res.ExitCode = -1
	return res, fmt.Errorf("failed to start %s: %w", c.Name, err)
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
