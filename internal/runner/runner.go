// Package runner abstracts where provisioning commands execute.
//
// Every external tool the procedure touches (apt-get, git, cmake, make,
// ldconfig, pkg-config) is invoked through a Runner. The host implementation
// in this package uses os/exec; internal/docker provides an implementation
// that executes the same commands inside a throwaway container.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmr-tortoise/uhd-provision/internal/model"
)

// Command is a single external program invocation.
type Command struct {
	// Name is the program to run, resolved through PATH.
	Name string

	// Args are the program arguments, passed without shell interpretation.
	Args []string

	// Dir is the working directory. Empty means the runner's default.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the runner's environment.
	Env []string

	// Capture collects stdout into Result.Stdout instead of streaming it to
	// the console. Used for read-only queries whose output is parsed.
	Capture bool
}

// Argv returns the full argument vector including the program name.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Name)
	return append(argv, c.Args...)
}

// String renders the command as a shell-like line for logs and plans.
// Arguments containing whitespace or quotes are quoted.
func (c Command) String() string {
	parts := c.Argv()
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			quoted = append(quoted, fmt.Sprintf("%q", p))
		} else {
			quoted = append(quoted, p)
		}
	}
	line := strings.Join(quoted, " ")
	if c.Dir != "" {
		line = fmt.Sprintf("(cd %s && %s)", c.Dir, line)
	}
	return line
}

// Result describes a finished command.
type Result struct {
	// ExitCode is the process exit status.
	ExitCode int

	// Stdout holds standard output when the command requested Capture.
	Stdout string

	// Stderr holds the tail of standard error, for error messages.
	Stderr string

	// Duration is the wall-clock run time.
	Duration time.Duration
}

// ExitError is returned when a command ran but exited with a non-zero status.
type ExitError struct {
	Command Command
	Code    int
	Stderr  string
}

// Error satisfies the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command.Name, e.Code)
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}

// Runner executes commands. Implementations must return *ExitError for a
// non-zero exit so callers can tell "ran and failed" from "could not run".
type Runner interface {
	// Run executes c and waits for it to finish. Cancelling ctx kills it.
	Run(ctx context.Context, c Command) (Result, error)

	// Kind reports where commands execute.
	Kind() model.RunnerKind

	// Close releases resources held by the runner.
	Close() error
}

// StderrTailLimit bounds how much stderr is kept for error messages.
const StderrTailLimit = 2048

// TailWriter keeps the last StderrTailLimit bytes written to it. Runners
// use it to attach the end of a failing command's stderr to ExitError.
type TailWriter struct {
	buf []byte
}

func (w *TailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - StderrTailLimit; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *TailWriter) String() string {
	return strings.TrimSpace(string(w.buf))
}
