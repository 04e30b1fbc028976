// Package model defines the domain types for the uhd-provision CLI.
//
// The types here describe one provisioning run: the named steps of the
// procedure, the status each step ended in, the policy that decides what
// happens after a failure, and the report assembled at the end. They are
// transient values; the tool keeps no state between runs.
package model

import (
	"fmt"
	"strings"
	"time"
)

// StepName identifies one stage of the provisioning procedure.
type StepName string

const (
	// StepUpdateIndex refreshes the local package index (apt-get update).
	StepUpdateIndex StepName = "update-index"

	// StepInstallDeps installs the fixed list of build dependencies.
	StepInstallDeps StepName = "install-deps"

	// StepCloneSource clones the driver repository into the working directory.
	StepCloneSource StepName = "clone-source"

	// StepConfigure creates the out-of-tree build directory and runs cmake.
	StepConfigure StepName = "configure"

	// StepCompile runs make with one job per available CPU core.
	StepCompile StepName = "compile"

	// StepInstall copies build artifacts into system directories.
	StepInstall StepName = "install"

	// StepRefreshLinkerCache runs ldconfig so the freshly installed shared
	// library is visible to the dynamic linker and downstream tools.
	StepRefreshLinkerCache StepName = "refresh-linker-cache"
)

// String returns the string representation of StepName.
func (n StepName) String() string {
	return string(n)
}

// StepOrder lists every step in execution order.
var StepOrder = []StepName{
	StepUpdateIndex,
	StepInstallDeps,
	StepCloneSource,
	StepConfigure,
	StepCompile,
	StepInstall,
	StepRefreshLinkerCache,
}

// StepStatus is the outcome of a single step.
//
//	[pending] → succeeded | failed | skipped
//	[pending] → not-run   (an earlier step halted the run, or ctx was cancelled)
type StepStatus string

const (
	// StatusSucceeded indicates every command of the step exited with 0.
	StatusSucceeded StepStatus = "succeeded"

	// StatusFailed indicates a command or precondition of the step failed.
	StatusFailed StepStatus = "failed"

	// StatusSkipped indicates the step was already satisfied (for example
	// the source tree was cloned by an earlier run).
	StatusSkipped StepStatus = "skipped"

	// StatusNotRun indicates the step was never attempted.
	StatusNotRun StepStatus = "not-run"
)

// String returns the string representation of StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// IsValid checks whether the StepStatus value is one of the predefined states.
func (s StepStatus) IsValid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusNotRun:
		return true
	default:
		return false
	}
}

// FailurePolicy decides what the pipeline does after a step fails.
type FailurePolicy string

const (
	// PolicyHalt stops the run at the first failed step. Later steps are
	// reported as not-run. This is the default.
	PolicyHalt FailurePolicy = "halt"

	// PolicyContinue attempts every step regardless of earlier failures,
	// matching a best-effort provisioning script. Steps whose inputs are
	// missing still fail through their preconditions.
	PolicyContinue FailurePolicy = "continue"
)

// String returns the string representation of FailurePolicy.
func (p FailurePolicy) String() string {
	return string(p)
}

// IsValid checks whether the FailurePolicy value is one of the predefined policies.
func (p FailurePolicy) IsValid() bool {
	return p == PolicyHalt || p == PolicyContinue
}

// ParseFailurePolicy converts a string to a FailurePolicy.
// Returns an error if the string does not match any valid policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	policy := FailurePolicy(strings.ToLower(strings.TrimSpace(s)))
	if !policy.IsValid() {
		return "", fmt.Errorf("invalid failure policy: %q (valid: halt, continue)", s)
	}
	return policy, nil
}

// RunnerKind names where the commands of a run were executed.
type RunnerKind string

const (
	// RunnerHost executes commands directly on the machine running the tool.
	RunnerHost RunnerKind = "host"

	// RunnerContainer executes commands inside a throwaway Docker container.
	RunnerContainer RunnerKind = "container"
)

// StepResult records what happened to a single step.
type StepResult struct {
	// Name is the step identifier.
	Name StepName `json:"name"`

	// Status is the final outcome of the step.
	Status StepStatus `json:"status"`

	// ExitCode is the exit status of the failing command, or 0.
	ExitCode int `json:"exitCode"`

	// Duration is the wall-clock time spent on the step.
	Duration time.Duration `json:"duration"`

	// Detail explains a skip or a failure. Empty on success.
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of one provisioning run.
type Report struct {
	// RunID uniquely identifies the run. It is attached to every log line
	// and to the labels of a container created for the run.
	RunID string `json:"runId"`

	// Runner is where the commands were executed.
	Runner RunnerKind `json:"runner"`

	// Policy is the failure policy the run used.
	Policy FailurePolicy `json:"policy"`

	// Jobs is the number of parallel compile jobs passed to make.
	Jobs int `json:"jobs"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Steps holds one result per planned step, in execution order.
	Steps []StepResult `json:"steps"`

	// SourceRevision is the commit the source tree was at after the run,
	// when it could be determined.
	SourceRevision string `json:"sourceRevision,omitempty"`

	// SourceDescription is `git describe` of the source tree, typically the
	// release tag (e.g. "v4.6.0.0").
	SourceDescription string `json:"sourceDescription,omitempty"`
}

// Succeeded reports whether no step failed or was left unexecuted.
func (r *Report) Succeeded() bool {
	for _, s := range r.Steps {
		if s.Status == StatusFailed || s.Status == StatusNotRun {
			return false
		}
	}
	return true
}

// Failed returns the results of the steps that failed, in order.
func (r *Report) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Step returns the result for the named step, if it was planned.
func (r *Report) Step(name StepName) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Duration is the total wall-clock time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ContainerInfo holds runtime information about a Docker container created
// by the tool. This data is fetched from the Docker API, not persisted.
type ContainerInfo struct {
	// ContainerID is the Docker container identifier.
	ContainerID string `json:"containerId"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName"`

	// Image is the image the container was created from.
	Image string `json:"image"`

	// Status is the Docker container state (e.g., "running", "exited").
	Status string `json:"status"`

	// Labels is the full set of Docker labels on the container.
	Labels map[string]string `json:"labels,omitempty"`
}

// ExitCode defines the process exit codes of the CLI.
// Scripts and CI systems use these to tell failure classes apart.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the configuration could not be loaded or
	// failed validation.
	ExitConfigError ExitCode = 2

	// ExitStepFailed indicates at least one provisioning step failed.
	ExitStepFailed ExitCode = 3

	// ExitPreflightFailed indicates a mandatory preflight check failed
	// before any mutating step ran.
	ExitPreflightFailed ExitCode = 4

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 5

	// ExitProbeFailed indicates the installed library could not be
	// discovered or did not satisfy the version constraint.
	ExitProbeFailed ExitCode = 6
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
