// Package model defines the domain types and value objects for the
// uhd-provision CLI.
//
// This package contains pure data structures with no external dependencies.
// StepName, StepStatus and FailurePolicy describe the provisioning
// procedure; Report aggregates the per-step results of one run.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
