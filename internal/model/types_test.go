package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStepOrder verifies the procedure runs its stages in the documented
// order: index refresh, dependencies, clone, then the build lifecycle.
func TestStepOrder(t *testing.T) {
	assert.Equal(t, []StepName{
		"update-index",
		"install-deps",
		"clone-source",
		"configure",
		"compile",
		"install",
		"refresh-linker-cache",
	}, StepOrder)
}

// TestStepStatus_IsValid checks that only defined status values pass validation.
func TestStepStatus_IsValid(t *testing.T) {
	assert.True(t, StatusSucceeded.IsValid())
	assert.True(t, StatusFailed.IsValid())
	assert.True(t, StatusSkipped.IsValid())
	assert.True(t, StatusNotRun.IsValid())
	assert.False(t, StepStatus("pending").IsValid())
	assert.False(t, StepStatus("").IsValid())
}

// TestParseFailurePolicy verifies string-to-policy conversion,
// including case normalization and error cases.
func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected FailurePolicy
		hasError bool
	}{
		{"halt", PolicyHalt, false},
		{"continue", PolicyContinue, false},
		{"HALT", PolicyHalt, false},           // case insensitive
		{" continue ", PolicyContinue, false}, // surrounding whitespace
		{"retry", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseFailurePolicy(tt.input)
			if tt.hasError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

// TestReport_Succeeded checks the aggregate outcome rules: skipped steps
// count as success, failed and not-run steps do not.
func TestReport_Succeeded(t *testing.T) {
	tests := []struct {
		name  string
		steps []StepResult
		want  bool
	}{
		{
			name: "all succeeded",
			steps: []StepResult{
				{Name: StepUpdateIndex, Status: StatusSucceeded},
				{Name: StepInstallDeps, Status: StatusSucceeded},
			},
			want: true,
		},
		{
			name: "skipped counts as success",
			steps: []StepResult{
				{Name: StepCloneSource, Status: StatusSkipped},
				{Name: StepConfigure, Status: StatusSucceeded},
			},
			want: true,
		},
		{
			name: "failed step",
			steps: []StepResult{
				{Name: StepUpdateIndex, Status: StatusFailed},
			},
			want: false,
		},
		{
			name: "not-run step after halt",
			steps: []StepResult{
				{Name: StepUpdateIndex, Status: StatusSucceeded},
				{Name: StepInstallDeps, Status: StatusNotRun},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Report{Steps: tt.steps}
			assert.Equal(t, tt.want, r.Succeeded())
		})
	}
}

// TestReport_FailedAndStep verifies the lookup helpers used by the CLI output.
func TestReport_FailedAndStep(t *testing.T) {
	r := &Report{Steps: []StepResult{
		{Name: StepUpdateIndex, Status: StatusFailed, ExitCode: 100},
		{Name: StepInstallDeps, Status: StatusFailed, ExitCode: 100},
		{Name: StepCloneSource, Status: StatusSucceeded},
	}}

	failed := r.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, StepUpdateIndex, failed[0].Name)
	assert.Equal(t, StepInstallDeps, failed[1].Name)

	clone, ok := r.Step(StepCloneSource)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, clone.Status)

	_, ok = r.Step(StepCompile)
	assert.False(t, ok)
}

// TestReport_Duration checks that an unfinished run reports zero duration.
func TestReport_Duration(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &Report{StartedAt: start}
	assert.Zero(t, r.Duration())

	r.FinishedAt = start.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, r.Duration())
}

// TestCLIError verifies the custom error type used for exit code mapping.
func TestCLIError(t *testing.T) {
	t.Run("simple error", func(t *testing.T) {
		err := NewCLIError(ExitStepFailed, "provisioning failed")
		assert.Equal(t, ExitStepFailed, err.Code)
		assert.Equal(t, "provisioning failed", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("wrapped error", func(t *testing.T) {
		inner := errors.New("connection refused")
		err := WrapCLIError(ExitDockerNotRunning, "Docker daemon is not running", inner)
		assert.Equal(t, ExitDockerNotRunning, err.Code)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, inner, err.Unwrap())
	})

	t.Run("errors.Is chain", func(t *testing.T) {
		inner := errors.New("connection refused")
		err := WrapCLIError(ExitDockerNotRunning, "Docker daemon is not running", inner)
		assert.True(t, errors.Is(err, inner))
	})
}
