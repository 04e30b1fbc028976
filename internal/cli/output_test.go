// Package cli: output_test.go contains unit tests for the pure formatting
// helpers shared by the commands.
//
// These tests need neither a Docker daemon nor any external tool.
package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/probe"
	"github.com/mmr-tortoise/uhd-provision/internal/provision"
)

func TestMain(m *testing.M) {
	color.Enable = false
	os.Exit(m.Run())
}

func testReport() *model.Report {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Report{
		RunID:      "run-1",
		Runner:     model.RunnerHost,
		Policy:     model.PolicyHalt,
		Jobs:       4,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Minute),
		Steps: []model.StepResult{
			{Name: model.StepUpdateIndex, Status: model.StatusSucceeded, Duration: 2 * time.Second},
			{Name: model.StepCloneSource, Status: model.StatusFailed, ExitCode: 128, Duration: 400 * time.Millisecond,
				Detail: "git exited with status 128\nfatal: unable to access"},
			{Name: model.StepConfigure, Status: model.StatusNotRun},
		},
	}
}

func TestPrintStepLine(t *testing.T) {
	tests := []struct {
		name string
		res  model.StepResult
		want string
	}{
		{
			name: "succeeded",
			res:  model.StepResult{Name: model.StepCompile, Status: model.StatusSucceeded, Duration: 41200 * time.Millisecond, Detail: "ignored"},
			want: "-> [ok] compile                (41.2s)\n",
		},
		{
			name: "failed shows first detail line",
			res:  testReport().Steps[1],
			want: "-> [FAIL] clone-source           (0.4s): git exited with status 128 ...\n",
		},
		{
			name: "not run has no duration",
			res:  model.StepResult{Name: model.StepInstall, Status: model.StatusNotRun},
			want: "-> [-] install               \n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printStepLine(&buf, tt.res)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintReport_Text(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, testReport(), false)
	out := buf.String()

	assert.Contains(t, out, "STEP")
	assert.Regexp(t, `clone-source\s+failed\s+128\s+0\.4s`, out)
	assert.Regexp(t, `configure\s+not-run\s+-\s+-`, out)
	assert.Contains(t, out, "Failed: 1 of 3 steps failed (run run-1, policy halt)")

	report := testReport()
	report.Steps = report.Steps[:1]
	report.SourceRevision = "abc123"
	buf.Reset()
	printReport(&buf, report, false)
	assert.Contains(t, buf.String(), "Source revision: abc123\n")

	report.SourceDescription = "v4.6.0.0"
	buf.Reset()
	printReport(&buf, report, false)
	assert.Contains(t, buf.String(), "Source revision: abc123 (v4.6.0.0)")
	assert.Contains(t, buf.String(), "Provisioned: run run-1 finished in 3m0s (4 jobs, host runner)")
}

func TestPrintReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, testReport(), true)

	var got model.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, model.StatusFailed, got.Steps[1].Status)
	assert.Equal(t, 128, got.Steps[1].ExitCode)
}

func TestPrintPlan(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Build.Jobs = 6
	plan := provision.BuildPlan(cfg)

	var buf bytes.Buffer
	printPlan(&buf, plan, false)
	out := buf.String()
	assert.Contains(t, out, "Environment: DEBIAN_FRONTEND=noninteractive")
	assert.Contains(t, out, "1. update-index: refresh the package index")
	assert.Contains(t, out, "   $ apt-get update")
	assert.Contains(t, out, "   skip if: git --git-dir=uhd/.git ls-remote --exit-code origin")
	assert.Contains(t, out, "   needs: clone-source")
	assert.Contains(t, out, "   $ make -C uhd/host/build -j6")

	buf.Reset()
	printPlan(&buf, plan, true)
	var got struct {
		Env   []string       `json:"env"`
		Jobs  int            `json:"jobs"`
		Steps []planStepJSON `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 6, got.Jobs)
	require.Len(t, got.Steps, len(plan.Steps))
	assert.Equal(t, model.StepCloneSource, got.Steps[2].Name)
	assert.Equal(t, "git --git-dir=uhd/.git ls-remote --exit-code origin", got.Steps[2].Skip)
	assert.Equal(t, []model.StepName{model.StepCloneSource}, got.Steps[3].Needs)
	assert.Equal(t, "test -f uhd/host/CMakeLists.txt", got.Steps[3].Require)
}

func TestPrintChecks(t *testing.T) {
	var buf bytes.Buffer
	printChecks(&buf, []provision.CheckResult{
		{Name: "tool git", Mandatory: true, OK: true},
		{Name: "tool cmake", OK: false, Detail: "cmake not found on PATH"},
		{Name: "repository reachable", Mandatory: true, OK: false, Detail: "repository x is not reachable"},
	})

	assert.Equal(t, "preflight [ok] tool git\n"+
		"preflight [warn] tool cmake: cmake not found on PATH\n"+
		"preflight [FAIL] repository reachable: repository x is not reachable\n", buf.String())
}

func TestPrintProbe(t *testing.T) {
	res := &probe.Result{Module: "uhd", Version: "4.6.0.0", SemVer: "4.6.0+0", LibDir: "/usr/local/lib", Constraint: ">= 3.15.0"}

	var buf bytes.Buffer
	printProbe(&buf, res, false)
	assert.Contains(t, buf.String(), "ok uhd 4.6.0.0 is discoverable via pkg-config")
	assert.Contains(t, buf.String(), "libdir:     /usr/local/lib")
	assert.NotContains(t, buf.String(), "includedir")

	buf.Reset()
	printProbe(&buf, res, true)
	assert.Contains(t, buf.String(), `"semver": "4.6.0+0"`)
}

func TestPrintContainers(t *testing.T) {
	var buf bytes.Buffer
	printContainers(&buf, nil, true, false)
	assert.Equal(t, "No managed containers found.\n", buf.String())

	containers := []model.ContainerInfo{{
		ContainerID:   "0123456789abcdef0123",
		ContainerName: "uhd-provision-run-1",
		Image:         "debian:bookworm",
		Status:        "exited",
	}}
	buf.Reset()
	printContainers(&buf, containers, true, false)
	assert.Contains(t, buf.String(), "0123456789ab")
	assert.NotContains(t, buf.String(), "0123456789abcdef")
	assert.Contains(t, buf.String(), "Removed 1 container(s).")

	buf.Reset()
	printContainers(&buf, containers, false, true)
	var got struct {
		Containers []model.ContainerInfo `json:"containers"`
		Removed    bool                  `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.False(t, got.Removed)
	assert.Equal(t, containers[0].ContainerID, got.Containers[0].ContainerID)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.0s", formatDuration(0))
	assert.Equal(t, "41.2s", formatDuration(41200*time.Millisecond))
	assert.Equal(t, "12m3s", formatDuration(12*time.Minute+3400*time.Millisecond))
}

func TestPrintError(t *testing.T) {
	t.Cleanup(func() { jsonOutput = false })

	var buf bytes.Buffer
	printError(&buf, "invalid configuration", errors.New("build.jobs must be >= 0, got -1"))
	assert.Equal(t, "Error: invalid configuration: build.jobs must be >= 0, got -1\n", buf.String())

	jsonOutput = true
	buf.Reset()
	printError(&buf, "preflight checks failed", nil)
	var got map[string]map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "preflight checks failed", got["error"]["message"])
	_, hasDetail := got["error"]["detail"]
	assert.False(t, hasDetail)
}
