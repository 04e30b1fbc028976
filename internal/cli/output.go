package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gookit/color"

	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/probe"
	"github.com/mmr-tortoise/uhd-provision/internal/provision"
)

// statusMarker returns the coloured marker printed in front of a step.
func statusMarker(s model.StepStatus) string {
	switch s {
	case model.StatusSucceeded:
		return color.Green.Sprint("ok")
	case model.StatusFailed:
		return color.Red.Sprint("FAIL")
	case model.StatusSkipped:
		return color.Yellow.Sprint("skip")
	default:
		return color.Gray.Sprint("-")
	}
}

// printStepLine prints the progress line of one finished step.
//
//	-> [ok]   install-deps (41.2s)
//	-> [FAIL] clone-source (0.4s): git exited with status 128: fatal: ...
func printStepLine(w io.Writer, res model.StepResult) {
	fmt.Fprintf(w, "-> [%s] %-22s", statusMarker(res.Status), res.Name)
	if res.Status != model.StatusNotRun {
		fmt.Fprintf(w, " (%s)", formatDuration(res.Duration))
	}
	if res.Detail != "" && res.Status != model.StatusSucceeded {
		fmt.Fprintf(w, ": %s", firstLine(res.Detail))
	}
	fmt.Fprintln(w)
}

// printReport prints the run summary.
func printReport(w io.Writer, report *model.Report, asJSON bool) {
	if asJSON {
		writeJSON(w, report)
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-22s %-10s %-6s %s\n", "STEP", "STATUS", "EXIT", "DURATION")
	for _, s := range report.Steps {
		exit := "-"
		if s.Status == model.StatusFailed {
			exit = fmt.Sprint(s.ExitCode)
		}
		dur := "-"
		if s.Status != model.StatusNotRun {
			dur = formatDuration(s.Duration)
		}
		fmt.Fprintf(w, "%-22s %-10s %-6s %s\n", s.Name, s.Status, exit, dur)
	}
	fmt.Fprintln(w)

	if report.SourceRevision != "" {
		if report.SourceDescription != "" {
			fmt.Fprintf(w, "Source revision: %s (%s)\n", report.SourceRevision, report.SourceDescription)
		} else {
			fmt.Fprintf(w, "Source revision: %s\n", report.SourceRevision)
		}
	}
	if report.Succeeded() {
		fmt.Fprintf(w, "%s run %s finished in %s (%d jobs, %s runner)\n",
			color.Green.Sprint("Provisioned:"), report.RunID, formatDuration(report.Duration()), report.Jobs, report.Runner)
	} else {
		fmt.Fprintf(w, "%s %d of %d steps failed (run %s, policy %s)\n",
			color.Red.Sprint("Failed:"), len(report.Failed()), len(report.Steps), report.RunID, report.Policy)
	}
}

// planStepJSON is the JSON form of a planned step.
type planStepJSON struct {
	Name     model.StepName   `json:"name"`
	Summary  string           `json:"summary"`
	Needs    []model.StepName `json:"needs,omitempty"`
	Skip     string           `json:"skipIf,omitempty"`
	Require  string           `json:"require,omitempty"`
	Commands []string         `json:"commands"`
}

// printPlan prints the steps of plan without running them.
func printPlan(w io.Writer, plan *provision.Plan, asJSON bool) {
	if asJSON {
		steps := make([]planStepJSON, 0, len(plan.Steps))
		for _, s := range plan.Steps {
			entry := planStepJSON{Name: s.Name, Summary: s.Summary, Needs: s.Needs, Commands: make([]string, 0, len(s.Commands))}
			if s.Skip != nil {
				entry.Skip = s.Skip.String()
			}
			if s.Require != nil {
				entry.Require = s.Require.String()
			}
			for _, c := range s.Commands {
				entry.Commands = append(entry.Commands, c.String())
			}
			steps = append(steps, entry)
		}
		writeJSON(w, map[string]any{
			"env":    plan.Env,
			"jobs":   plan.Jobs,
			"policy": plan.Policy,
			"steps":  steps,
		})
		return
	}

	fmt.Fprintf(w, "Environment: %s\n", strings.Join(plan.Env, " "))
	fmt.Fprintf(w, "Failure policy: %s\n\n", plan.Policy)
	for i, s := range plan.Steps {
		fmt.Fprintf(w, "%d. %s: %s\n", i+1, color.Bold.Sprint(s.Name), s.Summary)
		for _, need := range s.Needs {
			fmt.Fprintf(w, "   needs: %s\n", need)
		}
		if s.Skip != nil {
			fmt.Fprintf(w, "   skip if: %s\n", s.Skip)
		}
		if s.Require != nil {
			fmt.Fprintf(w, "   requires: %s\n", s.Require)
		}
		for _, c := range s.Commands {
			fmt.Fprintf(w, "   $ %s\n", c)
		}
	}
}

// printChecks prints preflight results.
func printChecks(w io.Writer, results []provision.CheckResult) {
	for _, r := range results {
		marker := color.Green.Sprint("ok")
		switch {
		case r.OK:
		case r.Mandatory:
			marker = color.Red.Sprint("FAIL")
		default:
			marker = color.Yellow.Sprint("warn")
		}
		line := fmt.Sprintf("preflight [%s] %s", marker, r.Name)
		if !r.OK {
			line += ": " + r.Detail
		}
		fmt.Fprintln(w, line)
	}
}

// printProbe prints the discoverability result.
func printProbe(w io.Writer, res *probe.Result, asJSON bool) {
	if asJSON {
		writeJSON(w, res)
		return
	}
	fmt.Fprintf(w, "%s %s %s is discoverable via pkg-config\n", color.Green.Sprint("ok"), res.Module, res.Version)
	if res.IncludeDir != "" {
		fmt.Fprintf(w, "   includedir: %s\n", res.IncludeDir)
	}
	if res.LibDir != "" {
		fmt.Fprintf(w, "   libdir:     %s\n", res.LibDir)
	}
	if res.Constraint != "" {
		fmt.Fprintf(w, "   satisfies:  %s\n", res.Constraint)
	}
}

// printContainers prints the containers removed (or found) by prune.
func printContainers(w io.Writer, containers []model.ContainerInfo, removed bool, asJSON bool) {
	if asJSON {
		writeJSON(w, map[string]any{"containers": containers, "removed": removed})
		return
	}
	if len(containers) == 0 {
		fmt.Fprintln(w, "No managed containers found.")
		return
	}

	fmt.Fprintf(w, "%-14s %-40s %-20s %s\n", "CONTAINER", "NAME", "IMAGE", "STATUS")
	for _, c := range containers {
		fmt.Fprintf(w, "%-14s %-40s %-20s %s\n", shortContainerID(c.ContainerID), c.ContainerName, c.Image, c.Status)
	}
	if removed {
		fmt.Fprintf(w, "\nRemoved %d container(s).\n", len(containers))
	}
}

// writeJSON writes v as indented JSON. Marshalling the CLI's own types
// cannot fail.
func writeJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}

// formatDuration rounds d for display: 0.4s, 41.2s, 12m3s.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
