package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
)

// ErrPrecondition marks a step that did not run because an input it needs
// (source tree, configured build directory) is missing.
var ErrPrecondition = errors.New("precondition not met")

// StepError reports the failure of one step.
type StepError struct {
	Step model.StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline executes a Plan through a Runner.
type Pipeline struct {
	Runner runner.Runner

	// OnStep, when set, is called with each step result as soon as the
	// step finishes. Used for progress output.
	OnStep func(model.StepResult)

	now func() time.Time
}

// NewPipeline creates a Pipeline executing through r.
func NewPipeline(r runner.Runner) *Pipeline {
	return &Pipeline{Runner: r, now: time.Now}
}

// Execute runs every step of plan in order and returns the report.
//
// Under PolicyHalt the first failed step ends the run and later steps are
// reported as not-run. Under PolicyContinue every step is attempted; steps
// whose inputs are missing fail through their preconditions. Cancelling ctx
// stops the run the same way as a halt.
//
// The returned error joins the *StepError of every failed step, so it is nil
// exactly when no step failed.
func (p *Pipeline) Execute(ctx context.Context, plan *Plan, runID string) (*model.Report, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	logger := ctxlog.FromContext(ctx).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)

	report := &model.Report{
		RunID:     runID,
		Runner:    p.Runner.Kind(),
		Policy:    plan.Policy,
		Jobs:      plan.Jobs,
		StartedAt: now(),
		Steps:     make([]model.StepResult, 0, len(plan.Steps)),
	}

	logger.Info("provisioning started",
		"runner", report.Runner, "policy", plan.Policy, "jobs", plan.Jobs, "steps", len(plan.Steps))

	var errs []error
	stopped := false
	for _, step := range plan.Steps {
		if !stopped && ctx.Err() != nil {
			stopped = true
			errs = append(errs, fmt.Errorf("provisioning interrupted: %w", ctx.Err()))
		}
		if stopped {
			p.record(report, model.StepResult{Name: step.Name, Status: model.StatusNotRun})
			continue
		}

		res, err := p.runStep(ctx, plan, report, step, now)
		p.record(report, res)
		if err == nil {
			continue
		}

		errs = append(errs, &StepError{Step: step.Name, Err: err})
		if plan.Policy != model.PolicyContinue || ctx.Err() != nil {
			stopped = true
		}
	}

	report.FinishedAt = now()
	err := errors.Join(errs...)
	if err != nil {
		logger.Error("provisioning failed", "failed_steps", len(report.Failed()), "duration", report.Duration())
	} else {
		logger.Info("provisioning finished", "duration", report.Duration())
	}
	return report, err
}

func (p *Pipeline) record(report *model.Report, res model.StepResult) {
	report.Steps = append(report.Steps, res)
	if p.OnStep != nil {
		p.OnStep(res)
	}
}

// runStep executes one step: needed steps, skip check, precondition, then
// commands.
func (p *Pipeline) runStep(ctx context.Context, plan *Plan, report *model.Report, step Step, now func() time.Time) (model.StepResult, error) {
	logger := ctxlog.FromContext(ctx).With("step", step.Name)
	start := now()
	res := model.StepResult{Name: step.Name}
	finish := func(status model.StepStatus, exitCode int, detail string) model.StepResult {
		res.Status = status
		res.ExitCode = exitCode
		res.Detail = detail
		res.Duration = now().Sub(start)
		return res
	}

	logger.Info("step started", "summary", step.Summary)

	if reason := unmetNeed(report, step.Needs); reason != "" {
		logger.Warn("step precondition failed", "reason", reason)
		return finish(model.StatusFailed, 0, reason), fmt.Errorf("%w: %s", ErrPrecondition, reason)
	}

	if step.Skip != nil {
		if _, err := p.Runner.Run(ctx, withEnv(*step.Skip, plan.Env)); err == nil {
			logger.Info("step skipped", "reason", "already satisfied")
			return finish(model.StatusSkipped, 0, "already satisfied"), nil
		} else if ctx.Err() != nil {
			return finish(model.StatusFailed, -1, err.Error()), err
		}
	}

	if step.Require != nil {
		if _, err := p.Runner.Run(ctx, withEnv(*step.Require, plan.Env)); err != nil {
			if ctx.Err() != nil {
				return finish(model.StatusFailed, -1, err.Error()), err
			}
			reason := step.RequireReason
			if reason == "" {
				reason = step.Require.String()
			}
			logger.Warn("step precondition failed", "reason", reason)
			return finish(model.StatusFailed, 0, reason), fmt.Errorf("%w: %s", ErrPrecondition, reason)
		}
	}

	for _, c := range step.Commands {
		out, err := p.Runner.Run(ctx, withEnv(c, plan.Env))
		if err != nil {
			logger.Error("step failed", "cmd", c.String(), "exit_code", out.ExitCode, "error", err)
			return finish(model.StatusFailed, out.ExitCode, err.Error()), err
		}
	}

	res = finish(model.StatusSucceeded, 0, "")
	logger.Info("step succeeded", "duration", res.Duration)
	return res, nil
}

// unmetNeed describes the first step in needs that did not succeed or get
// skipped earlier in report. Steps that were not planned are ignored.
func unmetNeed(report *model.Report, needs []model.StepName) string {
	for _, name := range needs {
		res, ok := report.Step(name)
		if !ok {
			continue
		}
		if res.Status != model.StatusSucceeded && res.Status != model.StatusSkipped {
			return fmt.Sprintf("needs %s, which %s", name, res.Status)
		}
	}
	return ""
}

// withEnv prepends the plan environment to the command's own variables,
// so per-command values win.
func withEnv(c runner.Command, env []string) runner.Command {
	merged := make([]string, 0, len(env)+len(c.Env))
	merged = append(merged, env...)
	c.Env = append(merged, c.Env...)
	return c
}
