package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/uhd-provision/internal/config"
	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
	"github.com/mmr-tortoise/uhd-provision/internal/source"
)

// ErrPreflight is wrapped by the error Preflight returns when a mandatory
// check failed.
var ErrPreflight = errors.New("preflight failed")

// Check is one read-only preflight check.
type Check struct {
	Name string

	// Mandatory checks abort the run when they fail. Others only warn.
	Mandatory bool

	run func(ctx context.Context, r runner.Runner) error
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name      string `json:"name"`
	Mandatory bool   `json:"mandatory"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
}

// Checks returns the preflight checks for cfg. apt-get and git must exist
// before the first step runs. cmake and make are installed by install-deps,
// so their absence only warns.
func Checks(cfg *config.Config) []Check {
	checks := []Check{
		toolCheck("apt-get", true),
		toolCheck("git", true),
		toolCheck("cmake", false),
		toolCheck("make", false),
	}
	if cfg.Sudo {
		checks = append(checks, toolCheck("sudo", true))
	}

	return append(checks, RepositoryCheck(cfg))
}

// RepositoryCheck verifies that the configured repository (and ref, when
// set) answers git ls-remote.
func RepositoryCheck(cfg *config.Config) Check {
	url, ref := cfg.Repository.URL, cfg.Repository.Ref
	return Check{
		Name:      "repository reachable",
		Mandatory: true,
		run: func(ctx context.Context, r runner.Runner) error {
			return source.NewManager(r).RemoteReachable(ctx, url, ref)
		},
	}
}

// toolCheck verifies that name resolves on the runner's PATH.
func toolCheck(name string, mandatory bool) Check {
	return Check{
		Name:      "tool " + name,
		Mandatory: mandatory,
		run: func(ctx context.Context, r runner.Runner) error {
			_, err := r.Run(ctx, runner.Command{
				Name:    "sh",
				Args:    []string{"-c", `command -v "$1"`, "sh", name},
				Capture: true,
			})
			if err != nil {
				return fmt.Errorf("%s not found on PATH", name)
			}
			return nil
		},
	}
}

// Preflight runs checks concurrently and returns one result per check in
// the order given. The error is non-nil when a mandatory check failed or
// ctx was cancelled.
func Preflight(ctx context.Context, r runner.Runner, checks []Check) ([]CheckResult, error) {
	logger := ctxlog.FromContext(ctx)
	results := make([]CheckResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			err := c.run(gctx, r)
			results[i] = CheckResult{Name: c.Name, Mandatory: c.Mandatory, OK: err == nil}
			if err != nil {
				results[i].Detail = err.Error()
			}
			// A failed check is a result, not a reason to cancel the others.
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	var failed []string
	for _, res := range results {
		switch {
		case res.OK:
			logger.Debug("preflight check passed", "check", res.Name)
		case res.Mandatory:
			logger.Error("preflight check failed", "check", res.Name, "detail", res.Detail)
			failed = append(failed, res.Name)
		default:
			logger.Warn("preflight check failed", "check", res.Name, "detail", res.Detail)
		}
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("%w: %s", ErrPreflight, strings.Join(failed, ", "))
	}
	return results, nil
}
