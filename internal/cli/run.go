package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/uhd-provision/internal/config"
	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/docker"
	"github.com/mmr-tortoise/uhd-provision/internal/metrics"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/probe"
	"github.com/mmr-tortoise/uhd-provision/internal/provision"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
	"github.com/mmr-tortoise/uhd-provision/internal/source"
)

// runFlags holds the flag values for the run command and the bare root
// command. Flags that override configuration keys are read through viper
// in app.setup; only the ones that do not map to a key live here.
type runFlags struct {
	skipPreflight bool // --skip-preflight: do not run the read-only checks
	skipVerify    bool // --skip-verify: do not probe pkg-config afterwards
}

// containerToolchain is added to the package list in container mode. A
// stock Debian image has neither git nor a compiler.
var containerToolchain = []string{
	"build-essential",
	"cmake",
	"git",
	"libboost-all-dev",
	"libusb-1.0-0-dev",
	"pkg-config",
	"python3-mako",
	"python3-numpy",
}

// addPlanFlags registers the flags that change which commands are planned.
func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("keep-going", false, "Attempt every step even after a failure (failure policy \"continue\")")
	cmd.Flags().Int("jobs", 0, "Parallel make jobs (default: one per CPU core)")
	cmd.Flags().String("container", "", "Run inside a fresh container from this image instead of on the host")
}

// addRunFlags registers the run flags on cmd.
func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	addPlanFlags(cmd)
	cmd.Flags().Bool("keep-container", false, "Keep the container after the run for inspection")
	cmd.Flags().String("metrics-file", "", "Write Prometheus textfile metrics for the run to this path")
	cmd.Flags().BoolVar(&flags.skipPreflight, "skip-preflight", false, "Skip the read-only preflight checks")
	cmd.Flags().BoolVar(&flags.skipVerify, "skip-verify", false, "Skip the pkg-config discoverability check")
}

// NewRunCommand creates the "run" cobra command.
func NewRunCommand(a *app) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Install dependencies, then clone, build and install UHD",
		Long: `Run the full provisioning procedure:

  1. apt-get update
  2. apt-get install -y <packages>
  3. git clone <repository> (skipped when a clone of the reachable repository exists)
  4. cmake out of tree
  5. make -j<cores>
  6. make install
  7. ldconfig

Examples:
  uhd-provision run
  uhd-provision run --keep-going --jobs 4
  uhd-provision run --container debian:bookworm --metrics-file /var/lib/node_exporter/uhd.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), a, flags)
		},
	}

	addRunFlags(cmd, flags)
	return cmd
}

// runProvision executes the provisioning procedure with the effective
// configuration and reports the result.
func runProvision(ctx context.Context, a *app, flags *runFlags) error {
	cfg := a.cfg
	runID := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)

	// Tool output and progress lines go to stderr in JSON mode so stdout
	// carries only the report.
	progress := a.stdout
	if jsonOutput {
		progress = a.stderr
	}

	r, err := a.openRunner(ctx, cfg, runID, progress, a.stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			logger.Warn("failed to release runner", "error", cerr)
		}
	}()

	if !flags.skipPreflight {
		if err := runPreflight(ctx, cfg, r, progress); err != nil {
			return err
		}
	}

	plan := provision.BuildPlan(cfg)
	pipeline := provision.NewPipeline(r)
	pipeline.OnStep = func(res model.StepResult) {
		printStepLine(progress, res)
	}

	report, runErr := pipeline.Execute(ctx, plan, runID)

	describeSource(ctx, r, cfg.Repository.Dir, report)

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile, report); err != nil {
			logger.Warn("metrics not written", "error", err)
		} else {
			logger.Debug("metrics written", "path", cfg.MetricsFile)
		}
	}

	printReport(a.stdout, report, jsonOutput)

	if runErr != nil {
		if ctx.Err() != nil {
			return model.WrapCLIError(model.ExitGeneralError, "provisioning interrupted", ctx.Err())
		}
		return model.WrapCLIError(model.ExitStepFailed,
			fmt.Sprintf("%d provisioning step(s) failed", len(report.Failed())), runErr)
	}

	if flags.skipVerify || !cfg.Probe.Enabled {
		return nil
	}
	res, err := newProber(cfg, r).Probe(ctx)
	if err != nil {
		return err
	}
	printProbe(progress, res, false)
	return nil
}

// openRunner returns the runner the procedure executes through: the host,
// or a freshly started container when container mode is enabled.
func openRunner(ctx context.Context, cfg *config.Config, runID string, stdout, stderr io.Writer) (runner.Runner, error) {
	if !cfg.Container.Enabled {
		return runner.NewHost(stdout, stderr), nil
	}

	applyContainerMode(cfg)

	cli, err := docker.NewClient()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "failed to create Docker client", err)
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}

	r := docker.NewRunner(cli, docker.RunnerOptions{
		Image:   cfg.Container.Image,
		Workdir: cfg.Container.Workdir,
		Keep:    cfg.Container.Keep,
		RunID:   runID,
		Env:     cfg.CommandEnv(),
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err := r.Start(ctx); err != nil {
		_ = r.Close()
		_ = cli.Close()
		return nil, err
	}
	return &containerSession{Runner: r, cli: cli}, nil
}

// describeSource records the revision and description of the clone in
// report, when the clone exists.
func describeSource(ctx context.Context, r runner.Runner, dir string, report *model.Report) {
	logger := ctxlog.FromContext(ctx)
	git := source.NewManager(r)
	if !git.IsRepository(ctx, dir) {
		logger.Debug("no clone to describe", "dir", dir)
		return
	}

	if rev, err := git.Revision(ctx, dir); err == nil {
		report.SourceRevision = rev
	} else {
		logger.Debug("source revision unavailable", "error", err)
	}
	if desc, err := git.Describe(ctx, dir); err == nil {
		report.SourceDescription = desc
	} else {
		logger.Debug("source description unavailable", "error", err)
	}
}

// applyContainerMode adjusts cfg for a run inside a stock image: the
// container runs as root without sudo, and needs the toolchain installed.
func applyContainerMode(cfg *config.Config) {
	cfg.Sudo = false
	cfg.Packages = config.NormalizePackages(append(cfg.Packages, containerToolchain...))
}

// containerSession closes the Docker client together with the container.
type containerSession struct {
	*docker.Runner
	cli *docker.Client
}

func (s *containerSession) Close() error {
	return errors.Join(s.Runner.Close(), s.cli.Close())
}

// runPreflight runs the preflight checks and prints their results. In
// container mode only the repository is checked, from the host, because
// the container's tools are installed by the procedure itself.
func runPreflight(ctx context.Context, cfg *config.Config, r runner.Runner, w io.Writer) error {
	checks := provision.Checks(cfg)
	if cfg.Container.Enabled {
		r = runner.NewHost(io.Discard, io.Discard)
		checks = []provision.Check{provision.RepositoryCheck(cfg)}
	}

	results, err := provision.Preflight(ctx, r, checks)
	if ctx.Err() != nil {
		return model.WrapCLIError(model.ExitGeneralError, "provisioning interrupted", ctx.Err())
	}
	printChecks(w, results)
	if err == nil {
		return nil
	}
	if errors.Is(err, provision.ErrPreflight) && cfg.Policy() == model.PolicyContinue {
		fmt.Fprintf(w, "%s %v; continuing (--keep-going)\n", color.Yellow.Sprint("warning:"), err)
		return nil
	}
	return model.WrapCLIError(model.ExitPreflightFailed, "preflight checks failed", err)
}

// newProber builds the discoverability probe for cfg.
func newProber(cfg *config.Config, r runner.Runner) *probe.Prober {
	return &probe.Prober{
		Runner:      r,
		Module:      cfg.Probe.Module,
		Constraint:  cfg.Probe.Constraint,
		SearchPaths: probe.SearchPathsFor(cfg.Build.InstallPrefix),
	}
}
