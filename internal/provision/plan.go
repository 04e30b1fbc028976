package provision

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/mmr-tortoise/uhd-provision/internal/config"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
	"github.com/mmr-tortoise/uhd-provision/internal/source"
)

// Step is one stage of the procedure.
type Step struct {
	Name    model.StepName
	Summary string

	// Skip, when set and exiting 0, marks the step as already satisfied.
	Skip *runner.Command

	// Needs names earlier steps that must have succeeded or been skipped in
	// this run. Otherwise the step fails with ErrPrecondition, so a failed
	// clone is never followed by a build of whatever tree is on disk.
	Needs []model.StepName

	// Require, when set and failing, fails the step with ErrPrecondition
	// before any of its commands run. RequireReason describes the missing
	// input for the report.
	Require       *runner.Command
	RequireReason string

	// Commands run in order. The first failure fails the step.
	Commands []runner.Command
}

// Plan is the ordered list of steps of one run.
type Plan struct {
	Steps []Step

	// Env is added to the environment of every command.
	Env []string

	// Jobs is the make parallelism of the compile step.
	Jobs int

	Policy model.FailurePolicy
}

// Step returns the planned step with the given name.
func (p *Plan) Step(name model.StepName) (Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// BuildPlan turns the configuration into the concrete commands of each step.
// Directories are joined with forward slashes because commands may run
// inside a Linux container regardless of the host platform.
func BuildPlan(cfg *config.Config) *Plan {
	jobs := cfg.Jobs()
	cloneDir := path.Clean(toSlash(cfg.Repository.Dir))
	srcDir := path.Clean(toSlash(cfg.SourceDir()))
	buildDir := path.Clean(toSlash(cfg.BuildDir()))
	priv := privileged(cfg)
	git := source.NewManager(nil)

	steps := []Step{
		{
			Name:     model.StepUpdateIndex,
			Summary:  "refresh the package index",
			Commands: []runner.Command{priv(runner.Command{Name: "apt-get", Args: []string{"update"}})},
		},
		{
			Name:    model.StepInstallDeps,
			Summary: fmt.Sprintf("install %d build dependencies", len(cfg.Packages)),
			Commands: []runner.Command{priv(runner.Command{
				Name: "apt-get",
				Args: append([]string{"install", "-y"}, cfg.Packages...),
			})},
		},
		{
			Name:    model.StepCloneSource,
			Summary: "clone " + cfg.Repository.URL,
			Skip:    ptr(git.CurrentCloneCommand(cloneDir, cfg.Repository.Ref)),
			Commands: []runner.Command{git.CloneCommand(source.CloneOptions{
				URL:   cfg.Repository.URL,
				Dir:   cloneDir,
				Ref:   cfg.Repository.Ref,
				Depth: cfg.Repository.Depth,
			})},
		},
		{
			Name:          model.StepConfigure,
			Summary:       "configure an out-of-tree build in " + buildDir,
			Needs:         []model.StepName{model.StepCloneSource},
			Require:       ptr(testFile(path.Join(srcDir, "CMakeLists.txt"))),
			RequireReason: "source tree missing: " + path.Join(srcDir, "CMakeLists.txt"),
			Commands: []runner.Command{
				{Name: "mkdir", Args: []string{"-p", buildDir}},
				cmakeCommand(cfg, srcDir, buildDir),
			},
		},
		{
			Name:          model.StepCompile,
			Summary:       fmt.Sprintf("compile with %d parallel jobs", jobs),
			Needs:         []model.StepName{model.StepConfigure},
			Require:       ptr(testFile(path.Join(buildDir, "Makefile"))),
			RequireReason: "build directory not configured: " + path.Join(buildDir, "Makefile"),
			Commands: []runner.Command{
				{Name: "make", Args: []string{"-C", buildDir, fmt.Sprintf("-j%d", jobs)}},
			},
		},
		{
			Name:          model.StepInstall,
			Summary:       "install into system directories",
			Needs:         []model.StepName{model.StepCompile},
			Require:       ptr(testFile(path.Join(buildDir, "Makefile"))),
			RequireReason: "build directory not configured: " + path.Join(buildDir, "Makefile"),
			Commands: []runner.Command{
				priv(runner.Command{Name: "make", Args: []string{"-C", buildDir, "install"}}),
			},
		},
	}

	if cfg.Build.Ldconfig {
		steps = append(steps, Step{
			Name:     model.StepRefreshLinkerCache,
			Summary:  "refresh the dynamic linker cache",
			Commands: []runner.Command{priv(runner.Command{Name: "ldconfig"})},
		})
	}

	return &Plan{
		Steps:  steps,
		Env:    cfg.CommandEnv(),
		Jobs:   jobs,
		Policy: cfg.Policy(),
	}
}

func cmakeCommand(cfg *config.Config, srcDir, buildDir string) runner.Command {
	args := []string{"-S", srcDir, "-B", buildDir}
	if cfg.Build.InstallPrefix != "" {
		args = append(args, "-DCMAKE_INSTALL_PREFIX="+cfg.Build.InstallPrefix)
	}
	args = append(args, cfg.Build.CMakeArgs...)
	return runner.Command{Name: "cmake", Args: args}
}

// testFile is a quiet existence check used for preconditions.
func testFile(p string) runner.Command {
	return runner.Command{Name: "test", Args: []string{"-f", p}, Capture: true}
}

// privileged returns a function that wraps a command in sudo when the
// configuration asks for it. sudo resets the environment, so the plan
// variables are explicitly preserved.
func privileged(cfg *config.Config) func(runner.Command) runner.Command {
	if !cfg.Sudo {
		return func(c runner.Command) runner.Command { return c }
	}
	preserve := "--preserve-env=" + strings.Join(envKeys(cfg.CommandEnv()), ",")
	return func(c runner.Command) runner.Command {
		args := append([]string{preserve, c.Name}, c.Args...)
		return runner.Command{Name: "sudo", Args: args, Dir: c.Dir, Env: c.Env, Capture: c.Capture}
	}
}

// envKeys returns the sorted, de-duplicated variable names of env.
func envKeys(env []string) []string {
	seen := make(map[string]bool, len(env))
	keys := make([]string, 0, len(env))
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func ptr(c runner.Command) *runner.Command {
	return &c
}
