package provision

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mmr-tortoise/uhd-provision/internal/config"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
)

// TestBuildPlan_Defaults verifies the step order and the commands of the
// default procedure.
func TestBuildPlan_Defaults(t *testing.T) {
	plan := BuildPlan(testConfig())

	names := make([]model.StepName, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, model.StepOrder, names)
	assert.Equal(t, model.PolicyHalt, plan.Policy)
	assert.Equal(t, []string{config.NonInteractiveEnv}, plan.Env)

	want := map[model.StepName][]string{
		model.StepUpdateIndex:        {"apt-get update"},
		model.StepInstallDeps:        {"apt-get install -y cmake git libboost-all-dev"},
		model.StepCloneSource:        {"git clone -- https://github.com/EttusResearch/uhd.git uhd"},
		model.StepConfigure:          {"mkdir -p uhd/host/build", "cmake -S uhd/host -B uhd/host/build"},
		model.StepCompile:            {fmt.Sprintf("make -C uhd/host/build -j%d", runtime.NumCPU())},
		model.StepInstall:            {"make -C uhd/host/build install"},
		model.StepRefreshLinkerCache: {"ldconfig"},
	}
	for _, s := range plan.Steps {
		got := make([]string, 0, len(s.Commands))
		for _, c := range s.Commands {
			got = append(got, c.String())
		}
		assert.Equal(t, want[s.Name], got, "commands of %s", s.Name)
	}
}

// TestBuildPlan_Guards verifies the skip and precondition commands.
func TestBuildPlan_Guards(t *testing.T) {
	plan := BuildPlan(testConfig())

	clone, ok := plan.Step(model.StepCloneSource)
	require.True(t, ok)
	require.NotNil(t, clone.Skip)
	assert.Equal(t, []string{"git", "--git-dir=uhd/.git", "ls-remote", "--exit-code", "origin"}, clone.Skip.Argv())
	assert.Nil(t, clone.Require)
	assert.Empty(t, clone.Needs)

	needs := map[model.StepName]model.StepName{
		model.StepConfigure: model.StepCloneSource,
		model.StepCompile:   model.StepConfigure,
		model.StepInstall:   model.StepCompile,
	}
	for name, need := range needs {
		s, _ := plan.Step(name)
		assert.Equal(t, []model.StepName{need}, s.Needs, name)
	}

	configure, _ := plan.Step(model.StepConfigure)
	require.NotNil(t, configure.Require)
	assert.Equal(t, []string{"test", "-f", "uhd/host/CMakeLists.txt"}, configure.Require.Argv())
	assert.Contains(t, configure.RequireReason, "source tree missing")

	for _, name := range []model.StepName{model.StepCompile, model.StepInstall} {
		s, _ := plan.Step(name)
		require.NotNil(t, s.Require, name)
		assert.Equal(t, []string{"test", "-f", "uhd/host/build/Makefile"}, s.Require.Argv())
	}

	update, _ := plan.Step(model.StepUpdateIndex)
	assert.Nil(t, update.Skip)
	assert.Nil(t, update.Require)
}

// TestBuildPlan_BackslashDirs verifies that every directory reaches the
// commands with forward slashes, for a Windows host driving a Linux
// container.
func TestBuildPlan_BackslashDirs(t *testing.T) {
	cfg := testConfig()
	cfg.Repository.Dir = `work\uhd`
	cfg.Repository.Ref = "v4.6.0.0"
	plan := BuildPlan(cfg)

	clone, _ := plan.Step(model.StepCloneSource)
	assert.Equal(t, []string{"git", "--git-dir=work/uhd/.git", "ls-remote", "--exit-code", "origin", "v4.6.0.0"}, clone.Skip.Argv())
	argv := clone.Commands[0].Argv()
	assert.Equal(t, "work/uhd", argv[len(argv)-1])

	for _, s := range plan.Steps {
		for _, c := range s.Commands {
			assert.NotContains(t, c.String(), `\`, c.String())
		}
	}
}

// TestBuildPlan_Options covers the configurable parts of the commands.
func TestBuildPlan_Options(t *testing.T) {
	cfg := testConfig()
	cfg.Repository.Ref = "v4.6.0.0"
	cfg.Repository.Depth = 1
	cfg.Build.Dir = "/tmp/uhd-build"
	cfg.Build.Jobs = 3
	cfg.Build.InstallPrefix = "/opt/uhd"
	cfg.Build.CMakeArgs = []string{"-DENABLE_TESTS=OFF", "-DENABLE_PYTHON_API=ON"}
	cfg.Build.Ldconfig = false
	cfg.FailurePolicy = "continue"

	plan := BuildPlan(cfg)

	assert.Equal(t, model.PolicyContinue, plan.Policy)
	assert.Equal(t, 3, plan.Jobs)
	_, ok := plan.Step(model.StepRefreshLinkerCache)
	assert.False(t, ok, "ldconfig step is optional")

	clone, _ := plan.Step(model.StepCloneSource)
	assert.Equal(t, "git clone --branch v4.6.0.0 --depth 1 -- https://github.com/EttusResearch/uhd.git uhd", clone.Commands[0].String())

	configure, _ := plan.Step(model.StepConfigure)
	assert.Equal(t,
		"cmake -S uhd/host -B /tmp/uhd-build -DCMAKE_INSTALL_PREFIX=/opt/uhd -DENABLE_TESTS=OFF -DENABLE_PYTHON_API=ON",
		configure.Commands[1].String())

	compile, _ := plan.Step(model.StepCompile)
	assert.Equal(t, "make -C /tmp/uhd-build -j3", compile.Commands[0].String())
}

// TestBuildPlan_Sudo verifies only privileged commands are wrapped, with
// the plan environment preserved.
func TestBuildPlan_Sudo(t *testing.T) {
	cfg := testConfig()
	cfg.Sudo = true
	cfg.Env = []string{"CCACHE_DIR=/var/cache/ccache"}

	plan := BuildPlan(cfg)
	const prefix = "sudo --preserve-env=CCACHE_DIR,DEBIAN_FRONTEND "

	lines := map[model.StepName]string{}
	for _, s := range plan.Steps {
		lines[s.Name] = s.Commands[len(s.Commands)-1].String()
	}

	assert.Equal(t, prefix+"apt-get update", lines[model.StepUpdateIndex])
	assert.Equal(t, prefix+"apt-get install -y cmake git libboost-all-dev", lines[model.StepInstallDeps])
	assert.Equal(t, prefix+"make -C uhd/host/build install", lines[model.StepInstall])
	assert.Equal(t, prefix+"ldconfig", lines[model.StepRefreshLinkerCache])

	assert.NotContains(t, lines[model.StepCloneSource], "sudo")
	assert.NotContains(t, lines[model.StepConfigure], "sudo")
	assert.NotContains(t, lines[model.StepCompile], "sudo")
}

// TestBuildPlan_JobsProperty checks that the compile step always passes
// exactly the effective job count to make, and that an unset job count
// means one job per available core.
func TestBuildPlan_JobsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		jobs := rapid.IntRange(0, 256).Draw(t, "jobs")
		cfg := testConfig()
		cfg.Build.Jobs = jobs

		plan := BuildPlan(cfg)
		compile, ok := plan.Step(model.StepCompile)
		if !ok {
			t.Fatalf("compile step missing")
		}

		want := jobs
		if jobs == 0 {
			want = runtime.NumCPU()
		}
		if plan.Jobs != want {
			t.Fatalf("plan jobs = %d, want %d", plan.Jobs, want)
		}
		args := compile.Commands[0].Args
		if got := args[len(args)-1]; got != fmt.Sprintf("-j%d", want) {
			t.Fatalf("make parallelism = %s, want -j%d", got, want)
		}
	})
}

func TestEnvKeys(t *testing.T) {
	got := envKeys([]string{"DEBIAN_FRONTEND=noninteractive", "B=1", "A=2", "B=3", "=x"})
	assert.Equal(t, []string{"A", "B", "DEBIAN_FRONTEND"}, got)
}
