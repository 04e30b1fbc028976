package provision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mmr-tortoise/uhd-provision/internal/config"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
)

// simHost is a runner.Runner that simulates the effect of the procedure's
// tools on a filesystem: a successful clone creates the source tree, cmake
// creates the Makefile, and `test` checks the simulated files.
type simHost struct {
	mu sync.Mutex

	files map[string]bool

	// offline makes apt-get and every network git operation fail.
	offline bool

	// unreachable makes only the git remote fail.
	unreachable bool

	// missingTools are reported absent by `command -v`.
	missingTools map[string]bool

	calls []runner.Command
}

func newSimHost() *simHost {
	return &simHost{files: map[string]bool{}, missingTools: map[string]bool{}}
}

func (s *simHost) Kind() model.RunnerKind { return model.RunnerHost }

func (s *simHost) Close() error { return nil }

func (s *simHost) Run(ctx context.Context, c runner.Command) (runner.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, c)
	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1}, fmt.Errorf("%s interrupted: %w", c.Name, err)
	}

	fail := func(code int, stderr string) (runner.Result, error) {
		return runner.Result{ExitCode: code, Stderr: stderr}, &runner.ExitError{Command: c, Code: code, Stderr: stderr}
	}

	argv := c.Argv()
	if argv[0] == "sudo" {
		argv = argv[2:]
	}

	switch argv[0] {
	case "apt-get":
		if s.offline {
			return fail(100, "E: Failed to fetch http://deb.debian.org/debian/dists/bookworm/InRelease")
		}
	case "git":
		args := argv[1:]
		gitDir, explicit := strings.CutPrefix(args[0], "--git-dir=")
		if explicit {
			if !s.files[gitDir] {
				return fail(128, "fatal: not a git repository: '"+gitDir+"'")
			}
			args = args[1:]
		}
		switch args[0] {
		case "clone":
			dir := args[len(args)-1]
			if s.files[dir+"/.git"] {
				return fail(128, "fatal: destination path '"+dir+"' already exists and is not an empty directory.")
			}
			if s.offline || s.unreachable {
				return fail(128, "fatal: unable to access repository")
			}
			s.files[dir+"/.git"] = true
			s.files[dir+"/host/CMakeLists.txt"] = true
		case "ls-remote":
			if s.offline || s.unreachable {
				return fail(128, "fatal: unable to access repository")
			}
		}
	case "test":
		if !s.files[argv[2]] {
			return fail(1, "")
		}
	case "cmake":
		s.files[argv[4]+"/Makefile"] = true
	case "sh":
		if s.missingTools[argv[4]] {
			return fail(127, "")
		}
	}
	return runner.Result{}, nil
}

// commandLines returns the recorded commands rendered as strings.
func (s *simHost) commandLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		lines = append(lines, strings.Join(c.Argv(), " "))
	}
	return lines
}

// testConfig returns a configuration equivalent to the built-in defaults
// with a short package list.
func testConfig() *config.Config {
	return &config.Config{
		Packages:      []string{"cmake", "git", "libboost-all-dev"},
		Repository:    config.RepositoryConfig{URL: "https://github.com/EttusResearch/uhd.git", Dir: "uhd"},
		Build:         config.BuildConfig{SourceSubdir: "host", Ldconfig: true},
		FailurePolicy: string(model.PolicyHalt),
	}
}
