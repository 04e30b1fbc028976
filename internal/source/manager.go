// Package source provides the git operations of the source-acquisition
// step: building the clone command, detecting an existing clone, and
// querying revisions and remote reachability.
//
// Design decisions:
//   - We shell out to `git` rather than using a Go Git library (e.g., go-git)
//     so that clone behaviour (credentials, proxies, protocol support) is
//     exactly what the host's git does.
//   - Every git invocation goes through a runner.Runner, so the same code
//     works on the host and inside a provisioning container.
//   - Mutating operations (clone) are returned as runner.Command values for
//     the pipeline to execute; read-only queries execute immediately.
package source

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mmr-tortoise/uhd-provision/internal/runner"
)

// ErrNotRepository is returned by queries against a directory that is not
// a git working tree.
var ErrNotRepository = errors.New("not a git repository")

// CloneOptions configures a clone.
type CloneOptions struct {
	// URL is the remote repository.
	URL string

	// Dir is the clone target directory.
	Dir string

	// Ref is a branch or tag to check out. Empty means the remote default.
	Ref string

	// Depth enables a shallow clone when greater than zero.
	Depth int
}

// Manager runs git through a runner.
type Manager struct {
	run runner.Runner

	// Git is the git binary name. Defaults to "git".
	Git string
}

// NewManager creates a Manager that executes git through r.
func NewManager(r runner.Runner) *Manager {
	return &Manager{run: r, Git: "git"}
}

// CloneCommand returns the command that clones opts.URL into opts.Dir.
//
// The "--" separator keeps a URL or directory from ever being parsed as a
// git option.
func (m *Manager) CloneCommand(opts CloneOptions) runner.Command {
	args := []string{"clone"}
	if opts.Ref != "" {
		args = append(args, "--branch", opts.Ref)
	}
	if opts.Depth > 0 {
		args = append(args, "--depth", fmt.Sprint(opts.Depth))
	}
	args = append(args, "--", opts.URL, opts.Dir)
	return runner.Command{Name: m.Git, Args: args}
}

// IsRepositoryCommand returns a read-only command that exits 0 when dir is
// the top of a git working tree.
//
// `git rev-parse` is not used here: it also succeeds for a plain directory
// nested inside some other checkout.
func (m *Manager) IsRepositoryCommand(dir string) runner.Command {
	return runner.Command{
		Name:    "test",
		Args:    []string{"-e", path.Join(dir, ".git")},
		Capture: true,
	}
}

// CurrentCloneCommand returns a read-only command that exits 0 only when
// dir is an existing clone whose origin still answers, and, when ref is
// set, still carries ref. The pipeline uses it to skip the clone on
// re-runs, so an unreachable repository is never hidden by an old checkout.
//
// --git-dir keeps git from falling back to a parent checkout when dir is
// not a clone.
func (m *Manager) CurrentCloneCommand(dir, ref string) runner.Command {
	args := []string{"--git-dir=" + path.Join(dir, ".git"), "ls-remote", "--exit-code", "origin"}
	if ref != "" {
		args = append(args, ref)
	}
	return runner.Command{Name: m.Git, Args: args, Capture: true}
}

// IsRepository reports whether dir is the top of a git working tree.
func (m *Manager) IsRepository(ctx context.Context, dir string) bool {
	_, err := m.run.Run(ctx, m.IsRepositoryCommand(dir))
	return err == nil
}

// Revision returns the full commit SHA that HEAD points to in dir.
func (m *Manager) Revision(ctx context.Context, dir string) (string, error) {
	out, err := m.git(ctx, "-C", dir, "rev-parse", "HEAD")
	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Describe returns `git describe --tags --always` for dir, which for UHD
// yields the release tag (e.g. "v4.6.0.0") when HEAD is on one.
func (m *Manager) Describe(ctx context.Context, dir string) (string, error) {
	out, err := m.git(ctx, "-C", dir, "describe", "--tags", "--always")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RemoteReachable checks that url answers `git ls-remote`. When ref is
// set, the ref must also exist on the remote.
func (m *Manager) RemoteReachable(ctx context.Context, url, ref string) error {
	args := []string{"ls-remote", "--exit-code", "--", url}
	if ref != "" {
		args = append(args, ref)
	}
	if _, err := m.git(ctx, args...); err != nil {
		var exitErr *runner.ExitError
		// ls-remote --exit-code returns 2 when the remote answered but no
		// matching ref was found.
		if errors.As(err, &exitErr) && exitErr.Code == 2 {
			return fmt.Errorf("ref %q not found on %s", ref, url)
		}
		return fmt.Errorf("repository %s is not reachable: %w", url, err)
	}
	return nil
}

// git runs a read-only git command and returns its stdout.
func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	res, err := m.run.Run(ctx, runner.Command{Name: m.Git, Args: args, Capture: true})
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
