// Package probe checks that the installed library is discoverable by
// downstream builds through pkg-config, and that its version satisfies a
// semver constraint.
package probe

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
)

// Result is what pkg-config reported about the module.
type Result struct {
	Module string `json:"module"`

	// Version is the raw version string, e.g. "4.6.0.0".
	Version string `json:"version"`

	// SemVer is Version normalized to semantic versioning, e.g. "4.6.0+0".
	SemVer string `json:"semver"`

	IncludeDir string `json:"includeDir,omitempty"`
	LibDir     string `json:"libDir,omitempty"`

	// Constraint is the constraint that was checked, if any.
	Constraint string `json:"constraint,omitempty"`
}

// Prober queries pkg-config through a runner.
type Prober struct {
	Runner runner.Runner

	// Module is the pkg-config module name, e.g. "uhd".
	Module string

	// Constraint is a Masterminds semver constraint such as ">= 3.15.0".
	// Empty disables the version check.
	Constraint string

	// SearchPaths are prepended to PKG_CONFIG_PATH.
	SearchPaths []string
}

// SearchPathsFor returns the pkg-config directories under an install
// prefix. An empty prefix means the system default, which pkg-config
// already searches.
func SearchPathsFor(prefix string) []string {
	if prefix == "" {
		return nil
	}
	return []string{
		path.Join(prefix, "lib", "pkgconfig"),
		path.Join(prefix, "lib64", "pkgconfig"),
		path.Join(prefix, "share", "pkgconfig"),
	}
}

// Probe looks the module up and checks its version. Every failure is a
// model.CLIError with ExitProbeFailed.
func (p *Prober) Probe(ctx context.Context) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	// Parse the constraint first so a configuration mistake is not
	// reported as a missing library.
	var constraint *semver.Constraints
	if p.Constraint != "" {
		c, err := semver.NewConstraint(p.Constraint)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitProbeFailed,
				fmt.Sprintf("invalid version constraint %q", p.Constraint), err)
		}
		constraint = c
	}

	raw, err := p.query(ctx, "--modversion")
	if err != nil {
		return nil, model.WrapCLIError(model.ExitProbeFailed,
			fmt.Sprintf("%s is not discoverable through pkg-config", p.Module), err)
	}

	v, err := NormalizeVersion(raw)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitProbeFailed,
			fmt.Sprintf("%s reports an unparseable version %q", p.Module, raw), err)
	}

	res := &Result{Module: p.Module, Version: raw, SemVer: v.String(), Constraint: p.Constraint}

	// Directory lookups are informational.
	if dir, err := p.query(ctx, "--variable=includedir"); err == nil {
		res.IncludeDir = dir
	}
	if dir, err := p.query(ctx, "--variable=libdir"); err == nil {
		res.LibDir = dir
	}

	if constraint != nil {
		if ok, reasons := constraint.Validate(v); !ok {
			return res, model.WrapCLIError(model.ExitProbeFailed,
				fmt.Sprintf("%s %s does not satisfy %q", p.Module, raw, p.Constraint), errors.Join(reasons...))
		}
	}

	logger.Info("library discoverable", "module", p.Module, "version", raw, "includedir", res.IncludeDir)
	return res, nil
}

func (p *Prober) query(ctx context.Context, arg string) (string, error) {
	c := runner.Command{
		Name:    "pkg-config",
		Args:    []string{arg, p.Module},
		Capture: true,
	}
	if len(p.SearchPaths) > 0 {
		c.Env = []string{"PKG_CONFIG_PATH=" + strings.Join(p.SearchPaths, ":")}
	}
	res, err := p.Runner.Run(ctx, c)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// NormalizeVersion parses a library version into a semantic version.
//
// UHD uses four numeric components (4.6.0.0). Components past the third are
// moved into build metadata, so "4.6.0.0" becomes "4.6.0+0" and compares
// equal to 4.6.0 under constraints. A leading "v" and any pre-release or
// metadata suffix are kept as semver understands them.
func NormalizeVersion(raw string) (*semver.Version, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if s == "" {
		return nil, errors.New("empty version")
	}

	core, suffix := s, ""
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		core, suffix = s[:i], s[i:]
	}

	parts := strings.Split(core, ".")
	if len(parts) > 3 {
		extra := strings.Join(parts[3:], ".")
		core = strings.Join(parts[:3], ".")

		pre, meta, hasMeta := strings.Cut(suffix, "+")
		if hasMeta {
			meta = extra + "." + meta
		} else {
			meta = extra
		}
		suffix = pre + "+" + meta
	}

	return semver.NewVersion(core + suffix)
}
