// Package config provides configuration types, defaults and loading for
// uhd-provision.
//
// Values are layered by github.com/spf13/viper: built-in defaults, then an
// optional config file (YAML, JSON, or JSONC), then UHD_PROVISION_*
// environment variables, then command-line flags bound by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/uhd-provision/internal/model"
)

// EnvPrefix is the prefix of environment variables that override config keys.
// Nested keys use underscores: build.jobs → UHD_PROVISION_BUILD_JOBS.
const EnvPrefix = "UHD_PROVISION"

// NonInteractiveEnv is applied to every command so apt never blocks on a prompt.
const NonInteractiveEnv = "DEBIAN_FRONTEND=noninteractive"

// Config holds all configuration options for uhd-provision.
type Config struct {
	Packages      []string         `mapstructure:"packages" yaml:"packages"`
	Repository    RepositoryConfig `mapstructure:"repository" yaml:"repository"`
	Build         BuildConfig      `mapstructure:"build" yaml:"build"`
	FailurePolicy string           `mapstructure:"failure_policy" yaml:"failure_policy"`

	// Sudo prefixes privileged commands (apt-get, make install, ldconfig)
	// with sudo, preserving DEBIAN_FRONTEND.
	Sudo bool `mapstructure:"sudo" yaml:"sudo"`

	// Env holds extra KEY=VALUE pairs added to every command's environment.
	// A list is used instead of a map because viper lower-cases map keys.
	Env []string `mapstructure:"env" yaml:"env"`

	Container   ContainerConfig `mapstructure:"container" yaml:"container"`
	Probe       ProbeConfig     `mapstructure:"probe" yaml:"probe"`
	Log         LogConfig       `mapstructure:"log" yaml:"log"`
	MetricsFile string          `mapstructure:"metrics_file" yaml:"metrics_file"`
}

// RepositoryConfig describes the driver source repository.
type RepositoryConfig struct {
	URL string `mapstructure:"url" yaml:"url"`

	// Ref is a branch or tag passed to git clone --branch. Empty clones the
	// default branch.
	Ref string `mapstructure:"ref" yaml:"ref"`

	// Dir is the clone target, relative to the working directory.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Depth enables a shallow clone when greater than zero.
	Depth int `mapstructure:"depth" yaml:"depth"`
}

// BuildConfig describes the out-of-tree CMake build.
type BuildConfig struct {
	// SourceSubdir is the directory inside the clone holding the top-level
	// CMakeLists.txt. UHD keeps it under host/.
	SourceSubdir string `mapstructure:"source_subdir" yaml:"source_subdir"`

	// Dir is the build directory. Empty means <source>/build.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Jobs is the make parallelism. Zero means one job per CPU core.
	Jobs int `mapstructure:"jobs" yaml:"jobs"`

	InstallPrefix string   `mapstructure:"install_prefix" yaml:"install_prefix"`
	CMakeArgs     []string `mapstructure:"cmake_args" yaml:"cmake_args"`

	// Ldconfig appends the refresh-linker-cache step.
	Ldconfig bool `mapstructure:"ldconfig" yaml:"ldconfig"`
}

// ContainerConfig controls running the procedure inside a Docker container.
type ContainerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Image   string `mapstructure:"image" yaml:"image"`

	// Keep leaves the container in place after the run for inspection.
	Keep bool `mapstructure:"keep" yaml:"keep"`

	// Workdir is the working directory inside the container.
	Workdir string `mapstructure:"workdir" yaml:"workdir"`
}

// ProbeConfig controls the post-install discoverability check.
type ProbeConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Module is the pkg-config module name of the installed library.
	Module string `mapstructure:"module" yaml:"module"`

	// Constraint is a semver constraint the installed version must satisfy.
	Constraint string `mapstructure:"constraint" yaml:"constraint"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultPackages returns the Debian build prerequisites of UHD.
func DefaultPackages() []string {
	return []string{
		"autoconf",
		"automake",
		"build-essential",
		"ccache",
		"cmake",
		"cpufrequtils",
		"doxygen",
		"ethtool",
		"g++",
		"git",
		"inetutils-tools",
		"libboost-all-dev",
		"libncurses-dev",
		"libusb-1.0-0",
		"libusb-1.0-0-dev",
		"libusb-dev",
		"pkg-config",
		"python3-dev",
		"python3-mako",
		"python3-numpy",
		"python3-requests",
		"python3-scipy",
		"python3-setuptools",
		"python3-ruamel.yaml",
	}
}

// New returns a viper instance with every default registered and
// environment overrides enabled. Registering a default for every key is
// what lets AutomaticEnv see nested keys during Unmarshal.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("packages", DefaultPackages())
	v.SetDefault("repository.url", "https://github.com/EttusResearch/uhd.git")
	v.SetDefault("repository.ref", "")
	v.SetDefault("repository.dir", "uhd")
	v.SetDefault("repository.depth", 0)
	v.SetDefault("build.source_subdir", "host")
	v.SetDefault("build.dir", "")
	v.SetDefault("build.jobs", 0)
	v.SetDefault("build.install_prefix", "")
	v.SetDefault("build.cmake_args", []string{})
	v.SetDefault("build.ldconfig", true)
	v.SetDefault("failure_policy", string(model.PolicyHalt))
	v.SetDefault("sudo", false)
	v.SetDefault("env", []string{})
	v.SetDefault("container.enabled", false)
	v.SetDefault("container.image", "debian:bookworm")
	v.SetDefault("container.keep", false)
	v.SetDefault("container.workdir", "/usr/src")
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.module", "uhd")
	v.SetDefault("probe.constraint", ">= 3.15.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics_file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the config file (if any) into v, then unmarshals, normalizes
// and validates the result.
//
// When path is empty, "uhd-provision.{yaml,yml,json}" is searched in the
// working directory and /etc/uhd-provision; a missing file is not an error.
// Files ending in .json or .jsonc may contain comments and trailing commas.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := readConfigFile(v, path); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to read configuration", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to decode configuration", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		v.SetConfigName("uhd-provision")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/uhd-provision")
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		// Strip // and /* */ comments and trailing commas before viper's
		// strict JSON decoder sees the file.
		v.SetConfigType("json")
		return v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data)))
	default:
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
}

// Normalize trims values and removes duplicate packages.
func (c *Config) Normalize() {
	c.Packages = NormalizePackages(c.Packages)
	c.Repository.URL = strings.TrimSpace(c.Repository.URL)
	c.Repository.Dir = filepath.Clean(strings.TrimSpace(c.Repository.Dir))
	c.FailurePolicy = strings.ToLower(strings.TrimSpace(c.FailurePolicy))
}

// NormalizePackages trims names, drops empty entries and removes
// duplicates, preserving first-occurrence order.
func NormalizePackages(pkgs []string) []string {
	seen := make(map[string]struct{}, len(pkgs))
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// packageNameRegex accepts Debian package names, optionally with an
// architecture qualifier (":amd64") or a version pin ("=1.2-3").
var packageNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9+.\-]+(:[a-z0-9]+)?(=[A-Za-z0-9.+~:\-]+)?$`)

// ValidatePackageName checks a single package name. A leading "-" is
// rejected explicitly so a name can never be read as an apt-get option.
func ValidatePackageName(name string) error {
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("package name %q must not start with '-'", name)
	}
	if !packageNameRegex.MatchString(name) {
		return fmt.Errorf("invalid package name %q", name)
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot use.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Packages) == 0 {
		errs = append(errs, errors.New("packages: at least one package is required"))
	}
	for _, p := range c.Packages {
		if err := ValidatePackageName(p); err != nil {
			errs = append(errs, fmt.Errorf("packages: %w", err))
		}
	}

	if c.Repository.URL == "" {
		errs = append(errs, errors.New("repository.url must not be empty"))
	}
	if c.Repository.Dir == "" || c.Repository.Dir == "." {
		errs = append(errs, errors.New("repository.dir must name a directory"))
	}
	if strings.HasPrefix(c.Repository.Ref, "-") {
		errs = append(errs, fmt.Errorf("repository.ref %q must not start with '-'", c.Repository.Ref))
	}
	if c.Repository.Depth < 0 {
		errs = append(errs, fmt.Errorf("repository.depth must be >= 0, got %d", c.Repository.Depth))
	}

	if c.Build.Jobs < 0 {
		errs = append(errs, fmt.Errorf("build.jobs must be >= 0, got %d", c.Build.Jobs))
	}
	if filepath.IsAbs(c.Build.SourceSubdir) {
		errs = append(errs, fmt.Errorf("build.source_subdir %q must be relative to the clone", c.Build.SourceSubdir))
	}

	if _, err := model.ParseFailurePolicy(c.FailurePolicy); err != nil {
		errs = append(errs, err)
	}

	for _, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("env entry %q must have the form KEY=VALUE", kv))
		}
	}

	if c.Container.Enabled && c.Container.Image == "" {
		errs = append(errs, errors.New("container.image must be set when container.enabled is true"))
	}
	if c.Probe.Enabled && c.Probe.Module == "" {
		errs = append(errs, errors.New("probe.module must be set when probe.enabled is true"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Policy returns the parsed failure policy. Call after Validate.
func (c *Config) Policy() model.FailurePolicy {
	p, err := model.ParseFailurePolicy(c.FailurePolicy)
	if err != nil {
		return model.PolicyHalt
	}
	return p
}

// Jobs returns the make parallelism: the configured value, or the number
// of CPU cores available to this process when unset.
func (c *Config) Jobs() int {
	if c.Build.Jobs > 0 {
		return c.Build.Jobs
	}
	return runtime.NumCPU()
}

// SourceDir is the directory holding the top-level CMakeLists.txt.
func (c *Config) SourceDir() string {
	return filepath.Join(c.Repository.Dir, c.Build.SourceSubdir)
}

// BuildDir is the out-of-tree build directory.
func (c *Config) BuildDir() string {
	if c.Build.Dir != "" {
		return filepath.Clean(c.Build.Dir)
	}
	return filepath.Join(c.SourceDir(), "build")
}

// CommandEnv is the environment attached to every command: the
// non-interactive flag followed by the configured extras.
func (c *Config) CommandEnv() []string {
	env := make([]string, 0, len(c.Env)+1)
	env = append(env, NonInteractiveEnv)
	return append(env, c.Env...)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}
