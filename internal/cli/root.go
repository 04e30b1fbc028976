// Package cli implements the cobra-based CLI commands for uhd-provision.
//
// Each subcommand (run, plan, verify, config, prune) is defined in its own
// file within this package. This file defines the root command, which runs
// the full provisioning procedure when invoked without a subcommand, and
// handles global flags, configuration loading and logger setup.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mmr-tortoise/uhd-provision/internal/config"
	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches command output (and errors) to JSON.
	jsonOutput bool

	// verbose selects debug-level logging.
	verbose bool

	// configPath is an explicit configuration file. Empty searches the
	// default locations.
	configPath string
)

// Version, Commit and Date are set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// app carries state resolved once per invocation and shared by commands.
type app struct {
	v   *viper.Viper
	cfg *config.Config

	// stdout receives command results. stderr receives progress and the
	// output of the provisioning tools.
	stdout io.Writer
	stderr io.Writer

	// openRunner provides the runner a run executes through.
	openRunner func(ctx context.Context, cfg *config.Config, runID string, stdout, stderr io.Writer) (runner.Runner, error)
}

// flagBindings maps command-line flags to configuration keys. A flag only
// overrides the configuration when it is set explicitly.
var flagBindings = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"jobs":           "build.jobs",
	"keep-container": "container.keep",
	"metrics-file":   "metrics_file",
}

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{v: config.New(), openRunner: openRunner})
}

func newRootCommand(a *app) *cobra.Command {
	rf := &runFlags{}

	rootCmd := &cobra.Command{
		Use:   "uhd-provision",
		Short: "Provision a Debian host with the USRP Hardware Driver built from source",
		Long: `uhd-provision installs the build dependencies of the USRP Hardware Driver
(UHD), clones its source, builds it out of tree with one make job per CPU
core, and installs it system-wide so other software can find it.

Run without a subcommand to execute the whole procedure with the effective
configuration. Every command runs with DEBIAN_FRONTEND=noninteractive.`,
		Args: cobra.NoArgs,

		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), a, rf)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (YAML, JSON or JSONC)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text, json")

	addRunFlags(rootCmd, rf)

	rootCmd.AddCommand(NewRunCommand(a))
	rootCmd.AddCommand(NewPlanCommand(a))
	rootCmd.AddCommand(NewVerifyCommand(a))
	rootCmd.AddCommand(NewConfigCommand(a))
	rootCmd.AddCommand(NewPruneCommand(a))

	return rootCmd
}

// setup binds flags into the configuration, loads it, and installs the
// logger in the command context.
func (a *app) setup(cmd *cobra.Command) error {
	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagBindings[f.Name]; ok {
			_ = a.v.BindPFlag(key, f)
		}
	})
	if f := cmd.Flags().Lookup("keep-going"); f != nil && f.Changed && f.Value.String() == "true" {
		a.v.Set("failure_policy", string(model.PolicyContinue))
	}
	if f := cmd.Flags().Lookup("container"); f != nil && f.Changed {
		a.v.Set("container.enabled", true)
		if f.Value.String() != "" {
			a.v.Set("container.image", f.Value.String())
		}
	}

	cfg, err := config.Load(a.v, configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger := ctxlog.New(level, cfg.Log.Format, a.stderr)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(ctxlog.WithLogger(ctx, logger))

	logger.Debug("configuration loaded", "file", a.v.ConfigFileUsed())
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, rootCmd *cobra.Command) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return int(model.ExitSuccess)
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(os.Stderr, cliErr.Message, cliErr.Err)
		return int(cliErr.Code)
	}

	printError(os.Stderr, err.Error(), nil)
	return int(model.ExitGeneralError)
}

// printError writes an error in text or JSON form, depending on --json.
// Errors go to stderr even in JSON mode; stdout is reserved for results.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{"message": message}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}
