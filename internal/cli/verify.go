package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/uhd-provision/internal/runner"
)

// NewVerifyCommand creates the "verify" cobra command.
func NewVerifyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the installed UHD is discoverable via pkg-config",
		Long: `Query pkg-config for the installed UHD module and check its version
against the configured constraint. Exits with status 6 when the module is
missing or too old.

Examples:
  uhd-provision verify
  UHD_PROVISION_PROBE_CONSTRAINT=">= 4.0.0" uhd-provision verify --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), a)
		},
	}
	return cmd
}

func runVerify(ctx context.Context, a *app) error {
	r := runner.NewHost(a.stderr, a.stderr)
	res, err := newProber(a.cfg, r).Probe(ctx)
	if err != nil {
		return err
	}
	printProbe(a.stdout, res, jsonOutput)
	return nil
}
