package cli

import (
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/uhd-provision/internal/provision"
)

// NewPlanCommand creates the "plan" cobra command, which prints the
// commands a run would execute without executing anything.
func NewPlanCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the provisioning steps without running them",
		Long: `Print every step of the provisioning procedure with its exact commands,
the guard that skips it on a re-run, and the precondition it requires.
Nothing is executed.

Examples:
  uhd-provision plan
  uhd-provision plan --jobs 4 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Container.Enabled {
				applyContainerMode(a.cfg)
			}
			printPlan(a.stdout, provision.BuildPlan(a.cfg), jsonOutput)
			return nil
		},
	}

	addPlanFlags(cmd)
	return cmd
}
