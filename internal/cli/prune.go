package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/docker"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
)

// pruneFlags holds the flag values for the prune command.
type pruneFlags struct {
	dryRun bool // --dry-run: list without removing
}

// NewPruneCommand creates the "prune" cobra command.
func NewPruneCommand(a *app) *cobra.Command {
	flags := &pruneFlags{}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove containers left behind by container-mode runs",
		Long: `Remove every container labelled as created by uhd-provision, such as
those kept with --keep-container or left over by an interrupted run.

Examples:
  uhd-provision prune
  uhd-provision prune --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd.Context(), a, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "List managed containers without removing them")
	return cmd
}

func runPrune(ctx context.Context, a *app, flags *pruneFlags) error {
	logger := ctxlog.FromContext(ctx)

	cli, err := docker.NewClient()
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning, "failed to create Docker client", err)
	}
	defer cli.Close()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	containers, err := docker.ListManagedContainers(ctx, cli)
	if err != nil {
		return err
	}

	if !flags.dryRun {
		for _, c := range containers {
			if err := docker.RemoveContainer(ctx, cli, c.ContainerID, true); err != nil {
				return err
			}
			logger.Debug("container removed", "container", c.ContainerName, "image", c.Image)
		}
	}

	printContainers(a.stdout, containers, !flags.dryRun, jsonOutput)
	if flags.dryRun && len(containers) > 0 && !jsonOutput {
		fmt.Fprintln(a.stdout, "\nRun without --dry-run to remove them.")
	}
	return nil
}
