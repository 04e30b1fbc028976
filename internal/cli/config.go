package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/uhd-provision/internal/model"
)

// NewConfigCommand creates the "config" cobra command, which prints the
// effective configuration after files, environment and flags are merged.
func NewConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration a run would use, after merging defaults, the
configuration file, UHD_PROVISION_* environment variables and flags.
The output is YAML and can be saved as uhd-provision.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				writeJSON(a.stdout, a.cfg)
				return nil
			}
			data, err := a.cfg.YAML()
			if err != nil {
				return model.WrapCLIError(model.ExitConfigError, "failed to render configuration", err)
			}
			fmt.Fprint(a.stdout, string(data))
			return nil
		},
	}
	return cmd
}
