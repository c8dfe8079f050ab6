package commands

import (
	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/cmd/skiff/handlers"
)

// Storage returns the staged resource storage command group.
func Storage() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage staged fleet resources in blob storage",
	}

	var configPath string
	var assumeYes bool
	del := &cobra.Command{
		Use:   "del",
		Short: "Delete every resource blob staged for the fleet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.StorageDel(cmd.Context(), configPath, assumeYes)
		},
	}
	del.Flags().StringVarP(&configPath, "config", "c", "fleet.yaml", "Path to the fleet configuration file")
	del.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Assume yes for all confirmation prompts")
	cmd.AddCommand(del)

	return cmd
}
