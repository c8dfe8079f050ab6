package commands

import (
	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/cmd/skiff/handlers"
)

// Keyvault returns the secret store command group.
func Keyvault() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyvault",
		Short: "Manage fleet configuration secrets in the key vault",
	}

	var configPath string
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fleet.yaml", "Path to the fleet configuration file")

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Store the fleet configuration as a vault secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.KeyvaultAdd(cmd.Context(), configPath, args[0])
		},
	}
	cmd.AddCommand(add)

	del := &cobra.Command{
		Use:   "del <name>",
		Short: "Delete a vault secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.KeyvaultDel(cmd.Context(), configPath, args[0])
		},
	}
	cmd.AddCommand(del)

	list := &cobra.Command{
		Use:   "list",
		Short: "List vault secret names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.KeyvaultList(cmd.Context(), configPath)
		},
	}
	cmd.AddCommand(list)

	return cmd
}
