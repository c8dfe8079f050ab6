package commands

import (
	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/cmd/skiff/handlers"
)

// Images returns the container image command group.
func Images() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage container images on pool nodes",
	}

	var opts handlers.ImagesUpdateOptions
	update := &cobra.Command{
		Use:   "update",
		Short: "Re-pull container images on every pool node",
		Long: `Re-pull container images on every pool node.

By default every image declared under global resources is refreshed through
a coordination task. SSH is used instead when the pool has low-priority
nodes, when internode communication is off with more than one node, or when
forced with --ssh.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ImagesUpdate(cmd.Context(), opts)
		},
	}
	update.Flags().StringVarP(&opts.ConfigPath, "config", "c", "fleet.yaml", "Path to the fleet configuration file")
	update.Flags().StringVar(&opts.ResourcesDir, "resources", "scripts", "Directory holding the node bootstrap scripts")
	update.Flags().StringVar(&opts.Image, "image", "", "Refresh a single image instead of every declared one")
	update.Flags().StringVar(&opts.Digest, "digest", "", "Pin --image to a specific digest")
	update.Flags().BoolVar(&opts.ForceSSH, "ssh", false, "Force the refresh to run over SSH")
	cmd.AddCommand(update)

	return cmd
}
