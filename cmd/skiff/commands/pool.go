package commands

import (
	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/cmd/skiff/handlers"
)

// poolFlags binds the flags shared by every pool subcommand.
func poolFlags(cmd *cobra.Command, opts *handlers.PoolOptions) {
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "fleet.yaml", "Path to the fleet configuration file")
	cmd.Flags().StringVar(&opts.ResourcesDir, "resources", "scripts", "Directory holding the node bootstrap scripts")
	cmd.Flags().BoolVarP(&opts.AssumeYes, "yes", "y", false, "Assume yes for all confirmation prompts")
}

// Pool returns the pool lifecycle command group.
func Pool() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage the fleet pool",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create the fleet pool",
		Long: `Create the fleet pool from the configuration file.

Plans the virtual network subnet, generates mount artifacts for declared
shared data volumes, stages bootstrap resources and submits the pool
request. Gluster-on-compute volumes are set up across nodes once the pool
reaches its target size.`,
	}
	var addOpts handlers.PoolOptions
	poolFlags(add, &addOpts)
	add.Flags().BoolVarP(&addOpts.Wait, "wait", "w", false, "Wait for nodes to reach a steady state")
	add.RunE = func(cmd *cobra.Command, _ []string) error {
		return handlers.PoolAdd(cmd.Context(), addOpts)
	}
	cmd.AddCommand(add)

	del := &cobra.Command{
		Use:   "del",
		Short: "Delete the fleet pool",
	}
	var delOpts handlers.PoolOptions
	poolFlags(del, &delOpts)
	del.RunE = func(cmd *cobra.Command, _ []string) error {
		return handlers.PoolDel(cmd.Context(), delOpts)
	}
	cmd.AddCommand(del)

	resize := &cobra.Command{
		Use:   "resize",
		Short: "Resize the fleet pool to the configured node counts",
	}
	var resizeOpts handlers.PoolOptions
	poolFlags(resize, &resizeOpts)
	resize.Flags().BoolVarP(&resizeOpts.Wait, "wait", "w", false, "Wait for the resize to complete")
	resize.RunE = func(cmd *cobra.Command, _ []string) error {
		return handlers.PoolResize(cmd.Context(), resizeOpts)
	}
	cmd.AddCommand(resize)

	listskus := &cobra.Command{
		Use:   "listskus",
		Short: "List node agent skus and their verified images",
	}
	var listskusOpts handlers.PoolOptions
	poolFlags(listskus, &listskusOpts)
	listskus.RunE = func(cmd *cobra.Command, _ []string) error {
		return handlers.PoolListSkus(cmd.Context(), listskusOpts)
	}
	cmd.AddCommand(listskus)

	listnodes := &cobra.Command{
		Use:   "listnodes",
		Short: "List the pool's compute nodes",
	}
	var listnodesOpts handlers.PoolOptions
	poolFlags(listnodes, &listnodesOpts)
	listnodes.RunE = func(cmd *cobra.Command, _ []string) error {
		return handlers.PoolListNodes(cmd.Context(), listnodesOpts)
	}
	cmd.AddCommand(listnodes)

	grls := &cobra.Command{
		Use:   "grls",
		Short: "Show remote login endpoints for every node",
	}
	var grlsOpts handlers.PoolOptions
	poolFlags(grls, &grlsOpts)
	grls.RunE = func(cmd *cobra.Command, _ []string) error {
		return handlers.PoolGrls(cmd.Context(), grlsOpts)
	}
	cmd.AddCommand(grls)

	nodes := &cobra.Command{
		Use:   "nodes",
		Short: "Manage individual pool nodes",
	}
	nodesDel := &cobra.Command{
		Use:   "del <node-id>...",
		Short: "Delete the named nodes from the pool",
		Args:  cobra.MinimumNArgs(1),
	}
	var nodesDelOpts handlers.PoolNodeOptions
	nodesDel.Flags().StringVarP(&nodesDelOpts.ConfigPath, "config", "c", "fleet.yaml", "Path to the fleet configuration file")
	nodesDel.Flags().BoolVarP(&nodesDelOpts.AssumeYes, "yes", "y", false, "Assume yes for all confirmation prompts")
	nodesDel.RunE = func(cmd *cobra.Command, args []string) error {
		nodesDelOpts.NodeIDs = args
		return handlers.PoolNodesDel(cmd.Context(), nodesDelOpts)
	}
	nodes.AddCommand(nodesDel)

	nodesReboot := &cobra.Command{
		Use:   "reboot <node-id>...",
		Short: "Reboot the named pool nodes",
		Args:  cobra.MinimumNArgs(1),
	}
	var nodesRebootOpts handlers.PoolNodeOptions
	nodesReboot.Flags().StringVarP(&nodesRebootOpts.ConfigPath, "config", "c", "fleet.yaml", "Path to the fleet configuration file")
	nodesReboot.RunE = func(cmd *cobra.Command, args []string) error {
		nodesRebootOpts.NodeIDs = args
		return handlers.PoolNodesReboot(cmd.Context(), nodesRebootOpts)
	}
	nodes.AddCommand(nodesReboot)
	cmd.AddCommand(nodes)

	user := &cobra.Command{
		Use:   "useradd",
		Short: "Create the configured admin user on every node",
	}
	var userOpts handlers.PoolOptions
	poolFlags(user, &userOpts)
	user.RunE = func(cmd *cobra.Command, _ []string) error {
		return handlers.PoolUserAdd(cmd.Context(), userOpts)
	}
	cmd.AddCommand(user)

	return cmd
}
