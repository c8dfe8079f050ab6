package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/blob"
	"github.com/skiffhq/skiff/internal/provisioning"
	"github.com/skiffhq/skiff/internal/provisioning/coordination"
	"github.com/skiffhq/skiff/internal/provisioning/mounts"
	"github.com/skiffhq/skiff/internal/provisioning/pool"
	"github.com/skiffhq/skiff/internal/provisioning/subnet"
	"github.com/skiffhq/skiff/internal/util/retry"
)

// PoolOptions carries the flags shared by pool lifecycle commands.
type PoolOptions struct {
	ConfigPath   string
	ResourcesDir string
	AssumeYes    bool
	Wait         bool
}

// nodeWaitConfig paces the wait for nodes to reach a steady state after
// creation or resize.
var nodeWaitConfig = []retry.Option{
	retry.WithMaxRetries(120),
	retry.WithInitialDelay(5 * time.Second),
	retry.WithMaxDelay(15 * time.Second),
	retry.WithMultiplier(1.5),
}

// PoolAdd creates the fleet pool: plans the subnet and mounts, builds and
// submits the pool request, then waits for nodes and runs gluster bootstrap
// and admin user creation when declared.
func PoolAdd(ctx context.Context, opts PoolOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	computeDir, networkDir, err := newDirectory(cfg)
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	pctx := provisioning.NewContext(ctx, cfg, fleet, networkDir, computeDir, store)
	pctx.Confirm = confirmWith(opts.AssumeYes)

	exists, err := fleet.PoolExists(ctx, cfg.Fleet.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("pool %s already exists", cfg.Fleet.ID)
	}

	subnetPlanner := subnet.NewPlanner(networkDir, pctx.Observer)
	subnetPlanner.Confirm = pctx.Confirm
	plan, err := subnetPlanner.Plan(ctx, cfg)
	if err != nil {
		return err
	}
	if plan != nil {
		pctx.State.SubnetID = plan.SubnetID
	}

	mountPlanner := mounts.NewPlanner(computeDir, pctx.Observer)
	artifacts, err := mountPlanner.Plan(ctx, cfg, pctx.State.SubnetID)
	if err != nil {
		return err
	}
	pctx.State.FstabMounts = artifacts.FstabMounts
	pctx.State.VolumeArgs = artifacts.ClusterArgs

	builder := &pool.Builder{
		Fleet:        fleet,
		Storage:      store,
		Observer:     pctx.Observer,
		Confirm:      pctx.Confirm,
		Version:      toolVersion,
		ResourcesDir: opts.ResourcesDir,
		CacheDir:     driverCacheDir(),
	}
	req, err := builder.Build(ctx, cfg, pctx.State.SubnetID, artifacts)
	if err != nil {
		return err
	}
	pctx.State.NodeAgentID = req.NodeAgentID

	if err := fleet.CreatePool(ctx, req); err != nil {
		return err
	}
	pctx.State.PoolCreated = true
	logrus.Infof("pool %s created", cfg.Fleet.ID)

	glusterDeclared := len(cfg.Fleet.VolumesOfKind(config.VolumeGlusterOnCompute)) > 0
	if !opts.Wait && !glusterDeclared {
		return nil
	}

	nodes, err := waitForNodes(ctx, fleet, cfg.Fleet.ID, cfg.Fleet.VMCount.Total())
	if err != nil {
		return err
	}
	addAdminUser(ctx, fleet, cfg, nodes)

	if glusterDeclared {
		coordinator := newCoordinator(fleet, store, pctx.Observer, opts.ResourcesDir)
		if err := coordinator.BootstrapGluster(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// PoolDel deletes the fleet pool after confirmation.
func PoolDel(ctx context.Context, opts PoolOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	if !confirmWith(opts.AssumeYes)(fmt.Sprintf("delete pool %s", cfg.Fleet.ID)) {
		return fmt.Errorf("pool deletion declined")
	}
	if err := fleet.DeletePool(ctx, cfg.Fleet.ID); err != nil {
		return err
	}
	logrus.Infof("pool %s deleted", cfg.Fleet.ID)
	return nil
}

// PoolResize resizes the pool to the configured node counts. Gluster fleets
// force a wait, forbid low-priority growth, and expand the volume onto new
// nodes afterwards.
func PoolResize(ctx context.Context, opts PoolOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}
	observer := provisioning.NewLogrusObserver(logrus.StandardLogger())

	current, err := fleet.GetPool(ctx, cfg.Fleet.ID)
	if err != nil {
		return err
	}
	want := cfg.Fleet.VMCount
	if want.Dedicated == current.CurrentDedicated && want.Dedicated == current.TargetDedicated &&
		want.LowPriority == current.CurrentLowPriority && want.LowPriority == current.TargetLowPriority {
		return fmt.Errorf("pool %s is already at %d dedicated, %d low priority nodes",
			cfg.Fleet.ID, want.Dedicated, want.LowPriority)
	}
	resizeUpDedicated := want.Dedicated > current.CurrentDedicated
	resizeUpLowPriority := want.LowPriority > current.CurrentLowPriority

	wait := opts.Wait
	glusterDeclared := len(cfg.Fleet.VolumesOfKind(config.VolumeGlusterOnCompute)) > 0
	if glusterDeclared {
		if resizeUpLowPriority {
			return fmt.Errorf("cannot grow low priority nodes on a gluster on compute fleet")
		}
		wait = true
	}

	// Pre-resize nodes are recorded so new nodes can be told apart for
	// user creation and gluster expansion.
	oldNodes := map[string]string{}
	if wait {
		nodes, err := fleet.ListNodes(ctx, cfg.Fleet.ID)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			oldNodes[n.ID] = n.IPAddress
		}
	}

	if err := fleet.ResizePool(ctx, cfg.Fleet.ID, want.Dedicated, want.LowPriority, cfg.Fleet.ResizeTimeout.D()); err != nil {
		return err
	}
	logrus.Infof("pool %s resizing to %d dedicated, %d low priority nodes",
		cfg.Fleet.ID, want.Dedicated, want.LowPriority)
	if !wait {
		return nil
	}

	nodes, err := waitForNodes(ctx, fleet, cfg.Fleet.ID, want.Total())
	if err != nil {
		return err
	}

	if resizeUpDedicated || resizeUpLowPriority {
		var newNodes []batch.Node
		for _, n := range nodes {
			if _, ok := oldNodes[n.ID]; !ok {
				newNodes = append(newNodes, n)
			}
		}
		addAdminUser(ctx, fleet, cfg, newNodes)
	}

	if glusterDeclared && resizeUpDedicated {
		coordinator := newCoordinator(fleet, store, observer, opts.ResourcesDir)
		return coordinator.ExpandGluster(ctx, cfg, oldNodes, nodes)
	}
	return nil
}

// PoolListSkus prints every node agent sku and its verified images.
func PoolListSkus(ctx context.Context, opts PoolOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	agents, err := fleet.ListNodeAgents(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		fmt.Println(agent.ID)
		for _, img := range agent.VerifiedImages {
			fmt.Printf("  %s %s %s\n", img.Publisher, img.Offer, img.Sku)
		}
	}
	return nil
}

// PoolListNodes prints the pool's nodes with state and private IP.
func PoolListNodes(ctx context.Context, opts PoolOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	nodes, err := fleet.ListNodes(ctx, cfg.Fleet.ID)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		fmt.Printf("%s\t%s\t%s\n", node.ID, node.State, node.IPAddress)
	}
	return nil
}

// PoolGrls prints the remote login endpoint for every node.
func PoolGrls(ctx context.Context, opts PoolOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	nodes, err := fleet.ListNodes(ctx, cfg.Fleet.ID)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		rls, err := fleet.RemoteLoginSettings(ctx, cfg.Fleet.ID, node.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s:%d\n", node.ID, rls.IPAddress, rls.Port)
	}
	return nil
}

// PoolNodeOptions carries the flags for commands targeting named nodes.
type PoolNodeOptions struct {
	ConfigPath string
	AssumeYes  bool
	NodeIDs    []string
}

// PoolNodesDel removes the named nodes from the pool after confirmation.
func PoolNodesDel(ctx context.Context, opts PoolNodeOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	if len(opts.NodeIDs) == 0 {
		return fmt.Errorf("no node ids given")
	}
	prompt := fmt.Sprintf("delete %d nodes from pool %s", len(opts.NodeIDs), cfg.Fleet.ID)
	if !confirmWith(opts.AssumeYes)(prompt) {
		return fmt.Errorf("node deletion declined")
	}
	if err := fleet.DeleteNodes(ctx, cfg.Fleet.ID, opts.NodeIDs); err != nil {
		return err
	}
	logrus.Infof("deleting %d nodes from pool %s", len(opts.NodeIDs), cfg.Fleet.ID)
	return nil
}

// PoolNodesReboot restarts the named nodes.
func PoolNodesReboot(ctx context.Context, opts PoolNodeOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	if len(opts.NodeIDs) == 0 {
		return fmt.Errorf("no node ids given")
	}
	for _, nodeID := range opts.NodeIDs {
		if err := fleet.RebootNode(ctx, cfg.Fleet.ID, nodeID); err != nil {
			return err
		}
		logrus.Infof("rebooting node %s in pool %s", nodeID, cfg.Fleet.ID)
	}
	return nil
}

// PoolUserAdd creates the configured admin user on every node.
func PoolUserAdd(ctx context.Context, opts PoolOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	nodes, err := fleet.ListNodes(ctx, cfg.Fleet.ID)
	if err != nil {
		return err
	}
	return createAdminUser(ctx, fleet, cfg, nodes)
}

// waitForNodes polls until the pool reaches the target node count with all
// nodes in a steady state.
func waitForNodes(ctx context.Context, fleet batch.FleetService, poolID string, target int32) ([]batch.Node, error) {
	var steady []batch.Node
	err := retry.WithExponentialBackoff(ctx, func() error {
		nodes, err := fleet.ListNodes(ctx, poolID)
		if err != nil {
			return retry.Fatal(err)
		}
		if int32(len(nodes)) < target {
			return fmt.Errorf("pool %s has %d of %d nodes", poolID, len(nodes), target)
		}
		for _, node := range nodes {
			switch node.State {
			case "idle", "running":
			case "unusable", "starttaskfailed":
				return retry.Fatal(fmt.Errorf("node %s is %s", node.ID, node.State))
			default:
				return fmt.Errorf("node %s is %s", node.ID, node.State)
			}
		}
		steady = nodes
		return nil
	}, nodeWaitConfig...)
	if err != nil {
		return nil, fmt.Errorf("waiting for pool %s nodes: %w", poolID, err)
	}
	return steady, nil
}

// addAdminUser creates the admin user on the given nodes, logging failures
// without aborting the surrounding operation.
func addAdminUser(ctx context.Context, fleet batch.FleetService, cfg *config.Config, nodes []batch.Node) {
	if err := createAdminUser(ctx, fleet, cfg, nodes); err != nil {
		logrus.Warnf("failed to add admin user: %v", err)
	}
}

func createAdminUser(ctx context.Context, fleet batch.FleetService, cfg *config.Config, nodes []batch.Node) error {
	var user batch.NodeUser
	switch {
	case cfg.Fleet.IsWindows() && cfg.Fleet.RDP != nil:
		user = batch.NodeUser{
			Name:     cfg.Fleet.RDP.Username,
			Password: cfg.Fleet.RDP.Password,
			IsAdmin:  true,
		}
		if cfg.Fleet.RDP.ExpiryDays > 0 {
			user.ExpiryTime = time.Now().AddDate(0, 0, cfg.Fleet.RDP.ExpiryDays)
		}
	case !cfg.Fleet.IsWindows() && cfg.Fleet.SSH != nil && cfg.Fleet.SSH.Username != "":
		key, err := os.ReadFile(cfg.Fleet.SSH.PublicKeyPath)
		if err != nil {
			return fmt.Errorf("reading ssh public key: %w", err)
		}
		user = batch.NodeUser{
			Name:         cfg.Fleet.SSH.Username,
			SSHPublicKey: string(key),
			IsAdmin:      true,
		}
		if cfg.Fleet.SSH.ExpiryDays > 0 {
			user.ExpiryTime = time.Now().AddDate(0, 0, cfg.Fleet.SSH.ExpiryDays)
		}
	default:
		return nil
	}
	for _, node := range nodes {
		if err := fleet.AddNodeUser(ctx, cfg.Fleet.ID, node.ID, user); err != nil {
			return fmt.Errorf("adding user on node %s: %w", node.ID, err)
		}
	}
	return nil
}

func newCoordinator(fleet batch.FleetService, store blob.Store, observer provisioning.Observer, resourcesDir string) *coordination.Coordinator {
	return &coordination.Coordinator{
		Fleet:        fleet,
		Storage:      store,
		Observer:     observer,
		Version:      toolVersion,
		ResourcesDir: resourcesDir,
	}
}

func driverCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "skiff", "drivers")
}
