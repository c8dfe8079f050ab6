package coordination

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/batch"
)

// Node-side gluster coordination scripts and run constants.
const (
	glusterSetupScript  = "skiff_glusterfs_on_compute.sh"
	glusterResizeScript = "skiff_glusterfs_on_compute_resize.sh"
	glusterMarker       = ".glusterfs_success"
	glusterTaskID       = "gluster-setup"

	// glusterVolumeName is the fixed name of the on-compute volume the
	// setup script creates.
	glusterVolumeName = "gv0"

	glusterSASLifetime = 24 * time.Hour
)

// BootstrapGluster creates the gluster-on-compute volume across the pool's
// dedicated nodes through a multi-instance coordination task. The
// coordination phase runs the setup script on every node; the application
// phase checks the success marker and applies declared volume options.
func (c *Coordinator) BootstrapGluster(ctx context.Context, cfg *config.Config) error {
	vol, err := glusterVolume(cfg)
	if err != nil {
		return err
	}
	cmdline := wrapInShell([]string{fmt.Sprintf(
		"$AZ_BATCH_TASK_DIR/%s %s %s",
		glusterSetupScript, volumeType(vol), config.TempDiskMountPoint)}, false)
	return c.runGluster(ctx, cfg, vol, glusterSetupScript, cmdline)
}

// ExpandGluster adds bricks for nodes joining an existing gluster-on-compute
// volume after a resize up. oldNodes maps the pre-resize node ids to their
// private IPs; every listed node not in it is treated as new.
func (c *Coordinator) ExpandGluster(ctx context.Context, cfg *config.Config, oldNodes map[string]string, nodes []batch.Node) error {
	vol, err := glusterVolume(cfg)
	if err != nil {
		return err
	}
	if len(oldNodes) == 0 {
		return coordErr("gluster expand", "no pre-resize nodes recorded")
	}

	var newIPs []string
	for _, node := range nodes {
		if _, ok := oldNodes[node.ID]; !ok {
			newIPs = append(newIPs, node.IPAddress)
		}
	}
	if len(newIPs) == 0 {
		return coordErr("gluster expand", "no new nodes to add bricks for")
	}

	// Any surviving node can serve as the probe master; pick the first by
	// id so reruns target the same one.
	oldIDs := make([]string, 0, len(oldNodes))
	for id := range oldNodes {
		oldIDs = append(oldIDs, id)
	}
	sort.Strings(oldIDs)
	masterIP := oldNodes[oldIDs[0]]

	cmdline := wrapInShell([]string{fmt.Sprintf(
		"$AZ_BATCH_TASK_DIR/%s %s %s %d %s %s",
		glusterResizeScript, volumeType(vol), config.TempDiskMountPoint,
		cfg.Fleet.VMCount.Dedicated, masterIP, strings.Join(newIPs, " "))}, false)
	return c.runGluster(ctx, cfg, vol, glusterResizeScript, cmdline)
}

// runGluster stages the coordination script, submits the multi-instance run
// and verifies the success marker on every node.
func (c *Coordinator) runGluster(ctx context.Context, cfg *config.Config, vol config.VolumeSpec, script, cmdline string) error {
	const operation = "gluster setup"

	pool, err := c.Fleet.GetPool(ctx, cfg.Fleet.ID)
	if err != nil {
		return coordErr(operation, "fetching pool %s: %v", cfg.Fleet.ID, err)
	}
	if pool.CurrentDedicated < 2 {
		return coordErr(operation, "pool %s has %d dedicated nodes, need at least 2", cfg.Fleet.ID, pool.CurrentDedicated)
	}

	scriptRF, err := c.stageScript(cfg, script)
	if err != nil {
		return coordErr(operation, "staging %s: %v", script, err)
	}

	appcmds := []string{fmt.Sprintf("[[ -f $AZ_BATCH_TASK_WORKING_DIR/%s ]] || exit 1", glusterMarker)}
	for _, opt := range vol.VolumeOptions {
		appcmds = append(appcmds, fmt.Sprintf("gluster volume set %s %s", glusterVolumeName, opt))
	}

	r := &run{
		operation: operation,
		jobID:     c.jobID("skiff-gluster"),
		taskID:    glusterTaskID,
	}
	task := &batch.TaskSpec{
		ID:          r.taskID,
		CommandLine: wrapInShell(appcmds, false),
		Elevated:    true,
		MultiInstance: &batch.MultiInstanceSettings{
			NumberOfInstances:       pool.CurrentDedicated,
			CoordinationCommandLine: cmdline,
			CommonResourceFiles:     []batch.ResourceFile{scriptRF},
		},
	}
	return c.execute(ctx, r, cfg.Fleet.ID, task, func(ctx context.Context) *CoordinationError {
		return c.verifyMarker(ctx, r, cfg.Fleet.ID, glusterMarker, false)
	})
}

// glusterVolume finds the declared gluster-on-compute volume. At most one
// may be declared per fleet.
func glusterVolume(cfg *config.Config) (config.VolumeSpec, error) {
	vols := cfg.Fleet.VolumesOfKind(config.VolumeGlusterOnCompute)
	if len(vols) == 0 {
		return config.VolumeSpec{}, coordErr("gluster setup", "no gluster on compute volume declared")
	}
	return vols[0], nil
}

// volumeType returns the gluster volume layout. Validation only admits
// replicated volumes; an empty value means replica.
func volumeType(vol config.VolumeSpec) string {
	if vol.VolumeType == "" {
		return "replica"
	}
	return strings.ToLower(vol.VolumeType)
}

// stageScript uploads a coordination script and returns its resource file
// reference.
func (c *Coordinator) stageScript(cfg *config.Config, name string) (batch.ResourceFile, error) {
	f, err := os.Open(filepath.Join(c.ResourcesDir, name))
	if err != nil {
		return batch.ResourceFile{}, err
	}
	defer f.Close()

	blobName := path.Join(cfg.Storage.EntityPrefix, cfg.Fleet.ID, name)
	if err := c.Storage.EnsureContainer(cfg.Storage.Container); err != nil {
		return batch.ResourceFile{}, err
	}
	if err := c.Storage.Upload(cfg.Storage.Container, blobName, f); err != nil {
		return batch.ResourceFile{}, err
	}
	url, err := c.Storage.SignedURL(cfg.Storage.Container, blobName, glusterSASLifetime)
	if err != nil {
		return batch.ResourceFile{}, err
	}
	return batch.ResourceFile{FilePath: name, URL: url, FileMode: "0755"}, nil
}
