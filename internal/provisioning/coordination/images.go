package coordination

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/ssh"
	"github.com/skiffhq/skiff/internal/util/async"
)

const (
	imagesMarker = ".update_images_success"
	imagesTaskID = "update-container-images"
)

// ImageRefreshOptions narrows or forces aspects of an image refresh.
type ImageRefreshOptions struct {
	// Image refreshes a single image instead of every declared one.
	Image string
	// Digest pins Image to a specific digest.
	Digest string
	// ForceSSH runs the refresh over SSH even when a task would do.
	ForceSSH bool
}

// RefreshImages re-pulls container images on every pool node. Fleets with a
// single dedicated node run a plain task checked by exit code; larger fleets
// run a multi-instance task verified through a per-node success marker. SSH
// is used instead when low-priority nodes are present, when internode
// communication is off with more than one node, or when forced.
func (c *Coordinator) RefreshImages(ctx context.Context, cfg *config.Config, opts ImageRefreshOptions) error {
	const operation = "image refresh"

	if cfg.DataReplication != nil && cfg.DataReplication.PeerToPeer.Enabled {
		return coordErr(operation, "cannot refresh images with peer-to-peer distribution enabled")
	}
	if cfg.Fleet.Native {
		return coordErr(operation, "cannot refresh images on native container pools")
	}

	images := cfg.GlobalResources.ContainerImages
	if opts.Image != "" {
		img := opts.Image
		if opts.Digest != "" {
			img = opts.Image + "@" + opts.Digest
		}
		images = []string{img}
	}
	if len(images) == 0 {
		return coordErr(operation, "no container images declared")
	}

	pool, err := c.Fleet.GetPool(ctx, cfg.Fleet.ID)
	if err != nil {
		return coordErr(operation, "fetching pool %s: %v", cfg.Fleet.ID, err)
	}
	if pool.CurrentDedicated == 0 && pool.CurrentLowPriority == 0 {
		c.Observer.Printf("pool %s has no nodes, skipping image refresh", cfg.Fleet.ID)
		return nil
	}

	forceSSH := opts.ForceSSH
	if !forceSSH && pool.CurrentLowPriority > 0 {
		forceSSH = true
	}
	if !forceSSH && pool.CurrentDedicated > 1 && !pool.InterNodeCommunication {
		forceSSH = true
	}

	if v, ok := pool.Metadata[config.MetadataVersionName]; ok && v != c.Version {
		c.Observer.Printf("pool version metadata mismatch: pool=%s cli=%s", v, c.Version)
	}

	windows := cfg.Fleet.IsWindows()
	if windows && forceSSH {
		return coordErr(operation, "cannot refresh images over ssh on windows")
	}

	cmds := make([]string, 0, len(images)+1)
	for _, img := range images {
		cmds = append(cmds, "docker pull "+img)
	}
	if !windows {
		cmds = append(cmds, "docker images --filter dangling=true -q --no-trunc | xargs --no-run-if-empty docker rmi")
	}

	if forceSSH {
		return c.refreshOverSSH(ctx, cfg, cmds)
	}
	return c.refreshViaTask(ctx, cfg, pool, cmds, windows)
}

func (c *Coordinator) refreshViaTask(ctx context.Context, cfg *config.Config, pool *batch.Pool, cmds []string, windows bool) error {
	const operation = "image refresh"

	touch := "touch " + imagesMarker
	if windows {
		touch = "copy /y nul " + imagesMarker
	}
	cmdline := wrapInShell(append(append([]string{}, cmds...), touch), windows)

	r := &run{
		operation: operation,
		jobID:     c.jobID("skiff-updateimages"),
		taskID:    imagesTaskID,
	}
	task := &batch.TaskSpec{
		ID:          r.taskID,
		CommandLine: cmdline,
		Elevated:    true,
	}

	multiInstance := pool.CurrentDedicated > 1
	if multiInstance {
		appcmd := fmt.Sprintf("[[ -f $AZ_BATCH_TASK_WORKING_DIR/%s ]] || exit 1", imagesMarker)
		if windows {
			appcmd = fmt.Sprintf(`if not exist %%AZ_BATCH_TASK_WORKING_DIR%%\%s exit 1`, imagesMarker)
		}
		task.MultiInstance = &batch.MultiInstanceSettings{
			NumberOfInstances:       pool.CurrentDedicated,
			CoordinationCommandLine: cmdline,
		}
		task.CommandLine = wrapInShell([]string{appcmd}, windows)
	}

	return c.execute(ctx, r, cfg.Fleet.ID, task, func(ctx context.Context) *CoordinationError {
		if multiInstance {
			return c.verifyMarker(ctx, r, cfg.Fleet.ID, imagesMarker, windows)
		}
		status, err := c.Fleet.GetTask(ctx, r.jobID, r.taskID)
		if err != nil {
			return coordErr(operation, "fetching task result: %v", err)
		}
		if status.ExitCode == nil || *status.ExitCode != 0 {
			return coordErr(operation, "task %s exited non-zero", r.taskID)
		}
		return nil
	})
}

// refreshOverSSH runs the pull commands on every node over SSH in bounded
// batches. Each batch is fully joined before the next starts; failures are
// collected across all batches and surfaced once at the end.
func (c *Coordinator) refreshOverSSH(ctx context.Context, cfg *config.Config, cmds []string) error {
	const operation = "image refresh over ssh"

	if cfg.Fleet.SSH == nil || cfg.Fleet.SSH.Username == "" {
		return coordErr(operation, "an ssh username is required")
	}
	newComm := c.NewCommunicator
	if newComm == nil {
		key, err := os.ReadFile(cfg.Fleet.SSH.PrivateKeyPath)
		if err != nil {
			return coordErr(operation, "reading ssh private key: %v", err)
		}
		newComm = func(host string, port int) (ssh.Communicator, error) {
			return ssh.NewSSHCommunicator(host, port, cfg.Fleet.SSH.Username, key), nil
		}
	}

	nodes, err := c.Fleet.ListNodes(ctx, cfg.Fleet.ID)
	if err != nil {
		return coordErr(operation, "listing nodes: %v", err)
	}

	var joined string
	for i, cmd := range cmds {
		if i > 0 {
			joined += " && "
		}
		joined += cmd
	}
	command := fmt.Sprintf("sudo /bin/bash -c %q", joined)

	var mu sync.Mutex
	var failed []string
	tasks := make([]async.Task, 0, len(nodes))
	for _, node := range nodes {
		node := node
		tasks = append(tasks, async.Task{
			Name: "refresh images on " + node.ID,
			Func: func(ctx context.Context) error {
				if err := c.refreshNode(ctx, cfg.Fleet.ID, node.ID, newComm, command); err != nil {
					c.Observer.Printf("image refresh failed on node %s: %v", node.ID, err)
					mu.Lock()
					failed = append(failed, node.ID)
					mu.Unlock()
				}
				return nil
			},
		})
	}
	if err := async.RunBatched(ctx, tasks, maxConcurrentSSH); err != nil {
		return coordErr(operation, "%v", err)
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return &CoordinationError{
			Operation:    operation,
			Message:      "refresh command failed",
			MissingNodes: failed,
		}
	}
	return nil
}

func (c *Coordinator) refreshNode(ctx context.Context, poolID, nodeID string, newComm func(string, int) (ssh.Communicator, error), command string) error {
	rls, err := c.Fleet.RemoteLoginSettings(ctx, poolID, nodeID)
	if err != nil {
		return err
	}
	comm, err := newComm(rls.IPAddress, rls.Port)
	if err != nil {
		return err
	}
	_, err = comm.Execute(ctx, command)
	return err
}
