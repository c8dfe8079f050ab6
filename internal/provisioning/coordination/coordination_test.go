package coordination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/blob"
	"github.com/skiffhq/skiff/internal/platform/ssh"
	"github.com/skiffhq/skiff/internal/provisioning"
)

func testConfig() *config.Config {
	return &config.Config{
		Fleet: config.FleetSpec{
			ID:     "testfleet",
			VMSize: "STANDARD_D2_V2",
			VMCount: config.NodeCounts{
				Dedicated: 3,
			},
			PlatformImage: &config.PlatformImage{
				Publisher: "canonical",
				Offer:     "ubuntuserver",
				Sku:       "16.04-lts",
			},
			InterNodeCommunication: true,
			SharedDataVolumes: []config.VolumeSpec{
				{
					Name:          "gluster",
					Kind:          config.VolumeGlusterOnCompute,
					VolumeType:    "replica",
					VolumeOptions: []string{"performance.cache-size 1 GB"},
				},
			},
		},
		GlobalResources: config.GlobalResources{
			ContainerImages: []string{"alpine:3.19", "busybox:latest"},
		},
		Storage: config.StorageSettings{
			AccountLink:  "mysa",
			Container:    "skiff",
			EntityPrefix: "skiff",
		},
	}
}

func testNodes(n int) []batch.Node {
	nodes := make([]batch.Node, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, batch.Node{
			ID:        fmt.Sprintf("tvm-%d", i),
			State:     "idle",
			IPAddress: fmt.Sprintf("10.0.0.%d", i+4),
		})
	}
	return nodes
}

func testCoordinator(t *testing.T, fleet batch.FleetService) *Coordinator {
	t.Helper()
	resources := t.TempDir()
	for _, name := range []string{glusterSetupScript, glusterResizeScript} {
		require.NoError(t, os.WriteFile(filepath.Join(resources, name), []byte("#!/bin/sh\n"), 0o755))
	}
	return &Coordinator{
		Fleet:        fleet,
		Storage:      &blob.MockStore{},
		Observer:     provisioning.NewLogrusObserver(logrus.StandardLogger()),
		Poll:         PollConfig{Interval: time.Millisecond},
		Version:      "1.0.0",
		ResourcesDir: resources,
		NewJobID:     func(prefix string) string { return prefix + "-test" },
	}
}

// glusterFleet is a MockClient preconfigured for a successful gluster run.
func glusterFleet(dedicated int32) *batch.MockClient {
	return &batch.MockClient{
		GetPoolFunc: func(ctx context.Context, poolID string) (*batch.Pool, error) {
			return &batch.Pool{ID: poolID, CurrentDedicated: dedicated, InterNodeCommunication: true}, nil
		},
		ListNodesFunc: func(ctx context.Context, poolID string) ([]batch.Node, error) {
			return testNodes(int(dedicated)), nil
		},
		GetTaskFunc: func(ctx context.Context, jobID, taskID string) (*batch.TaskStatus, error) {
			exit := int32(0)
			return &batch.TaskStatus{State: batch.TaskStateCompleted, ExitCode: &exit}, nil
		},
		NodeFileExistsFunc: func(ctx context.Context, poolID, nodeID, path string) (bool, error) {
			return true, nil
		},
	}
}

func TestMarkerPath(t *testing.T) {
	assert.Equal(t,
		"workitems/skiff-gluster-test/job-1/gluster-setup/wd/.glusterfs_success",
		markerPath("skiff-gluster-test", "gluster-setup", glusterMarker, false))
	assert.Equal(t,
		`workitems\skiff-updateimages-test\job-1\update-container-images\wd\.update_images_success`,
		markerPath("skiff-updateimages-test", "update-container-images", imagesMarker, true))
}

func TestBootstrapGluster(t *testing.T) {
	fleet := glusterFleet(3)
	var addedJob *batch.JobSpec
	var addedTask *batch.TaskSpec
	var deletedJob string
	fleet.AddJobFunc = func(ctx context.Context, job *batch.JobSpec) error {
		addedJob = job
		return nil
	}
	fleet.AddTaskFunc = func(ctx context.Context, jobID string, task *batch.TaskSpec) error {
		addedTask = task
		return nil
	}
	fleet.DeleteJobFunc = func(ctx context.Context, jobID string) error {
		deletedJob = jobID
		return nil
	}

	err := testCoordinator(t, fleet).BootstrapGluster(context.Background(), testConfig())
	require.NoError(t, err)

	require.NotNil(t, addedJob)
	assert.Equal(t, "skiff-gluster-test", addedJob.ID)
	assert.Equal(t, "testfleet", addedJob.PoolID)
	assert.Equal(t, addedJob.ID, deletedJob)

	require.NotNil(t, addedTask)
	require.NotNil(t, addedTask.MultiInstance)
	assert.Equal(t, int32(3), addedTask.MultiInstance.NumberOfInstances)
	assert.Contains(t, addedTask.MultiInstance.CoordinationCommandLine,
		"$AZ_BATCH_TASK_DIR/"+glusterSetupScript+" replica /mnt/resource")
	assert.Contains(t, addedTask.CommandLine, glusterMarker)
	assert.Contains(t, addedTask.CommandLine, "gluster volume set gv0 performance.cache-size 1 GB")
	require.Len(t, addedTask.MultiInstance.CommonResourceFiles, 1)
	assert.Equal(t, glusterSetupScript, addedTask.MultiInstance.CommonResourceFiles[0].FilePath)
}

func TestBootstrapGlusterDefaultsToReplica(t *testing.T) {
	fleet := glusterFleet(3)
	var addedTask *batch.TaskSpec
	fleet.AddTaskFunc = func(ctx context.Context, jobID string, task *batch.TaskSpec) error {
		addedTask = task
		return nil
	}

	cfg := testConfig()
	cfg.Fleet.SharedDataVolumes[0].VolumeType = ""
	err := testCoordinator(t, fleet).BootstrapGluster(context.Background(), cfg)
	require.NoError(t, err)

	require.NotNil(t, addedTask)
	require.NotNil(t, addedTask.MultiInstance)
	assert.Contains(t, addedTask.MultiInstance.CoordinationCommandLine,
		"$AZ_BATCH_TASK_DIR/"+glusterSetupScript+" replica /mnt/resource")
}

func TestBootstrapGlusterReportsAllMissingNodes(t *testing.T) {
	fleet := glusterFleet(3)
	fleet.NodeFileExistsFunc = func(ctx context.Context, poolID, nodeID, path string) (bool, error) {
		return nodeID == "tvm-0", nil
	}
	var deleted bool
	fleet.DeleteJobFunc = func(ctx context.Context, jobID string) error {
		deleted = true
		return nil
	}

	err := testCoordinator(t, fleet).BootstrapGluster(context.Background(), testConfig())
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Equal(t, []string{"tvm-1", "tvm-2"}, coordFailure.MissingNodes)
	assert.True(t, deleted, "job must be deleted even when verification fails")
}

func TestBootstrapGlusterRequiresVolume(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.SharedDataVolumes = nil

	err := testCoordinator(t, glusterFleet(3)).BootstrapGluster(context.Background(), cfg)
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "no gluster on compute volume")
}

func TestBootstrapGlusterRequiresTwoNodes(t *testing.T) {
	err := testCoordinator(t, glusterFleet(1)).BootstrapGluster(context.Background(), testConfig())
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "need at least 2")
}

func TestExpandGluster(t *testing.T) {
	fleet := glusterFleet(3)
	var addedTask *batch.TaskSpec
	fleet.AddTaskFunc = func(ctx context.Context, jobID string, task *batch.TaskSpec) error {
		addedTask = task
		return nil
	}

	oldNodes := map[string]string{"tvm-0": "10.0.0.4", "tvm-1": "10.0.0.5"}
	err := testCoordinator(t, fleet).ExpandGluster(context.Background(), testConfig(), oldNodes, testNodes(3))
	require.NoError(t, err)

	require.NotNil(t, addedTask)
	cmdline := addedTask.MultiInstance.CoordinationCommandLine
	assert.Contains(t, cmdline, glusterResizeScript+" replica /mnt/resource 3 10.0.0.4 10.0.0.6")
}

func TestExpandGlusterNoNewNodes(t *testing.T) {
	oldNodes := map[string]string{"tvm-0": "10.0.0.4", "tvm-1": "10.0.0.5", "tvm-2": "10.0.0.6"}
	err := testCoordinator(t, glusterFleet(3)).ExpandGluster(context.Background(), testConfig(), oldNodes, testNodes(3))
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "no new nodes")
}

func TestWaitForTaskDeadline(t *testing.T) {
	fleet := glusterFleet(3)
	fleet.GetTaskFunc = func(ctx context.Context, jobID, taskID string) (*batch.TaskStatus, error) {
		return &batch.TaskStatus{State: batch.TaskStateRunning}, nil
	}
	var deleted bool
	fleet.DeleteJobFunc = func(ctx context.Context, jobID string) error {
		deleted = true
		return nil
	}

	c := testCoordinator(t, fleet)
	c.Poll = PollConfig{Interval: time.Millisecond, Deadline: 20 * time.Millisecond}
	err := c.BootstrapGluster(context.Background(), testConfig())
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "did not complete")
	assert.True(t, deleted, "job must be deleted after a poll deadline")
}

func TestRefreshImagesSingleNodeTask(t *testing.T) {
	fleet := glusterFleet(1)
	var addedTask *batch.TaskSpec
	fleet.AddTaskFunc = func(ctx context.Context, jobID string, task *batch.TaskSpec) error {
		addedTask = task
		return nil
	}

	err := testCoordinator(t, fleet).RefreshImages(context.Background(), testConfig(), ImageRefreshOptions{})
	require.NoError(t, err)

	require.NotNil(t, addedTask)
	assert.Nil(t, addedTask.MultiInstance)
	assert.Contains(t, addedTask.CommandLine, "docker pull alpine:3.19")
	assert.Contains(t, addedTask.CommandLine, "docker pull busybox:latest")
	assert.Contains(t, addedTask.CommandLine, "touch "+imagesMarker)
}

func TestRefreshImagesMultiInstance(t *testing.T) {
	fleet := glusterFleet(3)
	var addedTask *batch.TaskSpec
	fleet.AddTaskFunc = func(ctx context.Context, jobID string, task *batch.TaskSpec) error {
		addedTask = task
		return nil
	}

	err := testCoordinator(t, fleet).RefreshImages(context.Background(), testConfig(), ImageRefreshOptions{})
	require.NoError(t, err)

	require.NotNil(t, addedTask)
	require.NotNil(t, addedTask.MultiInstance)
	assert.Equal(t, int32(3), addedTask.MultiInstance.NumberOfInstances)
	assert.Contains(t, addedTask.MultiInstance.CoordinationCommandLine, "docker pull alpine:3.19")
	assert.Contains(t, addedTask.CommandLine, imagesMarker)
}

func TestRefreshImagesSingleImageDigest(t *testing.T) {
	fleet := glusterFleet(1)
	var addedTask *batch.TaskSpec
	fleet.AddTaskFunc = func(ctx context.Context, jobID string, task *batch.TaskSpec) error {
		addedTask = task
		return nil
	}

	err := testCoordinator(t, fleet).RefreshImages(context.Background(), testConfig(), ImageRefreshOptions{
		Image:  "alpine",
		Digest: "sha256:abc",
	})
	require.NoError(t, err)
	assert.Contains(t, addedTask.CommandLine, "docker pull alpine@sha256:abc")
	assert.NotContains(t, addedTask.CommandLine, "busybox")
}

func TestRefreshImagesRejectsPeerToPeer(t *testing.T) {
	cfg := testConfig()
	cfg.DataReplication = &config.DataReplication{
		PeerToPeer: config.PeerToPeer{Enabled: true},
	}

	err := testCoordinator(t, glusterFleet(3)).RefreshImages(context.Background(), cfg, ImageRefreshOptions{})
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "peer-to-peer")
}

func TestRefreshImagesRejectsNative(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.Native = true

	err := testCoordinator(t, glusterFleet(3)).RefreshImages(context.Background(), cfg, ImageRefreshOptions{})
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "native")
}

func TestRefreshImagesEmptyPoolSkips(t *testing.T) {
	var taskAdded bool
	fleet := glusterFleet(0)
	fleet.AddTaskFunc = func(ctx context.Context, jobID string, task *batch.TaskSpec) error {
		taskAdded = true
		return nil
	}

	err := testCoordinator(t, fleet).RefreshImages(context.Background(), testConfig(), ImageRefreshOptions{})
	require.NoError(t, err)
	assert.False(t, taskAdded)
}

func TestRefreshImagesWindowsCannotForceSSH(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.PlatformImage = &config.PlatformImage{
		Publisher: "MicrosoftWindowsServer",
		Offer:     "WindowsServer",
		Sku:       "2016-Datacenter-with-Containers",
	}

	err := testCoordinator(t, glusterFleet(3)).RefreshImages(context.Background(), cfg, ImageRefreshOptions{ForceSSH: true})
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "windows")
}

func TestRefreshImagesOverSSH(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.SSH = &config.SSHSpec{Username: "fleetadmin"}

	fleet := glusterFleet(3)
	fleet.GetPoolFunc = func(ctx context.Context, poolID string) (*batch.Pool, error) {
		// Low-priority nodes force the SSH path.
		return &batch.Pool{ID: poolID, CurrentDedicated: 2, CurrentLowPriority: 1, InterNodeCommunication: true}, nil
	}

	var mu sync.Mutex
	var executed []string
	c := testCoordinator(t, fleet)
	c.NewCommunicator = func(host string, port int) (ssh.Communicator, error) {
		return &ssh.MockCommunicator{
			ExecuteFunc: func(ctx context.Context, command string) (string, error) {
				mu.Lock()
				executed = append(executed, command)
				mu.Unlock()
				return "", nil
			},
		}, nil
	}

	err := c.RefreshImages(context.Background(), cfg, ImageRefreshOptions{})
	require.NoError(t, err)
	require.Len(t, executed, 3)
	assert.Contains(t, executed[0], "sudo /bin/bash -c")
	assert.Contains(t, executed[0], "docker pull alpine:3.19 && docker pull busybox:latest")
}

func TestRefreshImagesOverSSHCollectsAllFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.SSH = &config.SSHSpec{Username: "fleetadmin"}

	fleet := glusterFleet(3)
	var mu sync.Mutex
	var attempts int
	c := testCoordinator(t, fleet)
	c.NewCommunicator = func(host string, port int) (ssh.Communicator, error) {
		return &ssh.MockCommunicator{
			ExecuteFunc: func(ctx context.Context, command string) (string, error) {
				mu.Lock()
				attempts++
				mu.Unlock()
				return "", fmt.Errorf("connection refused")
			},
		}, nil
	}

	err := c.RefreshImages(context.Background(), cfg, ImageRefreshOptions{ForceSSH: true})
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Equal(t, []string{"tvm-0", "tvm-1", "tvm-2"}, coordFailure.MissingNodes)
	assert.Equal(t, 3, attempts, "every node must be attempted before failing")
}

func TestRefreshImagesOverSSHRequiresUsername(t *testing.T) {
	err := testCoordinator(t, glusterFleet(3)).RefreshImages(context.Background(), testConfig(), ImageRefreshOptions{ForceSSH: true})
	var coordFailure *CoordinationError
	require.ErrorAs(t, err, &coordFailure)
	assert.Contains(t, err.Error(), "ssh username")
}

func TestCoordinationErrorMessage(t *testing.T) {
	err := &CoordinationError{
		Operation:    "gluster setup",
		Message:      "success marker absent",
		MissingNodes: []string{"tvm-1", "tvm-2"},
	}
	assert.Equal(t,
		"coordination: gluster setup: success marker absent (missing on nodes: tvm-1, tvm-2)",
		err.Error())
}

func TestRunStateTransitions(t *testing.T) {
	c := testCoordinator(t, glusterFleet(3))

	var states []RunState
	r := &run{operation: "test", jobID: "j", taskID: "t"}
	for _, s := range []RunState{RunSubmitted, RunRunning, RunCompleted, RunVerified, RunDeleted} {
		c.transition(r, s)
		states = append(states, r.state)
	}
	assert.Equal(t,
		[]RunState{RunSubmitted, RunRunning, RunCompleted, RunVerified, RunDeleted},
		states)
}
