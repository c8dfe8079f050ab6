package pool

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/blob"
	"github.com/skiffhq/skiff/internal/provisioning"
	"github.com/skiffhq/skiff/internal/provisioning/mounts"
)

func testConfig() *config.Config {
	return &config.Config{
		Credentials: config.Credentials{
			Batch: config.BatchCredentials{
				Account:    "mybatch",
				ServiceURL: "https://mybatch.eastus.batch.azure.com",
				Location:   "eastus",
			},
			StorageAccounts: map[string]config.StorageAccount{
				"mysa": {Account: "mysa", Key: "c2VjcmV0", Endpoint: "core.windows.net"},
			},
		},
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
				Version:   "latest",
			},
			MaxTasksPerNode: 1,
		},
		Storage: config.StorageSettings{
			AccountLink:  "mysa",
			Container:    "skiff",
			EntityPrefix: "skiff",
		},
	}
}

func ubuntuAgents() []batch.NodeAgent {
	return []batch.NodeAgent{
		{
			ID: "batch.node.ubuntu 14.04",
			VerifiedImages: []batch.ImageReference{
				{Publisher: "Canonical", Offer: "UbuntuServer", Sku: "14.04.5-LTS"},
			},
		},
		{
			ID: "batch.node.ubuntu 16.04",
			VerifiedImages: []batch.ImageReference{
				{Publisher: "Canonical", Offer: "UbuntuServer", Sku: "16.04-LTS"},
				{Publisher: "OpenLogic", Offer: "CentOS", Sku: "7.4"},
			},
		},
	}
}

func testBuilder(t *testing.T, fleet batch.FleetService) *Builder {
	t.Helper()
	resources := t.TempDir()
	for _, name := range []string{
		nodePrepScript, nodePrepCustomImageScript, nodePrepNativeScript, nodePrepWindowsScript,
	} {
		err := os.WriteFile(filepath.Join(resources, name), []byte("#!/bin/sh\n"), 0o755)
		require.NoError(t, err)
	}
	return &Builder{
		Fleet:        fleet,
		Storage:      &blob.MockStore{},
		Observer:     provisioning.NewLogrusObserver(logrus.StandardLogger()),
		Version:      "1.0.0",
		ResourcesDir: resources,
		CacheDir:     t.TempDir(),
	}
}

func fleetWithAgents() *batch.MockClient {
	return &batch.MockClient{
		ListNodeAgentsFunc: func(ctx context.Context) ([]batch.NodeAgent, error) {
			return ubuntuAgents(), nil
		},
	}
}

func TestSelectNodeAgentMatchesCaseInsensitively(t *testing.T) {
	ref, agentID, err := SelectNodeAgent(context.Background(), fleetWithAgents(), &config.PlatformImage{
		Publisher: "canonical",
		Offer:     "ubuntuserver",
		Sku:       "16.04-lts",
		Version:   "latest",
	})
	require.NoError(t, err)
	assert.Equal(t, "batch.node.ubuntu 16.04", agentID)
	assert.Equal(t, "UbuntuServer", ref.Offer)
	assert.Equal(t, "latest", ref.Version)
}

func TestSelectNodeAgentPicksLastSortedSku(t *testing.T) {
	fleet := &batch.MockClient{
		ListNodeAgentsFunc: func(ctx context.Context) ([]batch.NodeAgent, error) {
			return []batch.NodeAgent{
				{
					ID: "batch.node.ubuntu 16.04",
					VerifiedImages: []batch.ImageReference{
						{Publisher: "Canonical", Offer: "UbuntuServer", Sku: "16.10"},
						{Publisher: "Canonical", Offer: "UbuntuServer", Sku: "16.04-LTS"},
					},
				},
			}, nil
		},
	}
	ref, _, err := SelectNodeAgent(context.Background(), fleet, &config.PlatformImage{
		Publisher: "canonical",
		Offer:     "ubuntuserver",
		Sku:       "16.10",
	})
	require.NoError(t, err)
	assert.Equal(t, "16.10", ref.Sku)
}

func TestSelectNodeAgentNotFound(t *testing.T) {
	_, _, err := SelectNodeAgent(context.Background(), fleetWithAgents(), &config.PlatformImage{
		Publisher: "canonical",
		Offer:     "ubuntuserver",
		Sku:       "99.99-lts",
	})
	var notFound *ImageNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "99.99-lts", notFound.Sku)
	assert.Contains(t, err.Error(), "pool listskus")
}

func TestRenderCommandDeterministic(t *testing.T) {
	cfg := testConfig()
	state := &commandState{
		cfg:          cfg,
		artifacts:    &mounts.Artifacts{BlobMountScript: "#!/usr/bin/env bash\n"},
		torrentFlags: torrentFlags(cfg),
		version:      "1.0.0",
	}
	want := "skiff_nodeprep.sh -c -o ubuntuserver -p skiff -s 16.04-lts -t false:0:0:false -v 1.0.0 -x 1.9.4"
	first := renderCommand(nodePrepScript, fullFlags, state)
	assert.Equal(t, want, first)
	assert.Equal(t, first, renderCommand(nodePrepScript, fullFlags, state))
}

func TestBuildBlobMountFleet(t *testing.T) {
	cfg := testConfig()
	b := testBuilder(t, fleetWithAgents())
	artifacts := &mounts.Artifacts{BlobMountScript: "#!/usr/bin/env bash\nblobfuse\n"}

	req, err := b.Build(context.Background(), cfg, "", artifacts)
	require.NoError(t, err)

	assert.Equal(t, "testfleet", req.ID)
	assert.Equal(t, "batch.node.ubuntu 16.04", req.NodeAgentID)
	assert.Equal(t, int32(3), req.TargetDedicated)
	assert.Nil(t, req.AutoScale)

	cmd := req.StartTask.CommandLine
	assert.True(t, strings.HasPrefix(cmd, "/bin/bash -c 'set -e; set -o pipefail; "), cmd)
	assert.Contains(t, cmd, "skiff_nodeprep.sh -c ")
	assert.NotContains(t, cmd, " -g ")
	assert.Contains(t, cmd, " -v 1.0.0 ")

	assert.True(t, req.StartTask.Elevated)
	assert.True(t, req.StartTask.WaitForSuccess)

	var paths []string
	for _, rf := range req.StartTask.ResourceFiles {
		paths = append(paths, rf.FilePath)
		assert.NotEmpty(t, rf.URL)
	}
	assert.Equal(t, []string{nodePrepScript, blobMountScriptName}, paths)

	env := map[string]string{}
	for _, e := range req.StartTask.Environment {
		env[e.Name] = e.Value
	}
	assert.Equal(t, "en_US.UTF-8", env["LC_ALL"])
	assert.Equal(t, "mysa:core.windows.net:c2VjcmV0", env[envStorageAccount])
	assert.NotContains(t, env, envClusterFstab)

	var meta []string
	for _, m := range req.Metadata {
		meta = append(meta, m.Name+"="+m.Value)
	}
	assert.Contains(t, meta, config.MetadataVersionName+"=1.0.0")
}

func TestBuildClusterFstabEnvironment(t *testing.T) {
	cfg := testConfig()
	b := testBuilder(t, fleetWithAgents())
	artifacts := &mounts.Artifacts{
		FstabMounts: []string{
			"10.1.0.4:/data /mnt/batch/tasks/mounts/sc1 nfs _netdev,auto,nfsvers=4,intr 0 2",
			"10.2.0.4:/gv0 /mnt/batch/tasks/mounts/sc2 glusterfs _netdev,auto,transport=tcp 0 2",
		},
		ClusterArgs: []string{"nfs:sc1", "glusterfs:sc2"},
	}

	req, err := b.Build(context.Background(), cfg, "", artifacts)
	require.NoError(t, err)

	var fstab string
	for _, e := range req.StartTask.Environment {
		if e.Name == envClusterFstab {
			fstab = e.Value
		}
	}
	assert.Equal(t, strings.Join(artifacts.FstabMounts, "#"), fstab)
	assert.Contains(t, req.StartTask.CommandLine, " -m nfs:sc1,glusterfs:sc2 ")
}

func TestBuildAutoscaleOmitsTargets(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.Autoscale = &config.AutoscaleSpec{Formula: "$TargetDedicatedNodes=3;"}

	req, err := testBuilder(t, fleetWithAgents()).Build(context.Background(), cfg, "", nil)
	require.NoError(t, err)

	require.NotNil(t, req.AutoScale)
	assert.Equal(t, "$TargetDedicatedNodes=3;", req.AutoScale.Formula)
	assert.Zero(t, req.TargetDedicated)
	assert.Zero(t, req.TargetLowPriority)
	assert.Zero(t, req.ResizeTimeout)
}

func TestBuildCustomImageRequiresAAD(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.PlatformImage = nil
	cfg.Fleet.CustomImage = &config.CustomImage{
		ImageID:     "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Compute/images/img",
		NodeAgentID: "batch.node.ubuntu 16.04",
	}

	_, err := testBuilder(t, fleetWithAgents()).Build(context.Background(), cfg, "", nil)
	var buildFailure *PoolBuildError
	require.ErrorAs(t, err, &buildFailure)
	assert.Equal(t, "image", buildFailure.Stage)
}

func TestBuildCustomImage(t *testing.T) {
	cfg := testConfig()
	cfg.Credentials.Batch.AAD = &config.AADCredentials{
		DirectoryID:   "dir",
		ApplicationID: "app",
		AuthKey:       "key",
	}
	cfg.Fleet.PlatformImage = nil
	cfg.Fleet.CustomImage = &config.CustomImage{
		ImageID:     "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Compute/images/img",
		NodeAgentID: "batch.node.ubuntu 16.04",
	}

	req, err := testBuilder(t, fleetWithAgents()).Build(context.Background(), cfg, "", nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Fleet.CustomImage.ImageID, req.CustomImageID)
	assert.Equal(t, "batch.node.ubuntu 16.04", req.NodeAgentID)
	assert.Contains(t, req.StartTask.CommandLine, nodePrepCustomImageScript)
}

func TestBuildWindowsFleet(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.PlatformImage = &config.PlatformImage{
		Publisher: "MicrosoftWindowsServer",
		Offer:     "WindowsServer",
		Sku:       "2016-Datacenter-with-Containers",
		Version:   "latest",
	}
	cfg.Encryption = &config.EncryptionSpec{Thumbprint: "abc123"}
	fleet := &batch.MockClient{
		ListNodeAgentsFunc: func(ctx context.Context) ([]batch.NodeAgent, error) {
			return []batch.NodeAgent{
				{
					ID: "batch.node.windows amd64",
					VerifiedImages: []batch.ImageReference{
						{Publisher: "MicrosoftWindowsServer", Offer: "WindowsServer", Sku: "2016-Datacenter-with-Containers"},
					},
				},
			}, nil
		},
	}

	req, err := testBuilder(t, fleet).Build(context.Background(), cfg, "", nil)
	require.NoError(t, err)

	cmd := req.StartTask.CommandLine
	assert.True(t, strings.HasPrefix(cmd, `cmd.exe /c "powershell -ExecutionPolicy Unrestricted -command `), cmd)
	assert.Contains(t, cmd, nodePrepWindowsScript)

	require.Len(t, req.Certificates, 1)
	assert.Equal(t, "abc123", req.Certificates[0].Thumbprint)
	assert.Equal(t, "sha1", req.Certificates[0].Algorithm)
	assert.True(t, req.Certificates[0].VisibleToTasks)
}

func TestBuildSubnetAndAdditionalBootstrap(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.AdditionalBootstrap = []string{"echo ready"}
	subnetID := "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Network/virtualNetworks/vnet/subnets/sn"

	req, err := testBuilder(t, fleetWithAgents()).Build(context.Background(), cfg, subnetID, nil)
	require.NoError(t, err)
	assert.Equal(t, subnetID, req.SubnetID)
	assert.Contains(t, req.StartTask.CommandLine, "; echo ready'")
}

func TestBuildInstallsCertificateFromPfx(t *testing.T) {
	pfx := filepath.Join(t.TempDir(), "enc.pfx")
	require.NoError(t, os.WriteFile(pfx, []byte("pfxdata"), 0o600))

	cfg := testConfig()
	cfg.Encryption = &config.EncryptionSpec{
		Thumbprint:  "abc123",
		PfxPath:     pfx,
		PfxPassword: "pw",
	}

	var gotThumbprint, gotData, gotPassword string
	fleet := fleetWithAgents()
	fleet.AddCertificateFunc = func(ctx context.Context, thumbprint, algorithm, pfxBase64, password string) error {
		gotThumbprint = thumbprint
		gotData = pfxBase64
		gotPassword = password
		return nil
	}

	_, err := testBuilder(t, fleet).Build(context.Background(), cfg, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotThumbprint)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("pfxdata")), gotData)
	assert.Equal(t, "pw", gotPassword)
}

func TestBuildUploadFailure(t *testing.T) {
	b := testBuilder(t, fleetWithAgents())
	b.Storage = &blob.MockStore{
		UploadFunc: func(container, name string, r io.Reader) error {
			return fmt.Errorf("403 forbidden")
		},
	}

	_, err := b.Build(context.Background(), testConfig(), "", nil)
	var buildFailure *PoolBuildError
	require.ErrorAs(t, err, &buildFailure)
	assert.Equal(t, "resource upload", buildFailure.Stage)
	assert.Contains(t, err.Error(), nodePrepScript)
}

func TestBuildSigningFailure(t *testing.T) {
	b := testBuilder(t, fleetWithAgents())
	b.Storage = &blob.MockStore{
		SignedURLFunc: func(container, name string, lifetime time.Duration) (string, error) {
			return "", fmt.Errorf("sas generation failed")
		},
	}

	_, err := b.Build(context.Background(), testConfig(), "", nil)
	var buildFailure *PoolBuildError
	require.ErrorAs(t, err, &buildFailure)
	assert.Equal(t, "resource upload", buildFailure.Stage)
}

func TestBuildAutoPool(t *testing.T) {
	cfg := testConfig()
	req, err := testBuilder(t, fleetWithAgents()).BuildAutoPool(context.Background(), cfg, "", nil)
	require.NoError(t, err)
	assert.True(t, req.AutoPool)

	var marker bool
	for _, e := range req.StartTask.Environment {
		if e.Name == envAutopool && e.Value == "1" {
			marker = true
		}
	}
	assert.True(t, marker)
}

func TestBuildAutoPoolIDTooLong(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.ID = strings.Repeat("x", config.MaxAutopoolIDLength+1)

	_, err := testBuilder(t, fleetWithAgents()).BuildAutoPool(context.Background(), cfg, "", nil)
	var buildFailure *PoolBuildError
	require.ErrorAs(t, err, &buildFailure)
	assert.Equal(t, "autopool", buildFailure.Stage)
}

func TestGPUClass(t *testing.T) {
	assert.Equal(t, "tesla", gpuClass("STANDARD_NC6"))
	assert.Equal(t, "grid", gpuClass("standard_nv12"))
}

func TestEnsureGPUDriverUserURL(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.VMSize = "STANDARD_NC6"
	cfg.Fleet.GPUDriverURL = "https://example.com/drivers/nvidia-driver.run"

	b := testBuilder(t, fleetWithAgents())
	name, source, local, err := b.ensureGPUDriver(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "nvidia-driver.run", name)
	assert.Equal(t, cfg.Fleet.GPUDriverURL, source)
	assert.False(t, local)
}

func TestEnsureGPUDriverLicenseDeclined(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.VMSize = "STANDARD_NC6"

	b := testBuilder(t, fleetWithAgents())
	_, _, _, err := b.ensureGPUDriver(context.Background(), cfg)
	var buildFailure *PoolBuildError
	require.ErrorAs(t, err, &buildFailure)
	assert.Contains(t, err.Error(), "license")
}

func TestBuildGPUFleetUsesDriverFlag(t *testing.T) {
	cfg := testConfig()
	cfg.Fleet.VMSize = "STANDARD_NC6"
	cfg.Fleet.GPUDriverURL = "https://example.com/drivers/nvidia-driver.run"

	req, err := testBuilder(t, fleetWithAgents()).Build(context.Background(), cfg, "", nil)
	require.NoError(t, err)
	assert.Contains(t, req.StartTask.CommandLine, " -g false:nvidia-driver.run ")

	var staged []string
	for _, rf := range req.StartTask.ResourceFiles {
		staged = append(staged, rf.FilePath)
	}
	assert.Contains(t, staged, "nvidia-driver.run")
}

func TestBuildPropagatesStorageErrors(t *testing.T) {
	b := testBuilder(t, fleetWithAgents())
	b.Storage = &blob.MockStore{
		EnsureContainerFunc: func(container string) error {
			return fmt.Errorf("container create throttled")
		},
	}

	_, err := b.Build(context.Background(), testConfig(), "", nil)
	var buildFailure *PoolBuildError
	require.ErrorAs(t, err, &buildFailure)
	assert.Equal(t, "resource upload", buildFailure.Stage)
}
