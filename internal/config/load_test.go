package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
credentials:
  batch:
    account: batchacct
    service_url: https://batchacct.westus2.batch.azure.com
    resource_group: rg-fleet
    location: westus2
  storage_accounts:
    mystorage:
      account: mystorage
      key: a2V5
      endpoint: core.windows.net
fleet:
  id: testfleet
  vm_size: STANDARD_D2_V2
  vm_count:
    dedicated: 3
  platform_image:
    publisher: Canonical
    offer: UbuntuServer
    sku: 16.04-LTS
  resize_timeout: 15m
  resource_files:
    - file_path: jobprep.sh
      url: https://mystorage.blob.core.windows.net/res/jobprep.sh
storage:
  account_link: mystorage
  container: skiff-resources
  entity_prefix: skiff
global_resources:
  container_images:
    - alpine:3.19
`

func TestLoadParsesSpec(t *testing.T) {
	cfg, err := Load([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "testfleet", cfg.Fleet.ID)
	assert.Equal(t, "batchacct", cfg.Credentials.Batch.Account)
	assert.Equal(t, int32(3), cfg.Fleet.VMCount.Dedicated)
	assert.Equal(t, 15*time.Minute, cfg.Fleet.ResizeTimeout.D())
	assert.Equal(t, []string{"alpine:3.19"}, cfg.GlobalResources.ContainerImages)
	sa, ok := cfg.StorageAccountForLink("mystorage")
	require.True(t, ok)
	assert.Equal(t, "core.windows.net", sa.Endpoint)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, int32(1), cfg.Fleet.MaxTasksPerNode)
	assert.Equal(t, "latest", cfg.Fleet.PlatformImage.Version)
	require.Len(t, cfg.Fleet.ResourceFiles, 1)
	assert.Equal(t, "0755", cfg.Fleet.ResourceFiles[0].FileMode)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	_, err := Load([]byte("fleet:\n  resize_timeout: quick\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("fleet: [unclosed"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "testfleet", cfg.Fleet.ID)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
