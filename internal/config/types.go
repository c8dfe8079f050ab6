// Package config defines the declarative fleet specification and its
// validation and normalization rules.
package config

// Config is the root of the declarative fleet specification. It is
// caller-owned; Normalize mutates it in place (auto-corrections) and the
// provisioning core treats it as read-only afterwards.
type Config struct {
	Credentials     Credentials                  `yaml:"credentials"`
	Fleet           FleetSpec                    `yaml:"fleet"`
	Storage         StorageSettings              `yaml:"storage"`
	GlobalResources GlobalResources              `yaml:"global_resources"`
	DataReplication *DataReplication             `yaml:"data_replication,omitempty"`
	Encryption      *EncryptionSpec              `yaml:"encryption,omitempty"`
	RemoteClusters  map[string]RemoteClusterSpec `yaml:"remote_clusters,omitempty"`
}

// Credentials holds service principal and account credentials for the
// consumed cloud services.
type Credentials struct {
	Batch           BatchCredentials          `yaml:"batch"`
	StorageAccounts map[string]StorageAccount `yaml:"storage_accounts"`
	KeyVault        *KeyVaultCredentials      `yaml:"keyvault,omitempty"`
}

// BatchCredentials identifies the batch account and, optionally, the AAD
// service principal used for management-plane operations. AAD is required
// for virtual networks and custom images.
type BatchCredentials struct {
	Account       string          `yaml:"account"`
	ServiceURL    string          `yaml:"service_url"`
	AccountKey    string          `yaml:"account_key,omitempty"`
	ResourceGroup string          `yaml:"resource_group"`
	Location      string          `yaml:"location"`
	Subscription  string          `yaml:"subscription_id,omitempty"`
	AAD           *AADCredentials `yaml:"aad,omitempty"`
}

// AADCredentials is a directory-level service principal.
type AADCredentials struct {
	DirectoryID   string `yaml:"directory_id"`
	ApplicationID string `yaml:"application_id"`
	AuthKey       string `yaml:"auth_key"`
}

// StorageAccount is a linked storage account, referenced by volumes and the
// resource upload path through its link name.
type StorageAccount struct {
	Account  string `yaml:"account"`
	Key      string `yaml:"key"`
	Endpoint string `yaml:"endpoint"`
}

// KeyVaultCredentials locates the secret store.
type KeyVaultCredentials struct {
	URI string `yaml:"uri"`
}

// StorageSettings configures where generated resources are uploaded and the
// prefix under which per-fleet entities are stored.
type StorageSettings struct {
	AccountLink  string `yaml:"account_link"`
	Container    string `yaml:"container"`
	EntityPrefix string `yaml:"entity_prefix"`
}

// FleetSpec is the desired state of a single compute fleet (a batch pool of
// uniformly configured nodes).
type FleetSpec struct {
	ID                     string              `yaml:"id"`
	VMSize                 string              `yaml:"vm_size"`
	VMCount                NodeCounts          `yaml:"vm_count"`
	PlatformImage          *PlatformImage      `yaml:"platform_image,omitempty"`
	CustomImage            *CustomImage        `yaml:"custom_image,omitempty"`
	Autoscale              *AutoscaleSpec      `yaml:"autoscale,omitempty"`
	VirtualNetwork         *VirtualNetworkSpec `yaml:"virtual_network,omitempty"`
	SharedDataVolumes      []VolumeSpec        `yaml:"shared_data_volumes,omitempty"`
	InterNodeCommunication bool                `yaml:"inter_node_communication"`
	MaxTasksPerNode        int32               `yaml:"max_tasks_per_node"`
	ResizeTimeout          Duration            `yaml:"resize_timeout,omitempty"`
	NodeFillType           string              `yaml:"node_fill_type,omitempty"`
	SSH                    *SSHSpec            `yaml:"ssh,omitempty"`
	RDP                    *RDPSpec            `yaml:"rdp,omitempty"`
	AdditionalBootstrap    []string            `yaml:"additional_bootstrap_commands,omitempty"`
	ResourceFiles          []ResourceFileSpec  `yaml:"resource_files,omitempty"`
	GPUDriverURL           string              `yaml:"gpu_driver_url,omitempty"`
	BlockUntilImagesLoaded bool                `yaml:"block_until_images_loaded"`
	TransferFilesOnCreate  bool                `yaml:"transfer_files_on_create"`
	RecoverUnusableNodes   bool                `yaml:"attempt_recovery_on_unusable"`
	Native                 bool                `yaml:"native_container_pool"`
	ContainerRuntimeImage  bool                `yaml:"container_runtime_image"`
}

// NodeCounts is the explicit dedicated/low-priority node targets. Mutually
// exclusive with Autoscale.
type NodeCounts struct {
	Dedicated   int32 `yaml:"dedicated"`
	LowPriority int32 `yaml:"low_priority"`
}

// Total returns the combined target node count.
func (n NodeCounts) Total() int32 {
	return n.Dedicated + n.LowPriority
}

// PlatformImage selects a marketplace platform image.
type PlatformImage struct {
	Publisher string `yaml:"publisher"`
	Offer     string `yaml:"offer"`
	Sku       string `yaml:"sku"`
	Version   string `yaml:"version,omitempty"`
}

// CustomImage references a pre-built image by its full resource id. Custom
// images bypass the platform allow-list but require AAD credentials and an
// explicit node agent.
type CustomImage struct {
	ImageID     string `yaml:"image_id"`
	NodeAgentID string `yaml:"node_agent_id"`
}

// AutoscaleSpec enables formula-driven pool sizing. The formula DSL itself is
// opaque to this tool.
type AutoscaleSpec struct {
	Formula            string   `yaml:"formula"`
	EvaluationInterval Duration `yaml:"evaluation_interval,omitempty"`
}

// Enabled reports whether autoscale is configured with a non-empty formula.
func (a *AutoscaleSpec) Enabled() bool {
	return a != nil && a.Formula != ""
}

// VirtualNetworkSpec either references an existing subnet by its full
// resource id, or names a virtual network and subnet to create.
type VirtualNetworkSpec struct {
	SubnetID      string `yaml:"subnet_id,omitempty"`
	Name          string `yaml:"name,omitempty"`
	ResourceGroup string `yaml:"resource_group,omitempty"`
	AddressPrefix string `yaml:"address_prefix,omitempty"`
	SubnetName    string `yaml:"subnet_name,omitempty"`
	SubnetPrefix  string `yaml:"subnet_prefix,omitempty"`
}

// Requested reports whether any virtual network configuration is present.
func (v *VirtualNetworkSpec) Requested() bool {
	return v != nil && (v.SubnetID != "" || v.Name != "")
}

// VolumeKind tags the variant of a shared data volume.
type VolumeKind string

// Shared data volume kinds.
const (
	VolumeBlobFuse         VolumeKind = "blobfuse"
	VolumeFileShare        VolumeKind = "azurefile"
	VolumeStorageCluster   VolumeKind = "storage_cluster"
	VolumeGlusterOnCompute VolumeKind = "gluster_on_compute"
)

// VolumeSpec declares one shared data volume. Fields beyond Name and Kind are
// variant-specific.
type VolumeSpec struct {
	Name string     `yaml:"name"`
	Kind VolumeKind `yaml:"kind"`

	// blobfuse / azurefile
	StorageAccountLink string   `yaml:"storage_account_link,omitempty"`
	Container          string   `yaml:"container,omitempty"`
	Share              string   `yaml:"share,omitempty"`
	MountOptions       []string `yaml:"mount_options,omitempty"`

	// storage_cluster
	ClusterID string `yaml:"cluster_id,omitempty"`

	// gluster_on_compute
	VolumeType    string   `yaml:"volume_type,omitempty"`
	VolumeOptions []string `yaml:"volume_options,omitempty"`
}

// RemoteClusterSpec describes an externally provisioned storage cluster that
// fleet nodes mount over the shared virtual network.
type RemoteClusterSpec struct {
	ResourceGroup  string               `yaml:"resource_group"`
	VMNamePrefix   string               `yaml:"vm_name_prefix"`
	VMCount        int                  `yaml:"vm_count"`
	VirtualNetwork RemoteClusterNetwork `yaml:"virtual_network"`
	FileServer     FileServerSpec       `yaml:"file_server"`
}

// RemoteClusterNetwork identifies the cluster's virtual network for the
// identity cross-check against the fleet subnet.
type RemoteClusterNetwork struct {
	Name          string `yaml:"name"`
	ResourceGroup string `yaml:"resource_group"`
	Subscription  string `yaml:"subscription_id"`
}

// FileServerSpec describes the file server exported by a remote cluster.
type FileServerSpec struct {
	Type       string `yaml:"type"` // nfs or glusterfs
	Mountpoint string `yaml:"mountpoint,omitempty"`
	VolumeName string `yaml:"volume_name,omitempty"`
}

// SSHSpec configures the admin SSH user created on nodes.
type SSHSpec struct {
	Username        string `yaml:"username"`
	PublicKeyPath   string `yaml:"public_key_path,omitempty"`
	PrivateKeyPath  string `yaml:"private_key_path,omitempty"`
	GeneratedKeyDir string `yaml:"generated_key_dir,omitempty"`
	ExpiryDays      int    `yaml:"expiry_days,omitempty"`
	HPNServerSwap   bool   `yaml:"hpn_server_swap"`
}

// RDPSpec configures the admin RDP user for Windows fleets.
type RDPSpec struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	ExpiryDays int    `yaml:"expiry_days,omitempty"`
}

// ResourceFileSpec is an additional file staged onto every node at bootstrap.
type ResourceFileSpec struct {
	FilePath string `yaml:"file_path"`
	URL      string `yaml:"url"`
	FileMode string `yaml:"file_mode,omitempty"`
}

// GlobalResources declares container images preloaded onto every node.
type GlobalResources struct {
	ContainerImages []string `yaml:"container_images,omitempty"`
}

// DataReplication configures peer-to-peer image distribution between nodes.
type DataReplication struct {
	PeerToPeer                PeerToPeer `yaml:"peer_to_peer"`
	ConcurrentSourceDownloads int        `yaml:"concurrent_source_downloads,omitempty"`
}

// PeerToPeer holds the torrent-style distribution knobs.
type PeerToPeer struct {
	Enabled                bool `yaml:"enabled"`
	DirectDownloadSeedBias int  `yaml:"direct_download_seed_bias,omitempty"`
	Compression            bool `yaml:"compression"`
}

// EncryptionSpec enables credential encryption on nodes via a certificate
// installed on the batch account.
type EncryptionSpec struct {
	Thumbprint          string `yaml:"thumbprint"`
	ThumbprintAlgorithm string `yaml:"thumbprint_algorithm,omitempty"`
	PfxPath             string `yaml:"pfx_path,omitempty"`
	PfxPassword         string `yaml:"pfx_password,omitempty"`
}

// IsWindows reports whether the fleet targets a Windows image. Platform
// images are inspected by publisher; custom images by their node agent id.
func (f *FleetSpec) IsWindows() bool {
	if f.PlatformImage != nil {
		return equalFold(f.PlatformImage.Publisher, "microsoftwindowsserver")
	}
	if f.CustomImage != nil {
		return containsFold(f.CustomImage.NodeAgentID, "windows")
	}
	return false
}

// HasAAD reports whether directory-level credentials are configured.
func (c *Config) HasAAD() bool {
	return c.Credentials.Batch.AAD != nil && c.Credentials.Batch.AAD.DirectoryID != ""
}

// StorageAccountForLink resolves a storage account link name declared under
// credentials.
func (c *Config) StorageAccountForLink(link string) (StorageAccount, bool) {
	sa, ok := c.Credentials.StorageAccounts[link]
	return sa, ok
}

// VolumesOfKind returns the declared shared data volumes of the given kind,
// in declaration order.
func (f *FleetSpec) VolumesOfKind(kind VolumeKind) []VolumeSpec {
	var out []VolumeSpec
	for _, v := range f.SharedDataVolumes {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}
