package config

import (
	"fmt"
	"strings"
)

// ConfigError reports a contradictory or invalid fleet specification. It is
// never retried; the declared configuration must change.
type ConfigError struct {
	Fields  []string
	Message string
}

func (e *ConfigError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (fields: %s)", e.Message, strings.Join(e.Fields, ", "))
}

func confErr(msg string, fields ...string) *ConfigError {
	return &ConfigError{Fields: fields, Message: msg}
}

// Normalize validates the fleet specification against the platform
// compatibility rules and applies auto-corrections in place. Corrections the
// system can resolve silently are returned as warnings; contradictions it
// cannot resolve return a *ConfigError naming the conflicting fields.
//
// The first violation found is reported; rules are checked independently in a
// fixed order so failures are deterministic.
func (c *Config) Normalize() ([]string, error) {
	var warnings []string
	f := &c.Fleet

	if f.ID == "" {
		return nil, confErr("fleet id is required", "fleet.id")
	}
	if f.VMSize == "" {
		return nil, confErr("vm_size is required", "fleet.vm_size")
	}
	if f.PlatformImage != nil && f.CustomImage != nil {
		return nil, confErr(
			"cannot specify both a platform_image and a custom_image",
			"fleet.platform_image", "fleet.custom_image")
	}
	if f.PlatformImage == nil && f.CustomImage == nil {
		return nil, confErr(
			"either a platform_image or a custom_image is required",
			"fleet.platform_image", "fleet.custom_image")
	}

	isWindows := f.IsWindows()
	custom := f.CustomImage != nil

	// Platform image allow-list. Custom images bypass it but need AAD.
	containerRuntimeRequired := true
	if !custom {
		pi := f.PlatformImage
		allowed, exempt := platformImageAllowed(pi)
		if !allowed {
			return nil, confErr(
				fmt.Sprintf("unsupported host VM config: publisher=%s offer=%s sku=%s vm_size=%s",
					pi.Publisher, pi.Offer, pi.Sku, f.VMSize),
				"fleet.platform_image", "fleet.vm_size")
		}
		containerRuntimeRequired = !exempt
		if IsGPUVMSize(f.VMSize) && !gpuImageAllowed(pi) {
			return nil, confErr(
				fmt.Sprintf("unsupported GPU host VM config: publisher=%s offer=%s sku=%s vm_size=%s",
					pi.Publisher, pi.Offer, pi.Sku, f.VMSize),
				"fleet.platform_image", "fleet.vm_size")
		}
		// HPC offers only pair with RDMA-capable sizes.
		offer := strings.ToLower(pi.Offer)
		if !isWindows && (offer == "centos-hpc" || offer == "sles-hpc") && !IsRDMAVMSize(f.VMSize) {
			return nil, confErr(
				fmt.Sprintf("cannot allocate an HPC VM config offer=%s with a non-RDMA vm_size=%s",
					pi.Offer, f.VMSize),
				"fleet.platform_image.offer", "fleet.vm_size")
		}
	} else {
		if !c.HasAAD() {
			return nil, confErr(
				"cannot allocate a fleet with a custom image without AAD credentials",
				"fleet.custom_image", "credentials.batch.aad")
		}
		if f.CustomImage.NodeAgentID == "" {
			return nil, confErr("custom_image requires a node_agent_id",
				"fleet.custom_image.node_agent_id")
		}
	}

	// Wrapper container image requirement.
	if (containerRuntimeRequired || custom) && !f.ContainerRuntimeImage {
		f.ContainerRuntimeImage = true
		warnings = append(warnings, fmt.Sprintf(
			"forcing container runtime image due to VM config for fleet %s", f.ID))
	}

	// Autoscale is mutually exclusive with explicit node targets.
	if f.Autoscale.Enabled() {
		if f.VMCount.Dedicated > 0 || f.VMCount.LowPriority > 0 {
			return nil, confErr(
				"autoscale and explicit vm_count targets are mutually exclusive",
				"fleet.autoscale", "fleet.vm_count")
		}
		if f.ResizeTimeout != 0 {
			warnings = append(warnings,
				"ignoring resize_timeout for autoscale-enabled fleet")
			f.ResizeTimeout = 0
		}
	}

	// Peer-to-peer image distribution constraints.
	if c.DataReplication != nil && c.DataReplication.PeerToPeer.Enabled {
		if f.Native {
			return nil, confErr(
				"cannot enable peer-to-peer with native container fleets",
				"data_replication.peer_to_peer", "fleet.native_container_pool")
		}
		if f.Autoscale.Enabled() {
			return nil, confErr(
				"cannot enable peer-to-peer and autoscale",
				"data_replication.peer_to_peer", "fleet.autoscale")
		}
		if !f.InterNodeCommunication {
			warnings = append(warnings,
				"force enabling inter-node communication due to peer-to-peer transfer")
			f.InterNodeCommunication = true
		}
	}

	// HPN-SSH swap is only available on Ubuntu platform images.
	if f.SSH != nil && f.SSH.HPNServerSwap {
		if custom || !equalFold(f.PlatformImage.Publisher, "canonical") {
			warnings = append(warnings, "cannot enable HPN SSH swap for this image, disabling")
			f.SSH.HPNServerSwap = false
		}
	}

	// Ingress-at-creation and image-preload blocking conflict.
	if f.TransferFilesOnCreate && f.BlockUntilImagesLoaded {
		warnings = append(warnings,
			"disabling block_until_images_loaded with transfer_files_on_create enabled")
		f.BlockUntilImagesLoaded = false
	}

	// Mixed node types cannot use inter-node communication.
	if f.InterNodeCommunication && f.VMCount.Dedicated > 0 && f.VMCount.LowPriority > 0 {
		return nil, confErr(
			"inter-node communication cannot be enabled with both dedicated and low priority nodes",
			"fleet.inter_node_communication", "fleet.vm_count")
	}

	if err := c.validateVolumes(isWindows); err != nil {
		return nil, err
	}

	if isWindows {
		if f.TransferFilesOnCreate {
			return nil, confErr(
				"cannot transfer files on fleet creation to windows nodes",
				"fleet.transfer_files_on_create", "fleet.platform_image")
		}
		if c.Encryption != nil {
			return nil, confErr(
				"cannot enable credential encryption with windows fleets",
				"encryption", "fleet.platform_image")
		}
	}

	if f.RecoverUnusableNodes && custom {
		warnings = append(warnings,
			"overriding attempt_recovery_on_unusable due to custom image")
		f.RecoverUnusableNodes = false
	}

	if f.VMCount.Total() == 0 && !isWindows && f.SSH != nil && f.SSH.Username != "" {
		warnings = append(warnings, "cannot add SSH user with zero target nodes")
	}

	return warnings, nil
}

// validateVolumes enforces the shared-data-volume interaction rules.
func (c *Config) validateVolumes(isWindows bool) error {
	f := &c.Fleet
	numGluster := 0
	for _, v := range f.SharedDataVolumes {
		switch v.Kind {
		case VolumeGlusterOnCompute:
			if isWindows {
				return confErr("on-compute replicated volumes are not supported on windows",
					volField(v), "fleet.platform_image")
			}
			if f.Autoscale.Enabled() {
				return confErr("on-compute replicated volumes cannot be used with autoscale",
					volField(v), "fleet.autoscale")
			}
			if !f.InterNodeCommunication {
				// Interplays with peer-to-peer forcing; never silently flip it.
				return confErr(
					"inter-node communication must be enabled for on-compute replicated volumes",
					volField(v), "fleet.inter_node_communication")
			}
			if f.VMCount.LowPriority > 0 {
				return confErr(
					"on-compute replicated volumes cannot be used with low priority nodes",
					volField(v), "fleet.vm_count.low_priority")
			}
			if f.VMCount.Dedicated <= 1 {
				return confErr(
					"dedicated vm_count must exceed 1 for on-compute replicated volumes",
					volField(v), "fleet.vm_count.dedicated")
			}
			if f.MaxTasksPerNode > 1 {
				return confErr(
					"max_tasks_per_node cannot exceed 1 for on-compute replicated volumes",
					volField(v), "fleet.max_tasks_per_node")
			}
			if v.VolumeType != "" && v.VolumeType != "replica" {
				return confErr("only replicated on-compute volumes are supported", volField(v))
			}
			numGluster++
		case VolumeStorageCluster:
			if isWindows {
				return confErr("storage cluster mounting is not supported on windows",
					volField(v), "fleet.platform_image")
			}
			if v.ClusterID == "" {
				return confErr("storage cluster volume requires a cluster_id", volField(v))
			}
			if _, ok := c.RemoteClusters[v.ClusterID]; !ok {
				return confErr(
					fmt.Sprintf("no remote cluster %q found in configuration", v.ClusterID),
					volField(v), "remote_clusters")
			}
		case VolumeBlobFuse:
			if isWindows {
				return confErr("blob mounting is not supported on windows",
					volField(v), "fleet.platform_image")
			}
			if f.Native {
				return confErr("blob mounting is not supported on native container fleets",
					volField(v), "fleet.native_container_pool")
			}
			if err := c.checkBlobMountImage(v); err != nil {
				return err
			}
		case VolumeFileShare:
			// valid on all targets
		default:
			return confErr(fmt.Sprintf("unknown shared data volume kind %q", v.Kind), volField(v))
		}
		if v.Kind == VolumeBlobFuse || v.Kind == VolumeFileShare {
			if v.StorageAccountLink == "" {
				return confErr("volume requires a storage_account_link", volField(v))
			}
			if _, ok := c.Credentials.StorageAccounts[v.StorageAccountLink]; !ok {
				return confErr(
					fmt.Sprintf("storage account link %q not found in credentials", v.StorageAccountLink),
					volField(v), "credentials.storage_accounts")
			}
		}
	}
	if numGluster > 1 {
		return confErr("cannot create more than one on-compute replicated volume per fleet",
			"fleet.shared_data_volumes")
	}
	return nil
}

// checkBlobMountImage enforces the minimum distribution for blobfuse mounts.
func (c *Config) checkBlobMountImage(v VolumeSpec) error {
	pi := c.Fleet.PlatformImage
	if pi == nil {
		return nil
	}
	offer := strings.ToLower(pi.Offer)
	sku := strings.ToLower(pi.Sku)
	if offer == "ubuntuserver" {
		if sku < "16.04-lts" {
			return confErr(
				fmt.Sprintf("blob mounting is not supported on publisher=%s offer=%s sku=%s",
					pi.Publisher, pi.Offer, pi.Sku),
				volField(v), "fleet.platform_image")
		}
		return nil
	}
	if !strings.HasPrefix(offer, "centos") {
		return confErr(
			fmt.Sprintf("blob mounting is not supported on publisher=%s offer=%s sku=%s",
				pi.Publisher, pi.Offer, pi.Sku),
			volField(v), "fleet.platform_image")
	}
	return nil
}

// CheckAutopool applies the additional restrictions for pools owned by the
// lifetime of a single job.
func (c *Config) CheckAutopool() ([]string, error) {
	var warnings []string
	f := &c.Fleet
	if len(f.ID) > MaxAutopoolIDLength {
		return nil, confErr(
			fmt.Sprintf("autopool id %q exceeds %d characters", f.ID, MaxAutopoolIDLength),
			"fleet.id")
	}
	for _, v := range f.SharedDataVolumes {
		if v.Kind == VolumeGlusterOnCompute {
			return nil, confErr("on-compute replicated volumes are not possible with autopool",
				volField(v))
		}
	}
	if f.TransferFilesOnCreate {
		return nil, confErr("cannot ingress data on fleet creation with autopool",
			"fleet.transfer_files_on_create")
	}
	if f.SSH != nil && f.SSH.Username != "" {
		warnings = append(warnings, "cannot add SSH user with autopool")
	}
	return warnings, nil
}

func volField(v VolumeSpec) string {
	return fmt.Sprintf("fleet.shared_data_volumes[%s]", v.Name)
}

// platformImageAllowed checks the marketplace allow-list. The second return
// reports whether the image is exempt from the wrapper container requirement.
func platformImageAllowed(pi *PlatformImage) (allowed, exempt bool) {
	publisher := strings.ToLower(pi.Publisher)
	offer := strings.ToLower(pi.Offer)
	sku := strings.ToLower(pi.Sku)
	switch publisher {
	case "canonical":
		if offer == "ubuntuserver" {
			if strings.HasPrefix(sku, "14.04") {
				return true, false
			}
			if strings.HasPrefix(sku, "16.04") {
				return true, true
			}
		}
	case "credativ":
		if offer == "debian" && sku >= "8" {
			return true, false
		}
	case "openlogic":
		if strings.HasPrefix(offer, "centos") && sku >= "7" {
			return true, false
		}
	case "redhat":
		if offer == "rhel" && sku >= "7" {
			return true, false
		}
	case "suse":
		if strings.HasPrefix(offer, "sles") && sku >= "12-sp1" {
			return true, false
		}
		if offer == "opensuse-leap" && sku >= "42" {
			return true, false
		}
	case "microsoftwindowsserver":
		if offer == "windowsserver" && sku == "2016-datacenter-with-containers" {
			return true, false
		}
	}
	return false, false
}

// gpuImageAllowed checks whether the image can host the GPU driver stack.
func gpuImageAllowed(pi *PlatformImage) bool {
	publisher := strings.ToLower(pi.Publisher)
	offer := strings.ToLower(pi.Offer)
	sku := strings.ToLower(pi.Sku)
	if publisher == "canonical" && offer == "ubuntuserver" && strings.HasPrefix(sku, "16.04") {
		return true
	}
	if publisher == "openlogic" && strings.HasPrefix(offer, "centos") && sku >= "7.3" {
		return true
	}
	return false
}

// IsGPUVMSize reports whether the VM size carries a GPU.
func IsGPUVMSize(vmSize string) bool {
	s := strings.ToLower(vmSize)
	return strings.HasPrefix(s, "standard_nc") || strings.HasPrefix(s, "standard_nd") ||
		strings.HasPrefix(s, "standard_nv")
}

// IsGPUVisualizationVMSize reports whether the GPU is a visualization class
// part rather than a compute part.
func IsGPUVisualizationVMSize(vmSize string) bool {
	return strings.HasPrefix(strings.ToLower(vmSize), "standard_nv")
}

// IsRDMAVMSize reports whether the VM size has RDMA-capable interconnect.
func IsRDMAVMSize(vmSize string) bool {
	s := strings.ToLower(vmSize)
	if s == "standard_a8" || s == "standard_a9" {
		return true
	}
	return strings.HasSuffix(s, "r") || strings.HasSuffix(s, "rs")
}

// CanTuneTCP reports whether node TCP tuning applies for the VM size.
func CanTuneTCP(vmSize string) bool {
	return IsRDMAVMSize(vmSize)
}
