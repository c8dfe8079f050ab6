package config

import "strings"

// Operational constants carried over from long-standing fleet conventions.
const (
	// MaxAutopoolIDLength is the pool id length limit for job-lifetime pools.
	MaxAutopoolIDLength = 20

	// TempDiskMountPoint is where the node-local resource disk is mounted on
	// Linux nodes.
	TempDiskMountPoint = "/mnt/resource"

	// HostMountsPath is the root under which shared data volumes are mounted
	// on Linux nodes.
	HostMountsPath = "/mnt/batch/tasks/mounts"

	// HostMountsPathWindows is the Windows equivalent of HostMountsPath.
	HostMountsPathWindows = `D:\batch\tasks\mounts`

	// MetadataVersionName tags pools with the provisioning tool version.
	MetadataVersionName = "SKIFF_VERSION"
)

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
