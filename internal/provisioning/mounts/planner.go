// Package mounts derives the shared-data-volume bootstrap artifacts for a
// fleet: blobfuse mount scripts, file share mount commands, and fstab
// entries for remote storage clusters.
package mounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/arm"
	"github.com/skiffhq/skiff/internal/provisioning"
	"github.com/skiffhq/skiff/internal/provisioning/subnet"
)

// MountError reports that bootstrap artifacts could not be produced for a
// declared volume.
type MountError struct {
	Volume  string
	Message string
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount: volume %s: %s", e.Volume, e.Message)
}

func mountErr(volume, format string, args ...interface{}) *MountError {
	return &MountError{Volume: volume, Message: fmt.Sprintf(format, args...)}
}

// Artifacts is everything the pool builder needs to wire declared volumes
// into the node bootstrap.
type Artifacts struct {
	// BlobMountScript is the generated shell script mounting every blobfuse
	// volume. Empty when no blob volumes are declared.
	BlobMountScript string
	// FileMountScript mounts every file share; shell or cmd depending on
	// the target platform.
	FileMountScript string
	// FstabMounts holds one fstab line per storage cluster volume.
	FstabMounts []string
	// ClusterArgs holds the matching <fstype>:<cluster-id> bootstrap
	// arguments, in the same order as FstabMounts.
	ClusterArgs []string
}

// HasBlobMounts reports whether a blob mount script was generated.
func (a *Artifacts) HasBlobMounts() bool { return a.BlobMountScript != "" }

// HasFileMounts reports whether a file share mount script was generated.
func (a *Artifacts) HasFileMounts() bool { return a.FileMountScript != "" }

// Planner derives mount artifacts from the declared shared data volumes.
type Planner struct {
	Compute  arm.ComputeDirectory
	Observer provisioning.Observer
}

// NewPlanner creates a planner over the given compute directory.
func NewPlanner(compute arm.ComputeDirectory, observer provisioning.Observer) *Planner {
	return &Planner{Compute: compute, Observer: observer}
}

// Plan produces the mount artifacts for every declared volume. Storage
// cluster volumes need the fleet's resolved subnet id for the virtual
// network identity cross-check.
func (p *Planner) Plan(ctx context.Context, cfg *config.Config, subnetID string) (*Artifacts, error) {
	out := &Artifacts{}
	isWindows := cfg.Fleet.IsWindows()

	if vols := cfg.Fleet.VolumesOfKind(config.VolumeBlobFuse); len(vols) > 0 {
		script, err := p.blobMountScript(cfg, vols)
		if err != nil {
			return nil, err
		}
		out.BlobMountScript = script
	}
	if vols := cfg.Fleet.VolumesOfKind(config.VolumeFileShare); len(vols) > 0 {
		script, err := p.fileMountScript(cfg, vols, isWindows)
		if err != nil {
			return nil, err
		}
		out.FileMountScript = script
	}
	for _, vol := range cfg.Fleet.VolumesOfKind(config.VolumeStorageCluster) {
		fstab, arg, err := p.clusterMountArgs(ctx, cfg, vol, subnetID)
		if err != nil {
			return nil, err
		}
		out.FstabMounts = append(out.FstabMounts, fstab)
		out.ClusterArgs = append(out.ClusterArgs, arg)
	}
	return out, nil
}

// blobMountScript emits one blobfuse invocation per blob volume, each with
// its credentials config file and cache directories.
func (p *Planner) blobMountScript(cfg *config.Config, vols []config.VolumeSpec) (string, error) {
	var cmds []string
	for _, vol := range vols {
		sa, ok := cfg.StorageAccountForLink(vol.StorageAccountLink)
		if !ok {
			return "", mountErr(vol.Name, "unknown storage account link %q", vol.StorageAccountLink)
		}
		hmp := BlobHostMountPath(sa.Account, vol.Container)
		tmp := fmt.Sprintf("%s/blobfuse-tmp/%s-%s", config.TempDiskMountPoint, sa.Account, vol.Container)
		conn := fmt.Sprintf("azblob-%s-%s.cfg", sa.Account, vol.Container)
		cmds = append(cmds,
			"mkdir -p "+hmp,
			"chmod 0770 "+hmp,
			"mkdir -p "+tmp,
			"chown _azbatch:_azbatchgrp "+tmp,
			"chmod 0770 "+tmp,
			"cat > "+conn+" << EOF",
			"accountName "+sa.Account,
			"accountKey "+sa.Key,
			"containerName "+vol.Container,
			"EOF",
		)
		cmd := fmt.Sprintf(
			"blobfuse %s --tmp-path=%s -o attr_timeout=240 -o entry_timeout=240 "+
				"-o negative_timeout=120 -o allow_other --config-file=%s",
			hmp, tmp, conn)
		if extra := filterBlobOptions(vol.MountOptions); len(extra) > 0 {
			cmd = cmd + " " + strings.Join(extra, " ")
		}
		cmds = append(cmds, cmd)
	}
	return shellScript(cmds), nil
}

// filterBlobOptions drops a user-supplied allow_other that would collide
// with the option set unconditionally.
func filterBlobOptions(opts []string) []string {
	var out []string
	for _, opt := range opts {
		if strings.TrimSpace(opt) == "-o allow_other" {
			continue
		}
		out = append(out, opt)
	}
	return out
}

// fileMountScript emits cifs mounts on Linux and net use plus mklink on
// Windows.
func (p *Planner) fileMountScript(cfg *config.Config, vols []config.VolumeSpec, isWindows bool) (string, error) {
	var cmds []string
	for _, vol := range vols {
		sa, ok := cfg.StorageAccountForLink(vol.StorageAccountLink)
		if !ok {
			return "", mountErr(vol.Name, "unknown storage account link %q", vol.StorageAccountLink)
		}
		hmp := FileHostMountPath(sa.Account, vol.Share, isWindows)
		if isWindows {
			cmds = append(cmds, fmt.Sprintf(
				`net use \\%s.file.%s\%s %s /user:Azure\%s`,
				sa.Account, sa.Endpoint, vol.Share, sa.Key, sa.Account))
			cmds = append(cmds, fmt.Sprintf(
				`mklink /d %s \\%s.file.%s\%s`,
				hmp, sa.Account, sa.Endpoint, vol.Share))
			continue
		}
		cmd := fmt.Sprintf(
			"mount -t cifs //%s.file.%s/%s %s -o vers=3.0,username=%s,password=%s,serverino",
			sa.Account, sa.Endpoint, vol.Share, hmp, sa.Account, sa.Key)
		if opts := translateFileOptions(vol.MountOptions); len(opts) > 0 {
			cmd = cmd + "," + strings.Join(opts, ",")
		}
		cmds = append(cmds, "mkdir -p "+hmp, cmd)
	}
	if isWindows {
		return batchScript(cmds), nil
	}
	return shellScript(cmds), nil
}

// translateFileOptions rewrites the legacy filemode/dirmode option names
// kept for compatibility with the old file share volume driver.
func translateFileOptions(opts []string) []string {
	var out []string
	for _, opt := range opts {
		name, value, found := strings.Cut(opt, "=")
		switch {
		case found && name == "filemode":
			out = append(out, "file_mode="+value)
		case found && name == "dirmode":
			out = append(out, "dir_mode="+value)
		default:
			out = append(out, opt)
		}
	}
	return out
}

// clusterMountArgs produces the fstab line and bootstrap argument for one
// remote storage cluster volume.
func (p *Planner) clusterMountArgs(ctx context.Context, cfg *config.Config, vol config.VolumeSpec, subnetID string) (string, string, error) {
	if subnetID == "" {
		return "", "", mountErr(vol.Name,
			"cannot mount a storage cluster without a valid virtual network or subnet")
	}
	rc, ok := cfg.RemoteClusters[vol.ClusterID]
	if !ok {
		return "", "", mountErr(vol.Name, "no storage cluster %s found in configuration", vol.ClusterID)
	}
	sid, err := subnet.ParseID(subnetID)
	if err != nil {
		return "", "", mountErr(vol.Name, "%v", err)
	}
	if !strings.EqualFold(sid.VirtualNetwork, rc.VirtualNetwork.Name) {
		return "", "", mountErr(vol.Name,
			"cannot link storage cluster %s on virtual network %s with pool virtual network %s",
			vol.ClusterID, rc.VirtualNetwork.Name, sid.VirtualNetwork)
	}
	if !strings.EqualFold(sid.ResourceGroup, rc.VirtualNetwork.ResourceGroup) {
		return "", "", mountErr(vol.Name,
			"cannot link storage cluster %s virtual network in resource group %s with pool virtual network in resource group %s",
			vol.ClusterID, rc.VirtualNetwork.ResourceGroup, sid.ResourceGroup)
	}
	if rc.VirtualNetwork.Subscription != "" &&
		!strings.EqualFold(sid.Subscription, rc.VirtualNetwork.Subscription) {
		return "", "", mountErr(vol.Name,
			"cannot link storage cluster %s virtual network in subscription %s with pool virtual network in subscription %s",
			vol.ClusterID, rc.VirtualNetwork.Subscription, sid.Subscription)
	}
	if rc.VMCount < 1 {
		return "", "", mountErr(vol.Name, "storage cluster %s vm_count %d is invalid", vol.ClusterID, rc.VMCount)
	}

	var fstab string
	switch rc.FileServer.Type {
	case "nfs":
		fstab, err = p.nfsMount(ctx, vol, rc)
	case "glusterfs":
		fstab, err = p.glusterMount(ctx, vol, rc)
	default:
		err = mountErr(vol.Name, "cannot handle file_server type %s for storage cluster %s",
			rc.FileServer.Type, vol.ClusterID)
	}
	if err != nil {
		return "", "", err
	}
	return fstab, fmt.Sprintf("%s:%s", rc.FileServer.Type, vol.ClusterID), nil
}

// nfsMount resolves the first cluster node's private IP and emits one fstab
// line for an NFS export.
func (p *Planner) nfsMount(ctx context.Context, vol config.VolumeSpec, rc config.RemoteClusterSpec) (string, error) {
	inst, err := p.Compute.GetInstance(ctx, rc.ResourceGroup, clusterVMName(rc, 0))
	if err != nil {
		return "", mountErr(vol.Name, "failed to resolve cluster node: %v", err)
	}
	opts := "_netdev,auto,nfsvers=4,intr"
	if len(vol.MountOptions) > 0 {
		for _, opt := range vol.MountOptions {
			switch {
			case opt == "udp":
				return "", mountErr(vol.Name,
					"udp cannot be specified as a mount option for storage cluster %s", vol.ClusterID)
			case strings.HasPrefix(opt, "nfsvers="):
				return "", mountErr(vol.Name,
					"nfsvers cannot be specified as a mount option for storage cluster %s", vol.ClusterID)
			case strings.HasPrefix(opt, "port="):
				return "", mountErr(vol.Name,
					"port cannot be specified as a mount option for storage cluster %s", vol.ClusterID)
			}
		}
		opts = opts + "," + strings.Join(vol.MountOptions, ",")
	}
	return fstabLine(inst.PrivateIP, rc.FileServer.Mountpoint, vol.ClusterID, rc.FileServer.Type, opts), nil
}

// glusterMount resolves every cluster node, picks a primary plus a backup
// in differing fault and update domains, and emits one fstab line for the
// gluster volume.
func (p *Planner) glusterMount(ctx context.Context, vol config.VolumeSpec, rc config.RemoteClusterSpec) (string, error) {
	instances := make([]*arm.Instance, 0, rc.VMCount)
	for i := 0; i < rc.VMCount; i++ {
		inst, err := p.Compute.GetInstance(ctx, rc.ResourceGroup, clusterVMName(rc, i))
		if err != nil {
			return "", mountErr(vol.Name, "failed to resolve cluster node %d: %v", i, err)
		}
		instances = append(instances, inst)
	}

	primary, backup := selectGlusterPair(instances)
	if primary == nil || backup == nil {
		return "", mountErr(vol.Name,
			"could not find either a primary or backup node for glusterfs client mount")
	}
	p.Observer.Printf("glusterfs primary %s (fd=%d ud=%d) backup %s (fd=%d ud=%d)",
		primary.PrivateIP, primary.FaultDomain, primary.UpdateDomain,
		backup.PrivateIP, backup.FaultDomain, backup.UpdateDomain)

	opts := fmt.Sprintf("_netdev,auto,transport=tcp,backupvolfile-server=%s", backup.PrivateIP)
	if len(vol.MountOptions) > 0 {
		for _, opt := range vol.MountOptions {
			switch {
			case strings.HasPrefix(opt, "backupvolfile-server="):
				return "", mountErr(vol.Name,
					"backupvolfile-server cannot be specified as a mount option for storage cluster %s", vol.ClusterID)
			case strings.HasPrefix(opt, "transport="):
				return "", mountErr(vol.Name,
					"transport cannot be specified as a mount option for storage cluster %s", vol.ClusterID)
			}
		}
		opts = opts + "," + strings.Join(vol.MountOptions, ",")
	}
	// srcpath is the gluster volume name, not a filesystem path
	return fstabLine(primary.PrivateIP, "/"+rc.FileServer.VolumeName, vol.ClusterID, rc.FileServer.Type, opts), nil
}

// selectGlusterPair picks the first node as primary and a backup whose
// fault and update domains both differ. When no such node exists, it falls
// back to the first node with a differing update domain only.
func selectGlusterPair(instances []*arm.Instance) (primary, backup *arm.Instance) {
	if len(instances) == 0 {
		return nil, nil
	}
	primary = instances[0]
	for _, inst := range instances[1:] {
		if inst.UpdateDomain == primary.UpdateDomain || inst.FaultDomain == primary.FaultDomain {
			continue
		}
		return primary, inst
	}
	for _, inst := range instances[1:] {
		if inst.UpdateDomain != primary.UpdateDomain {
			return primary, inst
		}
	}
	return primary, nil
}

func clusterVMName(rc config.RemoteClusterSpec, index int) string {
	return fmt.Sprintf("%s%d", rc.VMNamePrefix, index)
}

func fstabLine(remote, srcPath, clusterID, fsType, opts string) string {
	return fmt.Sprintf("%s:%s %s/%s %s %s 0 2",
		remote, srcPath, config.HostMountsPath, clusterID, fsType, opts)
}

// BlobHostMountPath is where a blobfuse volume appears on the node.
func BlobHostMountPath(account, container string) string {
	return fmt.Sprintf("%s/azblob-%s-%s", config.HostMountsPath, account, container)
}

// FileHostMountPath is where a file share appears on the node.
func FileHostMountPath(account, share string, isWindows bool) string {
	if isWindows {
		return fmt.Sprintf(`%s\azfile-%s-%s`, config.HostMountsPathWindows, account, share)
	}
	return fmt.Sprintf("%s/azfile-%s-%s", config.HostMountsPath, account, share)
}

func shellScript(cmds []string) string {
	lines := append([]string{"#!/usr/bin/env bash", "set -e", "set -o pipefail"}, cmds...)
	return strings.Join(lines, "\n") + "\n"
}

func batchScript(cmds []string) string {
	lines := append([]string{"@echo off"}, cmds...)
	return strings.Join(lines, "\r\n") + "\r\n"
}
