// Package pool assembles pool creation requests: image and node agent
// selection, bootstrap command composition, resource staging and the start
// task environment.
package pool

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/blob"
	"github.com/skiffhq/skiff/internal/provisioning"
	"github.com/skiffhq/skiff/internal/provisioning/mounts"
)

// Staged blob names for generated mount scripts.
const (
	blobMountScriptName = "skiff_blobmount.sh"
	fileMountScriptName = "skiff_filemount.sh"
	fileMountScriptBat  = "skiff_filemount.bat"
)

// resourceSASLifetime covers node resource file downloads. Nodes can be
// reimaged long after pool creation and refetch every resource file.
const resourceSASLifetime = 30 * 24 * time.Hour

// Environment variables consumed by the node-side bootstrap scripts.
const (
	envStorageAccount = "SKIFF_STORAGE_ENV"
	envClusterFstab   = "SKIFF_STORAGE_CLUSTER_FSTAB"
	envImagePreload   = "SKIFF_CONTAINER_IMAGES_PRELOAD"
	envAutopool       = "SKIFF_AUTOPOOL"
)

// Builder assembles a fully formed pool creation request. A failed build
// returns PoolBuildError and the request must be discarded; resources already
// staged remain in blob storage and are reaped by storage cleanup.
type Builder struct {
	Fleet    batch.FleetService
	Storage  blob.Store
	Observer provisioning.Observer

	// Confirm gates interactive decisions such as driver license acceptance.
	// Nil declines everything.
	Confirm func(prompt string) bool

	// Version stamps the pool metadata and the bootstrap -v flag.
	Version string

	// ResourcesDir holds the node bootstrap scripts shipped with the tool.
	ResourcesDir string

	// CacheDir caches downloaded GPU driver packages between runs.
	CacheDir string
}

// Build assembles the pool creation request from the normalized fleet
// specification, the planned subnet and the mount artifacts. Mount artifacts
// may be nil when no shared data volumes are declared.
func (b *Builder) Build(ctx context.Context, cfg *config.Config, subnetID string, artifacts *mounts.Artifacts) (*batch.PoolRequest, error) {
	start := time.Now()
	if artifacts == nil {
		artifacts = &mounts.Artifacts{}
	}
	windows := cfg.Fleet.IsWindows()
	provisioning.LogPhaseStart(b.Observer, "pool request build")

	if err := b.installCertificate(ctx, cfg); err != nil {
		return nil, err
	}

	req := &batch.PoolRequest{
		ID:                     cfg.Fleet.ID,
		VMSize:                 cfg.Fleet.VMSize,
		MaxTasksPerNode:        cfg.Fleet.MaxTasksPerNode,
		InterNodeCommunication: cfg.Fleet.InterNodeCommunication,
		SubnetID:               subnetID,
		NodeFillType:           cfg.Fleet.NodeFillType,
		Native:                 cfg.Fleet.Native,
	}

	script, err := b.resolveImage(ctx, cfg, req)
	if err != nil {
		return nil, err
	}

	if cfg.Fleet.Autoscale.Enabled() {
		req.AutoScale = &batch.AutoScaleSettings{
			Formula:            cfg.Fleet.Autoscale.Formula,
			EvaluationInterval: cfg.Fleet.Autoscale.EvaluationInterval.D(),
		}
	} else {
		req.TargetDedicated = cfg.Fleet.VMCount.Dedicated
		req.TargetLowPriority = cfg.Fleet.VMCount.LowPriority
		req.ResizeTimeout = cfg.Fleet.ResizeTimeout.D()
	}

	state := &commandState{
		cfg:          cfg,
		artifacts:    artifacts,
		preload:      strings.Join(cfg.GlobalResources.ContainerImages, ","),
		torrentFlags: torrentFlags(cfg),
		version:      b.Version,
	}

	var resources []batch.ResourceFile
	stage := func(name string, upload func(container, blobName string) error) (batch.ResourceFile, error) {
		blobName := b.blobName(cfg, name)
		if err := upload(cfg.Storage.Container, blobName); err != nil {
			return batch.ResourceFile{}, buildErr("resource upload", "staging %s: %v", name, err)
		}
		url, err := b.Storage.SignedURL(cfg.Storage.Container, blobName, resourceSASLifetime)
		if err != nil {
			return batch.ResourceFile{}, buildErr("resource upload", "signing %s: %v", name, err)
		}
		return batch.ResourceFile{FilePath: name, URL: url, FileMode: "0755"}, nil
	}

	if err := b.Storage.EnsureContainer(cfg.Storage.Container); err != nil {
		return nil, buildErr("resource upload", "ensuring container %s: %v", cfg.Storage.Container, err)
	}

	rf, err := stage(script, func(container, blobName string) error {
		return b.uploadLocalFile(container, blobName, filepath.Join(b.ResourcesDir, script))
	})
	if err != nil {
		return nil, err
	}
	resources = append(resources, rf)

	if artifacts.HasBlobMounts() {
		rf, err := b.stageGenerated(cfg, blobMountScriptName, artifacts.BlobMountScript, stage)
		if err != nil {
			return nil, err
		}
		resources = append(resources, rf)
	}
	if artifacts.HasFileMounts() {
		name := fileMountScriptName
		if windows {
			name = fileMountScriptBat
		}
		rf, err := b.stageGenerated(cfg, name, artifacts.FileMountScript, stage)
		if err != nil {
			return nil, err
		}
		resources = append(resources, rf)
	}

	if config.IsGPUVMSize(cfg.Fleet.VMSize) && !windows {
		name, source, local, err := b.ensureGPUDriver(ctx, cfg)
		if err != nil {
			return nil, err
		}
		state.gpuEnv = fmt.Sprintf("%t:%s", config.IsGPUVisualizationVMSize(cfg.Fleet.VMSize), name)
		if local {
			rf, err := stage(name, func(container, blobName string) error {
				return b.uploadLocalFile(container, blobName, source)
			})
			if err != nil {
				return nil, err
			}
			resources = append(resources, rf)
		} else {
			resources = append(resources, batch.ResourceFile{FilePath: name, URL: source, FileMode: "0755"})
		}
	}

	for _, extra := range cfg.Fleet.ResourceFiles {
		resources = append(resources, batch.ResourceFile{
			FilePath: extra.FilePath,
			URL:      extra.URL,
			FileMode: extra.FileMode,
		})
	}

	cmd := renderCommand(script, flagsForScript(script), state)
	if windows {
		cmd = "powershell -ExecutionPolicy Unrestricted -command " + cmd
	}
	cmds := append([]string{cmd}, cfg.Fleet.AdditionalBootstrap...)

	req.StartTask = batch.StartTask{
		CommandLine:    wrapCommandsInShell(cmds, windows),
		ResourceFiles:  resources,
		Environment:    b.startTaskEnvironment(cfg, artifacts, state),
		Elevated:       true,
		WaitForSuccess: true,
		MaxRetryCount:  0,
	}

	if cfg.Encryption != nil {
		req.Certificates = append(req.Certificates, batch.CertificateReference{
			Thumbprint:     cfg.Encryption.Thumbprint,
			Algorithm:      thumbprintAlgorithm(cfg.Encryption),
			VisibleToTasks: windows,
		})
	}

	req.Metadata = append(req.Metadata, batch.MetadataItem{
		Name:  config.MetadataVersionName,
		Value: b.Version,
	})
	req.ContainerImages = cfg.GlobalResources.ContainerImages

	provisioning.LogPhaseComplete(b.Observer, "pool request build", time.Since(start))
	return req, nil
}

// BuildAutoPool assembles the job-lifetime variant of the request. The pool
// id doubles as the auto pool id prefix, which the service caps in length.
func (b *Builder) BuildAutoPool(ctx context.Context, cfg *config.Config, subnetID string, artifacts *mounts.Artifacts) (*batch.PoolRequest, error) {
	if len(cfg.Fleet.ID) > config.MaxAutopoolIDLength {
		return nil, buildErr("autopool", "pool id %q exceeds %d characters", cfg.Fleet.ID, config.MaxAutopoolIDLength)
	}
	req, err := b.Build(ctx, cfg, subnetID, artifacts)
	if err != nil {
		return nil, err
	}
	req.AutoPool = true
	req.StartTask.Environment = append(req.StartTask.Environment, batch.EnvSetting{
		Name:  envAutopool,
		Value: "1",
	})
	return req, nil
}

// resolveImage fills the request's image fields and returns the bootstrap
// script variant matching the image kind.
func (b *Builder) resolveImage(ctx context.Context, cfg *config.Config, req *batch.PoolRequest) (string, error) {
	if ci := cfg.Fleet.CustomImage; ci != nil {
		if !cfg.HasAAD() {
			return "", buildErr("image", "custom images require aad credentials")
		}
		req.CustomImageID = ci.ImageID
		req.NodeAgentID = ci.NodeAgentID
		return nodePrepCustomImageScript, nil
	}

	ref, agentID, err := SelectNodeAgent(ctx, b.Fleet, cfg.Fleet.PlatformImage)
	if err != nil {
		return "", err
	}
	req.Image = ref
	req.NodeAgentID = agentID

	switch {
	case cfg.Fleet.IsWindows():
		return nodePrepWindowsScript, nil
	case cfg.Fleet.Native:
		return nodePrepNativeScript, nil
	default:
		return nodePrepScript, nil
	}
}

func flagsForScript(script string) []flagEntry {
	switch script {
	case nodePrepCustomImageScript:
		return customImageFlags
	case nodePrepNativeScript:
		return nativeFlags
	case nodePrepWindowsScript:
		return windowsFlags
	default:
		return fullFlags
	}
}

// startTaskEnvironment builds the env settings read by the bootstrap
// scripts. The locale is always pinned; everything else is conditional.
func (b *Builder) startTaskEnvironment(cfg *config.Config, artifacts *mounts.Artifacts, state *commandState) []batch.EnvSetting {
	env := []batch.EnvSetting{{Name: "LC_ALL", Value: "en_US.UTF-8"}}
	if sa, ok := cfg.StorageAccountForLink(cfg.Storage.AccountLink); ok {
		env = append(env, batch.EnvSetting{
			Name:  envStorageAccount,
			Value: fmt.Sprintf("%s:%s:%s", sa.Account, sa.Endpoint, sa.Key),
		})
	}
	if len(artifacts.FstabMounts) > 0 {
		// One fstab line per cluster volume, joined on a separator the
		// mount options themselves can never contain.
		env = append(env, batch.EnvSetting{
			Name:  envClusterFstab,
			Value: strings.Join(artifacts.FstabMounts, "#"),
		})
	}
	if state.preload != "" {
		env = append(env, batch.EnvSetting{Name: envImagePreload, Value: state.preload})
	}
	return env
}

// installCertificate uploads the encryption certificate to the batch account
// when pfx material is configured. A thumbprint-only configuration assumes
// the certificate is already installed.
func (b *Builder) installCertificate(ctx context.Context, cfg *config.Config) error {
	enc := cfg.Encryption
	if enc == nil || enc.PfxPath == "" {
		return nil
	}
	data, err := os.ReadFile(enc.PfxPath)
	if err != nil {
		return buildErr("certificate", "reading pfx %s: %v", enc.PfxPath, err)
	}
	err = b.Fleet.AddCertificate(ctx, enc.Thumbprint, thumbprintAlgorithm(enc),
		base64.StdEncoding.EncodeToString(data), enc.PfxPassword)
	if err != nil {
		return buildErr("certificate", "installing %s: %v", enc.Thumbprint, err)
	}
	return nil
}

func thumbprintAlgorithm(enc *config.EncryptionSpec) string {
	if enc.ThumbprintAlgorithm != "" {
		return enc.ThumbprintAlgorithm
	}
	return "sha1"
}

func (b *Builder) blobName(cfg *config.Config, name string) string {
	return path.Join(cfg.Storage.EntityPrefix, cfg.Fleet.ID, name)
}

func (b *Builder) uploadLocalFile(container, blobName, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.Storage.Upload(container, blobName, f)
}

// stageGenerated writes a generated script to a temporary file, uploads it
// and removes the temporary file whether or not the upload succeeded.
func (b *Builder) stageGenerated(cfg *config.Config, name, content string, stage func(string, func(string, string) error) (batch.ResourceFile, error)) (batch.ResourceFile, error) {
	tmp, err := os.CreateTemp("", "skiff-"+name)
	if err != nil {
		return batch.ResourceFile{}, buildErr("resource upload", "temp file for %s: %v", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return batch.ResourceFile{}, buildErr("resource upload", "writing %s: %v", name, err)
	}
	if err := tmp.Close(); err != nil {
		return batch.ResourceFile{}, buildErr("resource upload", "writing %s: %v", name, err)
	}
	return stage(name, func(container, blobName string) error {
		return b.uploadLocalFile(container, blobName, tmpName)
	})
}
