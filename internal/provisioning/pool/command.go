package pool

import (
	"fmt"
	"strings"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/provisioning/mounts"
)

// Bootstrap script names staged onto every node. The node-side scripts are
// externally supplied artifacts; their flag parsers fix the order in which
// flags may appear.
const (
	nodePrepScript            = "skiff_nodeprep.sh"
	nodePrepCustomImageScript = "skiff_nodeprep_customimage.sh"
	nodePrepNativeScript      = "skiff_nodeprep_nativedocker.sh"
	nodePrepWindowsScript     = "skiff_nodeprep.ps1"
)

// transferToolVersion pins the file transfer tool installed on nodes.
const transferToolVersion = "1.9.4"

// commandState carries everything the flag table reads when rendering the
// bootstrap invocation.
type commandState struct {
	cfg          *config.Config
	artifacts    *mounts.Artifacts
	gpuEnv       string
	preload      string
	torrentFlags string
	version      string
}

// flagEntry is one conditional fragment of the bootstrap command line. The
// declared order of entries is part of the contract with the node-side
// script's positional flag parser.
type flagEntry struct {
	flag    string
	enabled func(*commandState) bool
	value   func(*commandState) string
}

func boolFlag(flag string, enabled func(*commandState) bool) flagEntry {
	return flagEntry{flag: flag, enabled: enabled}
}

func valueFlag(flag string, value func(*commandState) string) flagEntry {
	return flagEntry{
		flag:    flag,
		enabled: func(s *commandState) bool { return value(s) != "" },
		value:   value,
	}
}

// The individual flag fragments, shared across script variants.
var (
	flagFileMounts = boolFlag("-a", func(s *commandState) bool { return s.artifacts.HasFileMounts() })
	// presence-only; the preload list itself travels via the environment
	flagBlockLoad  = boolFlag("-b", func(s *commandState) bool { return s.cfg.Fleet.BlockUntilImagesLoaded && s.preload != "" })
	flagBlobMounts = boolFlag("-c", func(s *commandState) bool { return s.artifacts.HasBlobMounts() })
	flagRuntimeImg = boolFlag("-d", func(s *commandState) bool { return s.cfg.Fleet.ContainerRuntimeImage })
	flagEncrypt    = valueFlag("-e", func(s *commandState) string {
		if s.cfg.Encryption == nil {
			return ""
		}
		return s.cfg.Encryption.Thumbprint
	})
	flagGluster = boolFlag("-f", func(s *commandState) bool {
		return len(s.cfg.Fleet.VolumesOfKind(config.VolumeGlusterOnCompute)) > 0
	})
	flagGPU = valueFlag("-g", func(s *commandState) string { return s.gpuEnv })
	flagSC  = valueFlag("-m", func(s *commandState) string { return strings.Join(s.artifacts.ClusterArgs, ",") })
	flagTCP = boolFlag("-n", func(s *commandState) bool { return config.CanTuneTCP(s.cfg.Fleet.VMSize) })
	flagOffer = valueFlag("-o", func(s *commandState) string {
		if s.cfg.Fleet.PlatformImage == nil {
			return ""
		}
		return s.cfg.Fleet.PlatformImage.Offer
	})
	flagPrefix = valueFlag("-p", func(s *commandState) string { return s.cfg.Storage.EntityPrefix })
	flagSku    = valueFlag("-s", func(s *commandState) string {
		if s.cfg.Fleet.PlatformImage == nil {
			return ""
		}
		return s.cfg.Fleet.PlatformImage.Sku
	})
	flagTorrent  = valueFlag("-t", func(s *commandState) string { return s.torrentFlags })
	flagVersion  = valueFlag("-v", func(s *commandState) string { return s.version })
	flagHPN      = boolFlag("-w", func(s *commandState) bool { return s.cfg.Fleet.SSH != nil && s.cfg.Fleet.SSH.HPNServerSwap })
	flagTransfer = valueFlag("-x", func(s *commandState) string { return transferToolVersion })
)

// Flag tables per script variant, in the exact order the scripts parse.
var (
	fullFlags = []flagEntry{
		flagFileMounts, flagBlockLoad, flagBlobMounts, flagRuntimeImg,
		flagEncrypt, flagGluster, flagGPU, flagSC, flagTCP, flagOffer,
		flagPrefix, flagSku, flagTorrent, flagVersion, flagHPN, flagTransfer,
	}
	customImageFlags = []flagEntry{
		flagFileMounts, flagBlockLoad, flagBlobMounts, flagEncrypt,
		flagGluster, flagSC, flagTCP, flagPrefix, flagTorrent, flagVersion,
		flagTransfer,
	}
	nativeFlags = []flagEntry{
		flagFileMounts, flagBlobMounts, flagEncrypt, flagGluster, flagSC,
		flagTCP, flagVersion, flagTransfer,
	}
	windowsFlags = []flagEntry{
		flagFileMounts, flagEncrypt, flagVersion, flagTransfer,
	}
)

// renderCommand produces the single bootstrap invocation for a script and
// its flag table. Deterministic: the same state renders byte-identically.
func renderCommand(script string, flags []flagEntry, s *commandState) string {
	var b strings.Builder
	b.WriteString(script)
	for _, entry := range flags {
		if !entry.enabled(s) {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(entry.flag)
		if entry.value != nil {
			if v := entry.value(s); v != "" {
				b.WriteByte(' ')
				b.WriteString(v)
			}
		}
	}
	return b.String()
}

// torrentFlags renders the peer-to-peer descriptor passed via -t.
func torrentFlags(cfg *config.Config) string {
	var p2p config.PeerToPeer
	concurrent := 0
	if cfg.DataReplication != nil {
		p2p = cfg.DataReplication.PeerToPeer
		concurrent = cfg.DataReplication.ConcurrentSourceDownloads
	}
	return fmt.Sprintf("%t:%d:%d:%t",
		p2p.Enabled, concurrent, p2p.DirectDownloadSeedBias, p2p.Compression)
}

// wrapCommandsInShell joins bootstrap commands into a single start task
// command line.
func wrapCommandsInShell(cmds []string, windows bool) string {
	if windows {
		return fmt.Sprintf("cmd.exe /c \"%s\"", strings.Join(cmds, " && "))
	}
	return fmt.Sprintf("/bin/bash -c 'set -e; set -o pipefail; %s'", strings.Join(cmds, "; "))
}
