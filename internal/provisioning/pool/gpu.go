package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/skiffhq/skiff/internal/config"
)

// driverPackage pins one NVIDIA driver download. The checksum guards the
// cache and the download alike.
type driverPackage struct {
	URL        string
	SHA256     string
	LicenseURL string
}

// Driver packages by GPU class. Compute-class (tesla) covers the NC/ND
// lines, visualization-class (grid) covers NV.
var nvidiaDrivers = map[string]driverPackage{
	"tesla": {
		URL:        "https://download.nvidia.com/tesla/418.87/NVIDIA-Linux-x86_64-418.87.01.run",
		SHA256:     "9a40c611d41a27d171ef78ffca7b8a25b9ab5a1aa9eef1a784918dac9b5bd7fd",
		LicenseURL: "https://www.nvidia.com/object/nv_swlicense.html",
	},
	"grid": {
		URL:        "https://download.microsoft.com/download/1/a/5/1a537cae-5b52-4348-acd2-2f210fc412b0/NVIDIA-Linux-x86_64-430.46-grid.run",
		SHA256:     "2e8fe83f7e79b1e4e3d0f98401e14d1ca5cc571fd2f9561d7b0f5e6aab0b51b9",
		LicenseURL: "https://www.nvidia.com/object/nv_swlicense.html",
	},
}

func gpuClass(vmSize string) string {
	if config.IsGPUVisualizationVMSize(vmSize) {
		return "grid"
	}
	return "tesla"
}

// ensureGPUDriver resolves the driver package for a GPU fleet: either the
// operator-supplied URL is referenced directly, or the pinned default is
// downloaded into the cache after a one-time license confirmation. Returns
// the driver file name and the URL (or cached local path) to stage.
func (b *Builder) ensureGPUDriver(ctx context.Context, cfg *config.Config) (name, source string, local bool, err error) {
	if cfg.Fleet.GPUDriverURL != "" {
		return filepath.Base(cfg.Fleet.GPUDriverURL), cfg.Fleet.GPUDriverURL, false, nil
	}

	pkg, ok := nvidiaDrivers[gpuClass(cfg.Fleet.VMSize)]
	if !ok {
		return "", "", false, buildErr("gpu driver", "no driver package for vm size %s", cfg.Fleet.VMSize)
	}
	name = filepath.Base(pkg.URL)
	cached := filepath.Join(b.CacheDir, name)

	if sum, err := fileSHA256(cached); err == nil && sum == pkg.SHA256 {
		return name, cached, true, nil
	}

	prompt := fmt.Sprintf(
		"downloading %s requires accepting the license at %s; accept?",
		name, pkg.LicenseURL)
	if b.Confirm == nil || !b.Confirm(prompt) {
		return "", "", false, buildErr("gpu driver", "driver license not accepted for %s", name)
	}
	if err := downloadFile(ctx, pkg.URL, cached); err != nil {
		return "", "", false, buildErr("gpu driver", "download failed: %v", err)
	}
	sum, err := fileSHA256(cached)
	if err != nil {
		return "", "", false, buildErr("gpu driver", "checksum failed: %v", err)
	}
	if sum != pkg.SHA256 {
		os.Remove(cached)
		return "", "", false, buildErr("gpu driver",
			"checksum mismatch for %s: got %s want %s", name, sum, pkg.SHA256)
	}
	return name, cached, true, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func downloadFile(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s fetching %s", resp.Status, url)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}
