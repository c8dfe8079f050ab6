package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/skiffhq/skiff/internal/provisioning"
	"github.com/skiffhq/skiff/internal/provisioning/coordination"
)

// ImagesUpdateOptions narrows an image refresh.
type ImagesUpdateOptions struct {
	ConfigPath   string
	ResourcesDir string
	Image        string
	Digest       string
	ForceSSH     bool
}

// ImagesUpdate re-pulls container images on every pool node.
func ImagesUpdate(ctx context.Context, opts ImagesUpdateOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	fleet, err := newFleetClient(cfg)
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}
	coordinator := newCoordinator(fleet, store,
		provisioning.NewLogrusObserver(logrus.StandardLogger()), opts.ResourcesDir)
	return coordinator.RefreshImages(ctx, cfg, coordination.ImageRefreshOptions{
		Image:    opts.Image,
		Digest:   opts.Digest,
		ForceSSH: opts.ForceSSH,
	})
}
