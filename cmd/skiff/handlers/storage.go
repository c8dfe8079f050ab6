package handlers

import (
	"context"
	"fmt"
	"path"

	"github.com/sirupsen/logrus"
)

// StorageDel removes every resource blob staged for the fleet.
func StorageDel(ctx context.Context, configPath string, assumeYes bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	prefix := path.Join(cfg.Storage.EntityPrefix, cfg.Fleet.ID)
	names, err := store.List(cfg.Storage.Container, prefix)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		logrus.Infof("no staged blobs under %s/%s", cfg.Storage.Container, prefix)
		return nil
	}
	prompt := fmt.Sprintf("delete %d staged blobs under %s/%s", len(names), cfg.Storage.Container, prefix)
	if !confirmWith(assumeYes)(prompt) {
		return fmt.Errorf("storage deletion declined")
	}
	for _, name := range names {
		if err := store.Delete(cfg.Storage.Container, name); err != nil {
			return fmt.Errorf("deleting blob %s: %w", name, err)
		}
	}
	logrus.Infof("deleted %d staged blobs", len(names))
	return nil
}
