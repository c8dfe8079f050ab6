package handlers

import (
	"context"
	"fmt"
	"os"
)

// KeyvaultAdd stores the fleet configuration file as a vault secret and
// prints the created secret id.
func KeyvaultAdd(ctx context.Context, configPath, name string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := newSecretStore(cfg)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config for upload: %w", err)
	}
	id, err := store.SetSecret(ctx, name, string(data), map[string]string{
		"fleet": cfg.Fleet.ID,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// KeyvaultDel deletes a vault secret.
func KeyvaultDel(ctx context.Context, configPath, name string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := newSecretStore(cfg)
	if err != nil {
		return err
	}
	return store.DeleteSecret(ctx, name)
}

// KeyvaultList prints the names of every secret in the vault.
func KeyvaultList(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := newSecretStore(cfg)
	if err != nil {
		return err
	}
	names, err := store.ListSecrets(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
