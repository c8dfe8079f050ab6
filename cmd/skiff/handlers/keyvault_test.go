package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/keyvault"
)

func TestKeyvaultAddStoresConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fleet:\n  id: testfleet\n"), 0o600))

	stubClients(t, handlerConfig(), handlerFleet())
	var gotName, gotValue string
	var gotTags map[string]string
	orig := newSecretStore
	newSecretStore = func(cfg *config.Config) (keyvault.SecretStore, error) {
		return &keyvault.MockStore{
			SetSecretFunc: func(ctx context.Context, name, value string, tags map[string]string) (string, error) {
				gotName, gotValue, gotTags = name, value, tags
				return "https://vault/secrets/" + name, nil
			},
		}, nil
	}
	t.Cleanup(func() { newSecretStore = orig })

	err := KeyvaultAdd(context.Background(), path, "fleetconf")
	require.NoError(t, err)
	assert.Equal(t, "fleetconf", gotName)
	assert.Contains(t, gotValue, "id: testfleet")
	assert.Equal(t, map[string]string{"fleet": "testfleet"}, gotTags)
}

func TestKeyvaultDelDeletesSecret(t *testing.T) {
	stubClients(t, handlerConfig(), handlerFleet())
	var deleted string
	orig := newSecretStore
	newSecretStore = func(cfg *config.Config) (keyvault.SecretStore, error) {
		return &keyvault.MockStore{
			DeleteSecretFunc: func(ctx context.Context, name string) error {
				deleted = name
				return nil
			},
		}, nil
	}
	t.Cleanup(func() { newSecretStore = orig })

	err := KeyvaultDel(context.Background(), "fleet.yaml", "fleetconf")
	require.NoError(t, err)
	assert.Equal(t, "fleetconf", deleted)
}
