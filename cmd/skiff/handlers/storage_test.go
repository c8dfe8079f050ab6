package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/blob"
)

func stubBlobStore(t *testing.T, store *blob.MockStore) {
	t.Helper()
	orig := newBlobStore
	newBlobStore = func(cfg *config.Config) (blob.Store, error) {
		return store, nil
	}
	t.Cleanup(func() { newBlobStore = orig })
}

func TestStorageDelRemovesStagedBlobs(t *testing.T) {
	stubClients(t, handlerConfig(), handlerFleet())
	var deleted []string
	stubBlobStore(t, &blob.MockStore{
		ListFunc: func(container, prefix string) ([]string, error) {
			assert.Equal(t, "skiff", container)
			assert.Equal(t, "skiff/testfleet", prefix)
			return []string{"skiff/testfleet/skiff_nodeprep.sh", "skiff/testfleet/skiff_blobmount.sh"}, nil
		},
		DeleteFunc: func(container, name string) error {
			deleted = append(deleted, name)
			return nil
		},
	})

	err := StorageDel(context.Background(), "fleet.yaml", true)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
}

func TestStorageDelNothingStaged(t *testing.T) {
	stubClients(t, handlerConfig(), handlerFleet())
	stubBlobStore(t, &blob.MockStore{
		ListFunc: func(container, prefix string) ([]string, error) {
			return nil, nil
		},
		DeleteFunc: func(container, name string) error {
			t.Fatal("nothing should be deleted")
			return nil
		},
	})

	err := StorageDel(context.Background(), "fleet.yaml", true)
	require.NoError(t, err)
}

func TestStorageDelDeclined(t *testing.T) {
	stubClients(t, handlerConfig(), handlerFleet())
	stubBlobStore(t, &blob.MockStore{
		ListFunc: func(container, prefix string) ([]string, error) {
			return []string{"skiff/testfleet/skiff_nodeprep.sh"}, nil
		},
	})
	stubStdin(t, "\n")

	err := StorageDel(context.Background(), "fleet.yaml", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declined")
}
