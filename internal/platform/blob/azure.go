package blob

import (
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/storage"
)

// AzureStore implements Store against an Azure storage account.
type AzureStore struct {
	svc storage.BlobStorageClient
}

// NewAzureStore authenticates with the storage account's shared key.
func NewAzureStore(account, key string) (*AzureStore, error) {
	client, err := storage.NewBasicClient(account, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client for %s: %w", account, err)
	}
	return &AzureStore{svc: client.GetBlobService()}, nil
}

// EnsureContainer creates the container when missing.
func (s *AzureStore) EnsureContainer(container string) error {
	cont := s.svc.GetContainerReference(container)
	if _, err := cont.CreateIfNotExists(&storage.CreateContainerOptions{}); err != nil {
		return fmt.Errorf("failed to create container %s: %w", container, err)
	}
	return nil
}

// Upload writes the blob as a block blob, replacing existing content.
func (s *AzureStore) Upload(container, name string, r io.Reader) error {
	b := s.svc.GetContainerReference(container).GetBlobReference(name)
	if err := b.CreateBlockBlobFromReader(r, nil); err != nil {
		return fmt.Errorf("failed to upload blob %s/%s: %w", container, name, err)
	}
	return nil
}

// SignedURL returns a read-only SAS URL valid for the given lifetime.
func (s *AzureStore) SignedURL(container, name string, lifetime time.Duration) (string, error) {
	b := s.svc.GetContainerReference(container).GetBlobReference(name)
	opts := storage.BlobSASOptions{
		BlobServiceSASPermissions: storage.BlobServiceSASPermissions{Read: true},
		SASOptions: storage.SASOptions{
			Start:  time.Now().Add(-5 * time.Minute),
			Expiry: time.Now().Add(lifetime),
		},
	}
	url, err := b.GetSASURI(opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign blob %s/%s: %w", container, name, err)
	}
	return url, nil
}

// Delete removes the blob if present.
func (s *AzureStore) Delete(container, name string) error {
	b := s.svc.GetContainerReference(container).GetBlobReference(name)
	if _, err := b.DeleteIfExists(nil); err != nil {
		return fmt.Errorf("failed to delete blob %s/%s: %w", container, name, err)
	}
	return nil
}

// List returns blob names under the prefix, following continuation markers.
func (s *AzureStore) List(container, prefix string) ([]string, error) {
	cont := s.svc.GetContainerReference(container)
	params := storage.ListBlobsParameters{Prefix: prefix}
	var names []string
	for {
		resp, err := cont.ListBlobs(params)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs in %s: %w", container, err)
		}
		for _, b := range resp.Blobs {
			names = append(names, b.Name)
		}
		if resp.NextMarker == "" {
			return names, nil
		}
		params.Marker = resp.NextMarker
	}
}
