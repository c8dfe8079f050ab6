package blob

import (
	"io"
	"time"
)

// MockStore is a mock implementation of Store.
type MockStore struct {
	EnsureContainerFunc func(container string) error
	UploadFunc          func(container, name string, r io.Reader) error
	SignedURLFunc       func(container, name string, lifetime time.Duration) (string, error)
	DeleteFunc          func(container, name string) error
	ListFunc            func(container, prefix string) ([]string, error)
}

// Ensure interface compliance
var _ Store = (*MockStore)(nil)

// EnsureContainer mocks container creation.
func (m *MockStore) EnsureContainer(container string) error {
	if m.EnsureContainerFunc != nil {
		return m.EnsureContainerFunc(container)
	}
	return nil
}

// Upload mocks a blob upload.
func (m *MockStore) Upload(container, name string, r io.Reader) error {
	if m.UploadFunc != nil {
		return m.UploadFunc(container, name, r)
	}
	return nil
}

// SignedURL mocks SAS signing with a stable fake URL.
func (m *MockStore) SignedURL(container, name string, lifetime time.Duration) (string, error) {
	if m.SignedURLFunc != nil {
		return m.SignedURLFunc(container, name, lifetime)
	}
	return "https://mock.blob.core.windows.net/" + container + "/" + name + "?sig=mock", nil
}

// Delete mocks blob deletion.
func (m *MockStore) Delete(container, name string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(container, name)
	}
	return nil
}

// List mocks blob listing.
func (m *MockStore) List(container, prefix string) ([]string, error) {
	if m.ListFunc != nil {
		return m.ListFunc(container, prefix)
	}
	return nil, nil
}
