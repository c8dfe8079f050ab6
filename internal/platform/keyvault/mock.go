package keyvault

import "context"

// MockStore is a mock implementation of SecretStore.
type MockStore struct {
	GetSecretFunc    func(ctx context.Context, name string) (string, error)
	SetSecretFunc    func(ctx context.Context, name, value string, tags map[string]string) (string, error)
	DeleteSecretFunc func(ctx context.Context, name string) error
	ListSecretsFunc  func(ctx context.Context) ([]string, error)
}

// Ensure interface compliance
var _ SecretStore = (*MockStore)(nil)

// GetSecret mocks a secret read.
func (m *MockStore) GetSecret(ctx context.Context, name string) (string, error) {
	if m.GetSecretFunc != nil {
		return m.GetSecretFunc(ctx, name)
	}
	return "", nil
}

// SetSecret mocks a secret write.
func (m *MockStore) SetSecret(ctx context.Context, name, value string, tags map[string]string) (string, error) {
	if m.SetSecretFunc != nil {
		return m.SetSecretFunc(ctx, name, value, tags)
	}
	return "https://mock.vault.azure.net/secrets/" + name, nil
}

// DeleteSecret mocks secret deletion.
func (m *MockStore) DeleteSecret(ctx context.Context, name string) error {
	if m.DeleteSecretFunc != nil {
		return m.DeleteSecretFunc(ctx, name)
	}
	return nil
}

// ListSecrets mocks secret enumeration.
func (m *MockStore) ListSecrets(ctx context.Context) ([]string, error) {
	if m.ListSecretsFunc != nil {
		return m.ListSecretsFunc(ctx)
	}
	return nil, nil
}
