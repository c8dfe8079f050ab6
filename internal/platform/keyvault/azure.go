package keyvault

import (
	"context"
	"fmt"
	"strings"

	azkeyvault "github.com/Azure/azure-sdk-for-go/services/keyvault/2016-10-01/keyvault"
	"github.com/Azure/go-autorest/autorest/azure/auth"
	"github.com/Azure/go-autorest/autorest/to"
)

// vaultResource is the AAD resource for the key vault data plane. No
// trailing slash; the service rejects the token otherwise.
const vaultResource = "https://vault.azure.net"

// AzureCredentials configures the AAD service principal for vault access.
type AzureCredentials struct {
	TenantID      string
	ApplicationID string
	AuthKey       string
	VaultURI      string
}

// AzureStore implements SecretStore against one Azure key vault.
type AzureStore struct {
	client   azkeyvault.BaseClient
	vaultURI string
}

// NewAzureStore authenticates against the key vault data plane.
func NewAzureStore(creds AzureCredentials) (*AzureStore, error) {
	cfg := auth.NewClientCredentialsConfig(creds.ApplicationID, creds.AuthKey, creds.TenantID)
	cfg.Resource = vaultResource
	authorizer, err := cfg.Authorizer()
	if err != nil {
		return nil, fmt.Errorf("failed to build vault authorizer: %w", err)
	}
	client := azkeyvault.New()
	client.Authorizer = authorizer
	return &AzureStore{client: client, vaultURI: strings.TrimSuffix(creds.VaultURI, "/")}, nil
}

// GetSecret fetches the current version of a secret.
func (s *AzureStore) GetSecret(ctx context.Context, name string) (string, error) {
	bundle, err := s.client.GetSecret(ctx, s.vaultURI, name, "")
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if bundle.Value == nil {
		return "", fmt.Errorf("secret %s has no value", name)
	}
	return *bundle.Value, nil
}

// SetSecret writes a new version of the secret and returns its id.
func (s *AzureStore) SetSecret(ctx context.Context, name, value string, tags map[string]string) (string, error) {
	params := azkeyvault.SecretSetParameters{Value: to.StringPtr(value)}
	if len(tags) > 0 {
		t := make(map[string]*string, len(tags))
		for k, v := range tags {
			t[k] = to.StringPtr(v)
		}
		params.Tags = t
	}
	bundle, err := s.client.SetSecret(ctx, s.vaultURI, name, params)
	if err != nil {
		return "", fmt.Errorf("failed to set secret %s: %w", name, err)
	}
	if bundle.ID == nil {
		return "", fmt.Errorf("secret %s was stored without an id", name)
	}
	return *bundle.ID, nil
}

// DeleteSecret removes the secret and all its versions.
func (s *AzureStore) DeleteSecret(ctx context.Context, name string) error {
	if _, err := s.client.DeleteSecret(ctx, s.vaultURI, name); err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	return nil
}

// ListSecrets enumerates secret names in the vault.
func (s *AzureStore) ListSecrets(ctx context.Context) ([]string, error) {
	page, err := s.client.GetSecrets(ctx, s.vaultURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	var names []string
	for page.NotDone() {
		for _, item := range page.Values() {
			if item.ID == nil {
				continue
			}
			// Secret ids are URIs ending in /secrets/<name>.
			id := *item.ID
			names = append(names, id[strings.LastIndex(id, "/")+1:])
		}
		if err := page.NextWithContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to page secrets: %w", err)
		}
	}
	return names, nil
}
