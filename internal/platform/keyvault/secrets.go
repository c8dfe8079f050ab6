// Package keyvault provides the capability contract over a secret store
// holding fleet credential documents.
package keyvault

import "context"

// SecretStore reads and writes named secrets in one vault.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string, tags map[string]string) (string, error)
	DeleteSecret(ctx context.Context, name string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
