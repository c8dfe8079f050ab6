// Package handlers implements the business logic for CLI commands.
//
// Handlers are framework-agnostic and can be tested independently of the
// CLI framework; platform clients are created through factory variables so
// tests can substitute mocks.
package handlers

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/platform/arm"
	"github.com/skiffhq/skiff/internal/platform/batch"
	"github.com/skiffhq/skiff/internal/platform/blob"
	"github.com/skiffhq/skiff/internal/platform/keyvault"
)

// toolVersion stamps pools and bootstrap commands. Set from main at startup.
var toolVersion = "dev"

// SetVersion sets the tool version used for pool metadata and bootstrap.
func SetVersion(v string) {
	toolVersion = v
}

// Factory function variables - can be replaced in tests for dependency
// injection.
var (
	// loadConfigFile loads the fleet specification from file.
	loadConfigFile = config.LoadFile

	// newFleetClient creates the batch data-plane client.
	newFleetClient = func(cfg *config.Config) (batch.FleetService, error) {
		b := cfg.Credentials.Batch
		if b.AAD == nil {
			return nil, fmt.Errorf("batch aad credentials are required")
		}
		return batch.NewAzureClient(batch.AzureCredentials{
			TenantID:      b.AAD.DirectoryID,
			ApplicationID: b.AAD.ApplicationID,
			AuthKey:       b.AAD.AuthKey,
			ServiceURL:    b.ServiceURL,
		})
	}

	// newDirectory creates the management-plane directory used for subnet
	// and storage cluster lookups.
	newDirectory = func(cfg *config.Config) (arm.ComputeDirectory, arm.NetworkDirectory, error) {
		b := cfg.Credentials.Batch
		if b.AAD == nil {
			return nil, nil, fmt.Errorf("batch aad credentials are required")
		}
		d, err := arm.NewAzureDirectory(arm.AzureCredentials{
			TenantID:       b.AAD.DirectoryID,
			ApplicationID:  b.AAD.ApplicationID,
			AuthKey:        b.AAD.AuthKey,
			SubscriptionID: b.Subscription,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}

	// newBlobStore creates the resource staging store from the linked
	// storage account.
	newBlobStore = func(cfg *config.Config) (blob.Store, error) {
		sa, ok := cfg.StorageAccountForLink(cfg.Storage.AccountLink)
		if !ok {
			return nil, fmt.Errorf("storage account link %q is not defined under credentials", cfg.Storage.AccountLink)
		}
		return blob.NewAzureStore(sa.Account, sa.Key)
	}

	// newSecretStore creates the key vault client.
	newSecretStore = func(cfg *config.Config) (keyvault.SecretStore, error) {
		b := cfg.Credentials.Batch
		if cfg.Credentials.KeyVault == nil || cfg.Credentials.KeyVault.URI == "" {
			return nil, fmt.Errorf("keyvault credentials are not configured")
		}
		if b.AAD == nil {
			return nil, fmt.Errorf("batch aad credentials are required")
		}
		return keyvault.NewAzureStore(keyvault.AzureCredentials{
			TenantID:      b.AAD.DirectoryID,
			ApplicationID: b.AAD.ApplicationID,
			AuthKey:       b.AAD.AuthKey,
			VaultURI:      cfg.Credentials.KeyVault.URI,
		})
	}

	// stdin is the confirmation prompt source.
	stdin = func() *bufio.Reader { return bufio.NewReader(os.Stdin) }
)

// loadConfig loads, defaults and normalizes the fleet specification,
// logging every normalization warning.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}
	warnings, err := cfg.Normalize()
	for _, w := range warnings {
		logrus.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// confirmWith builds the yes/no prompt. assumeYes short-circuits every
// prompt to yes for scripted use.
func confirmWith(assumeYes bool) func(prompt string) bool {
	if assumeYes {
		return func(string) bool { return true }
	}
	return func(prompt string) bool {
		fmt.Printf("%s [y/N]: ", prompt)
		line, err := stdin().ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
