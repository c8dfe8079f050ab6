package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses the fleet specification from a YAML file. The
// returned configuration has defaults applied but has not been normalized;
// callers run Normalize before provisioning.
func LoadFile(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data)
}

// Load parses the fleet specification from raw YAML.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills in values that have a single sensible default. The
// defaults here are structural only; compatibility corrections happen in
// Normalize where they can be reported as warnings.
func (c *Config) applyDefaults() {
	if c.Fleet.MaxTasksPerNode == 0 {
		c.Fleet.MaxTasksPerNode = 1
	}
	if c.Fleet.PlatformImage != nil && c.Fleet.PlatformImage.Version == "" {
		c.Fleet.PlatformImage.Version = "latest"
	}
	if c.Encryption != nil && c.Encryption.ThumbprintAlgorithm == "" {
		c.Encryption.ThumbprintAlgorithm = "sha1"
	}
	if c.DataReplication != nil && c.DataReplication.ConcurrentSourceDownloads == 0 {
		c.DataReplication.ConcurrentSourceDownloads = 10
	}
	for i := range c.Fleet.ResourceFiles {
		if c.Fleet.ResourceFiles[i].FileMode == "" {
			c.Fleet.ResourceFiles[i].FileMode = "0755"
		}
	}
}
