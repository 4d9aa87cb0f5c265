// Package config loads the orchestrator-scoped configuration record: the
// master vault key, the node URL list, and the erasure-coding parameters.
// Nothing here is a module-level singleton: the master key and node list
// are loaded once into a Config value that callers pass around and tests
// construct directly.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fernet/fernet-go"
)

// Default erasure-coding parameters: any DefaultK of DefaultM shards
// reconstruct a file.
const (
	DefaultK = 3
	DefaultM = 5
)

// MasterVaultKeyEnv is the environment variable holding the Fernet-format
// master key.
const MasterVaultKeyEnv = "MASTER_VAULT_KEY"

// Config is the orchestrator-scoped configuration record. It is built once
// at process start and held for the process lifetime, but it is a plain
// value, not a package singleton.
type Config struct {
	MasterKey   *fernet.Key
	Nodes       []string
	K           int
	M           int
	MetadataDir string
}

// Load reads MASTER_VAULT_KEY from the environment and assembles a Config
// from the given node URLs and (k, m) parameters. It fails fast on a
// missing/invalid key, an invalid (k, m) pair, or a node list whose length
// does not match m.
func Load(nodes []string, k, m int, metadataDir string) (*Config, error) {
	key, err := LoadMasterKey()
	if err != nil {
		return nil, err
	}
	if err := ValidateParams(k, m); err != nil {
		return nil, err
	}
	if len(nodes) != m {
		return nil, fmt.Errorf("config: node list length %d does not match m=%d", len(nodes), m)
	}
	return &Config{
		MasterKey:   key,
		Nodes:       nodes,
		K:           k,
		M:           m,
		MetadataDir: metadataDir,
	}, nil
}

// LoadMasterKey reads and decodes MASTER_VAULT_KEY. Absence or an invalid
// Fernet-format value is a fatal start-up error.
func LoadMasterKey() (*fernet.Key, error) {
	raw := strings.TrimSpace(os.Getenv(MasterVaultKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("config: %s is not set", MasterVaultKeyEnv)
	}
	key, err := fernet.DecodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not a valid Fernet key: %w", MasterVaultKeyEnv, err)
	}
	return key, nil
}

// ValidateParams checks that 1 <= k <= m.
func ValidateParams(k, m int) error {
	if k < 1 || k > m {
		return fmt.Errorf("config: invalid (k, m) = (%d, %d): require 1 <= k <= m", k, m)
	}
	return nil
}
