// Package vault seals and unseals file manifests under the process-wide
// master key (envelope encryption). Sealed bytes are the only manifest form
// that ever reaches disk.
package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/vaultmesh/vaultmesh/internal/manifest"
)

const noTTL = 100 * 365 * 24 * time.Hour

// ErrorKind classifies vault failures.
type ErrorKind int

const (
	// NoMasterKey names an absent or invalid MASTER_VAULT_KEY. No function
	// in this package returns it: New takes an already-loaded key and
	// cannot fail, and config.LoadMasterKey reports a missing or invalid
	// key with its own error.
	NoMasterKey ErrorKind = iota
	// Tampered indicates the sealed bytes failed authenticated decryption
	// (MAC failure or corruption). Seal also reports a failed encryption
	// under this kind.
	Tampered
	// Schema indicates the decrypted bytes did not parse as a Manifest.
	Schema
)

func (k ErrorKind) String() string {
	switch k {
	case NoMasterKey:
		return "NoMasterKey"
	case Tampered:
		return "Tampered"
	case Schema:
		return "Schema"
	default:
		return "Unknown"
	}
}

// Error is the vault's typed error value.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("vault: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Vault seals and unseals manifests under a single master key. It holds no
// other state and is safe for concurrent use (the underlying Fernet
// operations are pure functions of their inputs).
type Vault struct {
	masterKey *fernet.Key
}

// New constructs a Vault from an already-loaded master key. Loading and
// validating MASTER_VAULT_KEY itself is config.LoadMasterKey's job, one
// layer up, so tests can construct a Vault directly from an in-memory key
// without touching the environment.
func New(masterKey *fernet.Key) *Vault {
	return &Vault{masterKey: masterKey}
}

// Seal JSON-encodes m and authenticated-encrypts it under the master key.
// The returned bytes are the only form ever persisted to disk; no unsealed
// manifest file is allowed to exist.
func (v *Vault) Seal(m manifest.Manifest) ([]byte, error) {
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, &Error{Kind: Schema, Err: err}
	}
	sealed, err := fernet.EncryptAndSign(plain, v.masterKey)
	if err != nil {
		return nil, &Error{Kind: Tampered, Err: err}
	}
	return sealed, nil
}

// Unseal authenticated-decrypts sealed bytes and parses the result as a
// Manifest. A MAC failure or corruption yields a Tampered error; a
// successfully-decrypted but schema-invalid payload yields a Schema error.
// There is no fallback to plaintext JSON parsing; legacy plaintext
// manifests are not transparently accepted.
func (v *Vault) Unseal(sealed []byte) (manifest.Manifest, error) {
	plain := fernet.VerifyAndDecrypt(sealed, noTTL, []*fernet.Key{v.masterKey})
	if plain == nil {
		return manifest.Manifest{}, &Error{Kind: Tampered, Err: fmt.Errorf("authenticated decryption failed")}
	}
	var m manifest.Manifest
	if err := json.Unmarshal(plain, &m); err != nil {
		return manifest.Manifest{}, &Error{Kind: Schema, Err: err}
	}
	if m.Filename == "" || m.MTotal == 0 {
		return manifest.Manifest{}, &Error{Kind: Schema, Err: fmt.Errorf("manifest missing required fields")}
	}
	return m, nil
}
