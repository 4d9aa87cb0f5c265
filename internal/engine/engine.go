// Package engine transforms a plaintext buffer into an encrypted,
// erasure-coded shard set and back. Encryption always happens before
// sharding, so storage nodes only ever see ciphertext. The engine is pure
// computation: it never touches the network or disk and holds no per-call
// state.
package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/klauspost/reedsolomon"
)

// noTTL is passed to fernet.VerifyAndDecrypt in place of a real token
// lifetime. Stored files are long-lived artifacts, not session tokens, so
// Fernet's TTL check is neutralized with a horizon far beyond any file's
// expected life.
const noTTL = 100 * 365 * 24 * time.Hour

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	// Crypto indicates RNG or cipher failure.
	Crypto ErrorKind = iota
	// Code indicates an erasure encoder/decoder failure.
	Code
	// Empty indicates a zero-byte plaintext was rejected.
	Empty
	// Insufficient indicates fewer than k verified shards were supplied.
	Insufficient
	// Tampered indicates a shard hash mismatch, an authenticated-decryption
	// failure, or a whole-file hash mismatch. ShardID is set only for the
	// per-shard case; it is nil for whole-file tamper detection.
	Tampered
)

func (k ErrorKind) String() string {
	switch k {
	case Crypto:
		return "Crypto"
	case Code:
		return "Code"
	case Empty:
		return "Empty"
	case Insufficient:
		return "Insufficient"
	case Tampered:
		return "Tampered"
	default:
		return "Unknown"
	}
}

// Error is the engine's typed error value.
type Error struct {
	Kind    ErrorKind
	ShardID *int
	Err     error
}

func (e *Error) Error() string {
	if e.ShardID != nil {
		return fmt.Sprintf("engine: %s (shard %d): %v", e.Kind, *e.ShardID, e.Err)
	}
	return fmt.Sprintf("engine: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func tamperedShard(id int, err error) *Error {
	return &Error{Kind: Tampered, ShardID: &id, Err: err}
}

func tamperedWholeFile(err error) *Error {
	return &Error{Kind: Tampered, Err: err}
}

// Engine runs the encode/decode pipeline for a fixed (k, m) layout. Every
// per-file key is generated fresh inside EncryptAndShard and returned to the
// caller, never stored on the Engine, so a single Engine is safe for
// concurrent use.
type Engine struct {
	K int
	M int
}

// New returns an Engine for the given (k, m) erasure-coding parameters.
func New(k, m int) *Engine {
	return &Engine{K: k, M: m}
}

// Result is the output of EncryptAndShard.
type Result struct {
	Shards         [][]byte
	ShardHashes    map[int]string
	PerFileKey     *fernet.Key
	WholeFileHash  string
	CiphertextHash string // diagnostic only, never persisted
}

// EncryptAndShard encrypts plaintext under a freshly generated per-file key
// and splits the ciphertext into m shards of which any k reconstruct.
// Sharding operates on ciphertext only; plaintext never reaches the coder.
func (e *Engine) EncryptAndShard(plaintext []byte) (*Result, error) {
	if len(plaintext) == 0 {
		return nil, &Error{Kind: Empty, Err: fmt.Errorf("plaintext must not be empty")}
	}

	wholeFileHash := sha256Hex(plaintext)

	key := new(fernet.Key)
	if err := key.Generate(); err != nil {
		return nil, &Error{Kind: Crypto, Err: err}
	}

	ciphertext, err := fernet.EncryptAndSign(plaintext, key)
	if err != nil {
		return nil, &Error{Kind: Crypto, Err: err}
	}
	ciphertextHash := sha256Hex(ciphertext)

	enc, err := reedsolomon.New(e.K, e.M-e.K)
	if err != nil {
		return nil, &Error{Kind: Code, Err: err}
	}

	shards, err := enc.Split(ciphertext)
	if err != nil {
		return nil, &Error{Kind: Code, Err: err}
	}
	if err := enc.Encode(shards); err != nil {
		return nil, &Error{Kind: Code, Err: err}
	}

	hashes := make(map[int]string, len(shards))
	for id, shard := range shards {
		hashes[id] = sha256Hex(shard)
	}

	return &Result{
		Shards:         shards,
		ShardHashes:    hashes,
		PerFileKey:     key,
		WholeFileHash:  wholeFileHash,
		CiphertextHash: ciphertextHash,
	}, nil
}

// RecoverAndDecrypt rebuilds the ciphertext from at least k verified shards
// and decrypts it. Integrity verification is mandatory and not
// parameterisable: every supplied shard is hash-checked before any
// reconstruction is attempted, and the whole-file hash is checked after
// decryption.
func (e *Engine) RecoverAndDecrypt(
	shards [][]byte,
	shardIDs []int,
	shardHashesFromManifest map[int]string,
	perFileKey *fernet.Key,
	expectedWholeFileHash string,
	expectedSize int64,
) ([]byte, error) {
	if len(shards) != len(shardIDs) || len(shards) < e.K {
		return nil, &Error{Kind: Insufficient, Err: fmt.Errorf(
			"need at least %d matched shards, got %d shards / %d ids", e.K, len(shards), len(shardIDs))}
	}

	for i, id := range shardIDs {
		expected, ok := shardHashesFromManifest[id]
		if !ok {
			return nil, tamperedShard(id, fmt.Errorf("no manifest hash recorded for shard"))
		}
		actual := sha256Hex(shards[i])
		if actual != expected {
			return nil, tamperedShard(id, fmt.Errorf("hash mismatch: expected %s, got %s", expected, actual))
		}
	}

	full := make([][]byte, e.M)
	for i, id := range shardIDs {
		if id < 0 || id >= e.M {
			return nil, tamperedShard(id, fmt.Errorf("shard id out of range [0,%d)", e.M))
		}
		full[id] = shards[i]
	}

	enc, err := reedsolomon.New(e.K, e.M-e.K)
	if err != nil {
		return nil, &Error{Kind: Code, Err: err}
	}
	if err := enc.Reconstruct(full); err != nil {
		return nil, &Error{Kind: Code, Err: err}
	}

	// Split/Encode padded the ciphertext with trailing zero bytes up to a
	// multiple of k. Fernet's wire format is URL-safe base64 text, which
	// never contains a 0x00 byte, so the padding is unambiguously inverted
	// by right-trimming zeros from the concatenated data shards.
	ciphertext := bytes.TrimRight(bytes.Join(full[:e.K], nil), "\x00")

	plaintext := fernet.VerifyAndDecrypt(ciphertext, noTTL, []*fernet.Key{perFileKey})
	if plaintext == nil {
		return nil, tamperedWholeFile(fmt.Errorf("authenticated decryption failed"))
	}

	if expectedSize >= 0 && int64(len(plaintext)) > expectedSize {
		plaintext = plaintext[:expectedSize]
	}

	actualHash := sha256Hex(plaintext)
	if actualHash != expectedWholeFileHash {
		return nil, tamperedWholeFile(fmt.Errorf("whole-file hash mismatch: expected %s, got %s", expectedWholeFileHash, actualHash))
	}

	return plaintext, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
