// Package orchestrator binds the crypto-erasure engine, the metadata vault,
// and one node client per storage node into atomic, rollback-capable,
// concurrency-safe upload and download transactions, plus the list, metadata
// and health operations the gateway exposes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/engine"
	"github.com/vaultmesh/vaultmesh/internal/manifest"
	"github.com/vaultmesh/vaultmesh/internal/nodeclient"
	"github.com/vaultmesh/vaultmesh/internal/vault"
)

// ErrorKind classifies orchestrator failures.
type ErrorKind int

const (
	Configuration ErrorKind = iota
	InputRejected
	NodeUnavailable
	UploadFailed
	ManifestPersistFailed
	Unavailable
	Tampered
	VaultErrorKind
)

func (k ErrorKind) String() string {
	switch k {
	case Configuration:
		return "Configuration"
	case InputRejected:
		return "InputRejected"
	case NodeUnavailable:
		return "NodeUnavailable"
	case UploadFailed:
		return "UploadFailed"
	case ManifestPersistFailed:
		return "ManifestPersistFailed"
	case Unavailable:
		return "Unavailable"
	case Tampered:
		return "Tampered"
	case VaultErrorKind:
		return "VaultError"
	default:
		return "Unknown"
	}
}

// Error is the orchestrator's typed, classified error value. Every failure
// path returns one of these rather than an ad hoc fmt.Errorf.
type Error struct {
	Kind  ErrorKind
	Count int // for UploadFailed: number of failed shards; for Unavailable/NodeUnavailable: see Have/Need
	Have  int
	Need  int
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case UploadFailed:
		return fmt.Sprintf("orchestrator: UploadFailed: %d shard upload(s) failed", e.Count)
	case Unavailable, NodeUnavailable:
		return fmt.Sprintf("orchestrator: %s: have %d, need %d", e.Kind, e.Have, e.Need)
	default:
		if e.Err != nil {
			return fmt.Sprintf("orchestrator: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("orchestrator: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Orchestrator binds engine, vault, and one Client per node. It maintains a
// per-filename mutual-exclusion map so concurrent uploads of the same
// filename serialize, while uploads of different filenames proceed
// independently.
type Orchestrator struct {
	nodes       []*nodeclient.Client
	engine      *engine.Engine
	vault       *vault.Vault
	metadataDir string
	k, m        int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs an Orchestrator from a loaded Config. It does not touch the
// network or filesystem beyond creating the metadata directory.
func New(cfg *config.Config) (*Orchestrator, error) {
	if err := config.ValidateParams(cfg.K, cfg.M); err != nil {
		return nil, &Error{Kind: Configuration, Err: err}
	}
	if len(cfg.Nodes) != cfg.M {
		return nil, &Error{Kind: Configuration, Err: fmt.Errorf("node list length %d does not match m=%d", len(cfg.Nodes), cfg.M)}
	}
	if err := os.MkdirAll(cfg.MetadataDir, 0o755); err != nil {
		return nil, &Error{Kind: Configuration, Err: err}
	}

	nodes := make([]*nodeclient.Client, len(cfg.Nodes))
	for i, url := range cfg.Nodes {
		nodes[i] = nodeclient.New(url)
	}

	return &Orchestrator{
		nodes:       nodes,
		engine:      engine.New(cfg.K, cfg.M),
		vault:       vault.New(cfg.MasterKey),
		metadataDir: cfg.MetadataDir,
		k:           cfg.K,
		m:           cfg.M,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

func (o *Orchestrator) lockFor(filename string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[filename]
	if !ok {
		l = &sync.Mutex{}
		o.locks[filename] = l
	}
	return l
}

func (o *Orchestrator) manifestPath(filename string) string {
	return filepath.Join(o.metadataDir, filename+".metadata.json")
}

func shardIdentifier(filename string, shardID int) string {
	return fmt.Sprintf("%s_shard_%d", filename, shardID)
}

// UploadFile runs the upload transaction. State machine:
// IDLE -> ENCODING -> FANOUT -> (all_ok ? SEALING : ROLLBACK_FANOUT -> FAILED)
// SEALING -> (write_ok ? DONE : ROLLBACK_FANOUT -> FAILED)
//
// The filename lock is acquired before ENCODING and held across the entire
// network fan-out, including rollback. Rollback must run to completion even
// if the caller's ctx is cancelled mid-upload, so it always uses its own
// background context rather than ctx.
func (o *Orchestrator) UploadFile(ctx context.Context, filename string, plaintext []byte) (string, error) {
	lock := o.lockFor(filename)
	lock.Lock()
	defer lock.Unlock()

	return o.uploadLocked(ctx, filename, plaintext)
}

func (o *Orchestrator) uploadLocked(ctx context.Context, filename string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", &Error{Kind: InputRejected, Err: fmt.Errorf("empty file rejected")}
	}

	online := o.countHealthy(ctx)
	if online < o.m {
		return "", &Error{Kind: NodeUnavailable, Have: online, Need: o.m}
	}

	// ENCODING
	result, err := o.engine.EncryptAndShard(plaintext)
	if err != nil {
		return "", classifyEngineErr(err)
	}

	// FANOUT
	ok := o.fanoutUpload(ctx, filename, result.Shards)
	failed := countFalse(ok)
	if failed > 0 {
		o.rollback(filename, ok)
		return "", &Error{Kind: UploadFailed, Count: failed}
	}

	// SEALING
	shardLocations := make(map[int]string, o.m)
	for i := range o.nodes {
		shardLocations[i] = o.nodes[i].NodeURL
	}

	m := manifest.Manifest{
		Filename:       filename,
		FileHash:       result.WholeFileHash,
		FileSize:       int64(len(plaintext)),
		EncryptionKey:  result.PerFileKey.Encode(),
		KRequired:      o.k,
		MTotal:         o.m,
		ShardMetadata:  result.ShardHashes,
		UploadDate:     time.Now().UTC().Format(time.RFC3339),
		ShardLocations: shardLocations,
	}

	sealed, err := o.vault.Seal(m)
	if err != nil {
		o.rollback(filename, allTrue(o.m))
		return "", &Error{Kind: ManifestPersistFailed, Err: err}
	}

	path := o.manifestPath(filename)
	if err := writeFileAtomic(path, sealed); err != nil {
		o.rollback(filename, allTrue(o.m))
		return "", &Error{Kind: ManifestPersistFailed, Err: err}
	}

	log.Printf("[Orchestrator] - Sealed manifest for %q written to %s", filename, path)
	return path, nil
}

// fanoutUpload dispatches all m shard uploads in parallel, shard i to node
// N[i] under id "{filename}_shard_{i}" (the shard-to-node assignment is
// position-locked). It returns, per shard index, whether the upload
// succeeded.
func (o *Orchestrator) fanoutUpload(ctx context.Context, filename string, shards [][]byte) []bool {
	results := make([]bool, len(shards))
	var wg sync.WaitGroup
	for i, shard := range shards {
		wg.Add(1)
		go func(i int, shard []byte) {
			defer wg.Done()
			id := shardIdentifier(filename, i)
			results[i] = o.nodes[i].Upload(ctx, id, shard)
		}(i, shard)
	}
	wg.Wait()
	return results
}

// rollback deletes every shard that was accepted (ok[i] == true), in
// parallel, ignoring delete failures. It uses its own context so a cancelled
// caller never prevents rollback from running.
func (o *Orchestrator) rollback(filename string, accepted []bool) {
	ctx, cancel := context.WithTimeout(context.Background(), nodeclient.PutGetTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i, wasAccepted := range accepted {
		if !wasAccepted {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := shardIdentifier(filename, i)
			if !o.nodes[i].Delete(ctx, id) {
				log.Printf("[Orchestrator] - Rollback: failed to delete shard %s from %s", id, o.nodes[i].NodeURL)
			}
		}(i)
	}
	wg.Wait()
}

// DownloadFile unseals the manifest, fans out shard downloads to all m
// nodes, and hands every available shard to the engine for verification,
// reconstruction, and decryption.
func (o *Orchestrator) DownloadFile(ctx context.Context, filename string) ([]byte, error) {
	path := o.manifestPath(filename)
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: InputRejected, Err: fmt.Errorf("unknown filename %q: %w", filename, err)}
	}

	m, err := o.vault.Unseal(sealed)
	if err != nil {
		return nil, &Error{Kind: VaultErrorKind, Err: err}
	}

	if online := o.countHealthy(ctx); online < m.KRequired {
		// Fast failure: refuse before fan-out once /health already proves
		// the threshold is unreachable. This is a pre-check, not a
		// substitute for the fan-out below; individual nodes may still
		// answer GET while failing /health, so a node count at or above k
		// here does not skip the real download attempt. NodeUnavailable is
		// reserved for the upload-side online_count < m refusal; every
		// download-side shortfall reports as Unavailable{have, need}.
		return nil, &Error{Kind: Unavailable, Have: online, Need: m.KRequired}
	}

	shardIDs := sortedKeys(m.ShardLocations)
	available, availableIDs := o.fanoutDownload(ctx, filename, m, shardIDs)

	if len(available) < m.KRequired {
		return nil, &Error{Kind: Unavailable, Have: len(available), Need: m.KRequired}
	}

	eng := engine.New(m.KRequired, m.MTotal)
	key, err := decodeKey(m.EncryptionKey)
	if err != nil {
		return nil, &Error{Kind: VaultErrorKind, Err: err}
	}

	plaintext, err := eng.RecoverAndDecrypt(available, availableIDs, m.ShardMetadata, key, m.FileHash, m.FileSize)
	if err != nil {
		return nil, classifyEngineErr(err)
	}
	return plaintext, nil
}

// fanoutDownload dispatches m shard downloads in parallel and collects every
// successful (shard_id, bytes) pair. All available shards go to the engine,
// not just the first k, so tampering can be detected on every shard a node
// returned and the coder can pick its subset after verification.
func (o *Orchestrator) fanoutDownload(ctx context.Context, filename string, m manifest.Manifest, shardIDs []int) ([][]byte, []int) {
	type outcome struct {
		id   int
		data []byte
		ok   bool
	}
	out := make([]outcome, len(shardIDs))

	var wg sync.WaitGroup
	for idx, shardID := range shardIDs {
		wg.Add(1)
		go func(idx, shardID int) {
			defer wg.Done()
			nodeURL, ok := m.ShardLocations[shardID]
			if !ok {
				out[idx] = outcome{id: shardID, ok: false}
				return
			}
			client := o.clientFor(nodeURL, shardID)
			data, ok := client.Download(ctx, shardIdentifier(filename, shardID))
			out[idx] = outcome{id: shardID, data: data, ok: ok}
		}(idx, shardID)
	}
	wg.Wait()

	available := make([][]byte, 0, len(out))
	availableIDs := make([]int, 0, len(out))
	for _, o := range out {
		if o.ok {
			available = append(available, o.data)
			availableIDs = append(availableIDs, o.id)
		}
	}
	return available, availableIDs
}

// clientFor returns the preconstructed Client for a node URL if this
// orchestrator owns it (the normal case, since shard i always lives at
// N[i]), or a fresh one-off Client otherwise (defensive: a manifest could in
// principle name a node outside the current node list after reconfiguration).
func (o *Orchestrator) clientFor(nodeURL string, shardID int) *nodeclient.Client {
	if shardID >= 0 && shardID < len(o.nodes) && o.nodes[shardID].NodeURL == nodeURL {
		return o.nodes[shardID]
	}
	for _, c := range o.nodes {
		if c.NodeURL == nodeURL {
			return c
		}
	}
	return nodeclient.New(nodeURL)
}

// ListFiles enumerates the sealed manifests in the metadata directory,
// unseals each, redacts it, and reduces it to a Summary. It never emits the
// encryption key or per-shard hashes.
func (o *Orchestrator) ListFiles() ([]manifest.Summary, error) {
	entries, err := os.ReadDir(o.metadataDir)
	if err != nil {
		return nil, &Error{Kind: Configuration, Err: err}
	}

	summaries := make([]manifest.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sealed, err := os.ReadFile(filepath.Join(o.metadataDir, entry.Name()))
		if err != nil {
			log.Printf("[Orchestrator] - List: error reading %s: %v", entry.Name(), err)
			continue
		}
		m, err := o.vault.Unseal(sealed)
		if err != nil {
			log.Printf("[Orchestrator] - List: error unsealing %s: %v", entry.Name(), err)
			continue
		}
		redacted := manifest.ViewPublic(m)
		summaries = append(summaries, manifest.ToSummary(redacted, 16))
	}
	return summaries, nil
}

// ManifestFor returns the redacted manifest for a single filename: the full
// record with encryption_key replaced by the sentinel, suitable for any
// externally visible rendering.
func (o *Orchestrator) ManifestFor(filename string) (manifest.Manifest, error) {
	sealed, err := os.ReadFile(o.manifestPath(filename))
	if err != nil {
		return manifest.Manifest{}, &Error{Kind: InputRejected, Err: fmt.Errorf("unknown filename %q: %w", filename, err)}
	}
	m, err := o.vault.Unseal(sealed)
	if err != nil {
		return manifest.Manifest{}, &Error{Kind: VaultErrorKind, Err: err}
	}
	return manifest.ViewPublic(m), nil
}

// Params returns the (k, m) erasure-coding parameters in effect.
func (o *Orchestrator) Params() (k, m int) {
	return o.k, o.m
}

// HealthReport aggregates the per-node health probes.
type HealthReport struct {
	OnlineCount int
	PerNode     []bool
	Status      string // "optimal" | "degraded" | "critical"
}

func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	perNode := o.healthChecks(ctx)
	online := 0
	for _, up := range perNode {
		if up {
			online++
		}
	}

	status := "critical"
	switch {
	case online == o.m:
		status = "optimal"
	case online >= o.k:
		status = "degraded"
	}

	return HealthReport{OnlineCount: online, PerNode: perNode, Status: status}
}

func (o *Orchestrator) healthChecks(ctx context.Context) []bool {
	results := make([]bool, len(o.nodes))
	var wg sync.WaitGroup
	for i, n := range o.nodes {
		wg.Add(1)
		go func(i int, n *nodeclient.Client) {
			defer wg.Done()
			results[i] = n.Health(ctx)
		}(i, n)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) countHealthy(ctx context.Context) int {
	count := 0
	for _, up := range o.healthChecks(ctx) {
		if up {
			count++
		}
	}
	return count
}

func countFalse(b []bool) int {
	n := 0
	for _, v := range b {
		if !v {
			n++
		}
	}
	return n
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func classifyEngineErr(err error) *Error {
	var ee *engine.Error
	if errors.As(err, &ee) {
		switch ee.Kind {
		case engine.Tampered:
			return &Error{Kind: Tampered, Err: ee}
		case engine.Empty:
			return &Error{Kind: InputRejected, Err: ee}
		case engine.Insufficient:
			return &Error{Kind: Unavailable, Err: ee}
		}
	}
	return &Error{Kind: Tampered, Err: err}
}

// writeFileAtomic writes data via write-to-temp, fsync, rename. This is the
// upload's single commit point: at no moment is a partial manifest
// observable at the final path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func decodeKey(encoded string) (*fernet.Key, error) {
	return fernet.DecodeKey(encoded)
}
