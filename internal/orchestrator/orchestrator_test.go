package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/engine"
	"github.com/vaultmesh/vaultmesh/internal/nodeclient"
	"github.com/vaultmesh/vaultmesh/internal/nodeserver"
)

// testCluster spins up m real httptest-backed shard nodes and one
// Orchestrator wired to them, so these tests exercise the real HTTP
// round trip rather than an in-process fake.
type testCluster struct {
	orch    *Orchestrator
	servers []*httptest.Server
	stores  []*nodeserver.Store
}

func newTestCluster(t *testing.T, k, m int) *testCluster {
	tc := &testCluster{}
	nodeURLs := make([]string, m)
	for i := 0; i < m; i++ {
		store, err := nodeserver.OpenStore(t.TempDir() + "/shards.db")
		require.NoError(t, err)
		mux := http.NewServeMux()
		nodeserver.NewServer(store).Register(mux)
		srv := httptest.NewServer(mux)

		tc.stores = append(tc.stores, store)
		tc.servers = append(tc.servers, srv)
		nodeURLs[i] = srv.URL
	}

	masterKey := new(fernet.Key)
	require.NoError(t, masterKey.Generate())

	cfg := &config.Config{
		MasterKey:   masterKey,
		Nodes:       nodeURLs,
		K:           k,
		M:           m,
		MetadataDir: t.TempDir(),
	}
	orch, err := New(cfg)
	require.NoError(t, err)
	tc.orch = orch
	return tc
}

func (tc *testCluster) close() {
	for _, s := range tc.servers {
		s.Close()
	}
	for _, db := range tc.stores {
		db.Close()
	}
}

// stopNode takes node i permanently offline for the rest of the test.
func (tc *testCluster) stopNode(i int) {
	tc.servers[i].Close()
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()
	ctx := context.Background()

	plaintext := []byte("round trip through a real 5-node cluster")
	_, err := tc.orch.UploadFile(ctx, "doc.txt", plaintext)
	require.NoError(t, err)

	got, err := tc.orch.DownloadFile(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestUploadEmptyFileRejected(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()

	_, err := tc.orch.UploadFile(context.Background(), "empty.txt", nil)
	require.Error(t, err)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, InputRejected, oe.Kind)
}

func TestDownloadUnknownFilenameRejected(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()

	_, err := tc.orch.DownloadFile(context.Background(), "never-uploaded.txt")
	require.Error(t, err)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, InputRejected, oe.Kind)
}

// Stop two of five nodes, then a third, and confirm download keeps working
// until the online count drops below k, at which point it fails with
// Unavailable{have, need}.
func TestDownloadSurvivesNodeLossUntilThreshold(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()
	ctx := context.Background()

	plaintext := []byte("survives partial node loss")
	_, err := tc.orch.UploadFile(ctx, "s2.txt", plaintext)
	require.NoError(t, err)

	tc.stopNode(0)
	tc.stopNode(1)

	got, err := tc.orch.DownloadFile(ctx, "s2.txt")
	require.NoError(t, err, "3 of 5 nodes online still meets k=3")
	assert.Equal(t, plaintext, got)

	tc.stopNode(2)

	_, err = tc.orch.DownloadFile(ctx, "s2.txt")
	require.Error(t, err)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, Unavailable, oe.Kind)
	assert.Equal(t, 2, oe.Have)
	assert.Equal(t, 3, oe.Need)
}

func TestUploadFailsFastWhenFewerThanMNodesHealthy(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()

	tc.stopNode(4)

	_, err := tc.orch.UploadFile(context.Background(), "x.txt", []byte("data"))
	require.Error(t, err)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, NodeUnavailable, oe.Kind)
	assert.Equal(t, 4, oe.Have)
	assert.Equal(t, 5, oe.Need)
}

// A node that answers /health but rejects every shard PUT causes the whole
// upload to roll back: zero shards survive on any node, and no manifest
// file is written.
func TestAtomicRollback(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()

	// Swap node 4's mux for one that reports healthy but fails every PUT,
	// so the upload-side health pre-check passes and fan-out itself fails.
	tc.stopNode(4)
	failingMux := http.NewServeMux()
	failingMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	failingMux.HandleFunc("/store/", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "disk full", http.StatusInternalServerError) })
	failingSrv := httptest.NewServer(failingMux)
	defer failingSrv.Close()
	tc.orch.nodes[4] = nodeclient.New(failingSrv.URL)

	_, err := tc.orch.UploadFile(context.Background(), "atomic.txt", []byte("data"))
	require.Error(t, err)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, UploadFailed, oe.Kind)
	assert.Equal(t, 1, oe.Count)

	_, statErr := os.Stat(tc.orch.manifestPath("atomic.txt"))
	assert.True(t, os.IsNotExist(statErr), "no manifest must exist after a rolled-back upload")

	for i := 0; i < 4; i++ {
		_, ok := tc.stores[i].Get(shardIdentifier("atomic.txt", i))
		assert.False(t, ok, "shard %d must have been rolled back", i)
	}
}

func TestListFilesRedactsEncryptionKey(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()
	ctx := context.Background()

	_, err := tc.orch.UploadFile(ctx, "secret.txt", []byte("sensitive contents"))
	require.NoError(t, err)

	summaries, err := tc.orch.ListFiles()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "secret.txt", summaries[0].Filename)
	assert.NotEmpty(t, summaries[0].FileHashPrefix)
	assert.LessOrEqual(t, len(summaries[0].FileHashPrefix), 16)

	sealed, err := os.ReadFile(tc.orch.manifestPath("secret.txt"))
	require.NoError(t, err)
	full, err := tc.orch.vault.Unseal(sealed)
	require.NoError(t, err)
	listed, err := json.Marshal(summaries)
	require.NoError(t, err)
	assert.NotContains(t, string(listed), full.EncryptionKey)
	assert.NotContains(t, string(listed), "encryption_key")
}

// Flipping one byte of a stored shard makes download fail with Tampered and
// name the corrupted shard; restoring the byte makes download succeed again.
func TestTamperedShardDetectedAndNamed(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()
	ctx := context.Background()

	plaintext := make([]byte, 64*1024)
	for i := range plaintext {
		plaintext[i] = byte(i * 31)
	}
	_, err := tc.orch.UploadFile(ctx, "big.bin", plaintext)
	require.NoError(t, err)

	id := shardIdentifier("big.bin", 2)
	original, ok := tc.stores[2].Get(id)
	require.True(t, ok)

	corrupted := append([]byte{}, original...)
	corrupted[0] ^= 0xFF
	require.NoError(t, tc.stores[2].Put(id, corrupted))

	_, err = tc.orch.DownloadFile(ctx, "big.bin")
	require.Error(t, err)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, Tampered, oe.Kind)

	var ee *engine.Error
	require.ErrorAs(t, err, &ee)
	require.NotNil(t, ee.ShardID)
	assert.Equal(t, 2, *ee.ShardID)

	require.NoError(t, tc.stores[2].Put(id, original))
	got, err := tc.orch.DownloadFile(ctx, "big.bin")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

// Two concurrent uploads of the same filename serialize on the per-filename
// lock: both succeed, and the surviving manifest + shards are internally
// consistent: the download returns exactly one contender's bytes and passes
// integrity verification.
func TestConcurrentUploadsOfSameFilenameSerialize(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()
	ctx := context.Background()

	contentA := []byte("contender A's bytes")
	contentB := []byte("contender B wrote something longer")

	var wg sync.WaitGroup
	for _, content := range [][]byte{contentA, contentB} {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			_, err := tc.orch.UploadFile(ctx, "contested.txt", p)
			assert.NoError(t, err)
		}(content)
	}
	wg.Wait()

	got, err := tc.orch.DownloadFile(ctx, "contested.txt")
	require.NoError(t, err)
	if !bytes.Equal(got, contentA) && !bytes.Equal(got, contentB) {
		t.Fatalf("download returned bytes belonging to neither upload: %q", got)
	}
}

// The sealed manifest on disk must contain neither the plaintext nor the
// encoded per-file key in the clear.
func TestSealedManifestOnDiskLeaksNothing(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()
	ctx := context.Background()

	_, err := tc.orch.UploadFile(ctx, "greeting.txt", []byte("hello world"))
	require.NoError(t, err)

	sealed, err := os.ReadFile(tc.orch.manifestPath("greeting.txt"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hello")

	full, err := tc.orch.vault.Unseal(sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), full.EncryptionKey)

	m, err := tc.orch.ManifestFor("greeting.txt")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), m.FileHash,
		"even manifest field values must be unreadable without the master key")
}

func TestHealthReportsStatus(t *testing.T) {
	tc := newTestCluster(t, 3, 5)
	defer tc.close()
	ctx := context.Background()

	report := tc.orch.Health(ctx)
	assert.Equal(t, "optimal", report.Status)
	assert.Equal(t, 5, report.OnlineCount)

	tc.stopNode(0)
	tc.stopNode(1)
	report = tc.orch.Health(ctx)
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, 3, report.OnlineCount)

	tc.stopNode(2)
	report = tc.orch.Health(ctx)
	assert.Equal(t, "critical", report.Status)
}

func TestConfigurationErrorOnMismatchedNodeCount(t *testing.T) {
	masterKey := new(fernet.Key)
	require.NoError(t, masterKey.Generate())
	cfg := &config.Config{
		MasterKey:   masterKey,
		Nodes:       []string{"http://a", "http://b"},
		K:           3,
		M:           5,
		MetadataDir: t.TempDir(),
	}
	_, err := New(cfg)
	require.Error(t, err)

	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, Configuration, oe.Kind)
}
