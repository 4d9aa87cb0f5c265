package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testManifest() Manifest {
	return Manifest{
		Filename:       "a.bin",
		FileHash:       "0123456789abcdef0123456789abcdef",
		FileSize:       42,
		EncryptionKey:  "top-secret",
		KRequired:      3,
		MTotal:         5,
		ShardMetadata:  map[int]string{0: "h0"},
		UploadDate:     "2026-08-03T00:00:00Z",
		ShardLocations: map[int]string{0: "http://node-0"},
	}
}

func TestViewPublicRedactsKey(t *testing.T) {
	m := testManifest()
	redacted := ViewPublic(m)

	assert.Equal(t, RedactedSentinel, redacted.EncryptionKey)
	assert.Equal(t, m.Filename, redacted.Filename)
	assert.NotEqual(t, RedactedSentinel, m.EncryptionKey, "original manifest must be untouched")
}

func TestViewPublicDeepCopiesMaps(t *testing.T) {
	m := testManifest()
	redacted := ViewPublic(m)
	redacted.ShardMetadata[0] = "mutated"

	assert.Equal(t, "h0", m.ShardMetadata[0], "mutating the redacted copy must not affect the original")
}

func TestUseInternalIsIdentity(t *testing.T) {
	m := testManifest()
	assert.Equal(t, m, UseInternal(m))
}

func TestToSummaryTruncatesHashPrefix(t *testing.T) {
	m := testManifest()
	s := ToSummary(m, 8)
	assert.Equal(t, "01234567", s.FileHashPrefix)
	assert.Equal(t, m.Filename, s.Filename)
	assert.Equal(t, m.KRequired, s.KRequired)
}

func TestToSummaryShortHashUnchanged(t *testing.T) {
	m := testManifest()
	m.FileHash = "ab"
	s := ToSummary(m, 16)
	assert.Equal(t, "ab", s.FileHashPrefix)
}
