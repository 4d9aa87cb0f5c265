// Package manifest defines the closed record schema for a stored file's
// metadata manifest and the redaction helpers applied before any manifest
// is rendered on an external interface.
package manifest

// RedactedSentinel replaces EncryptionKey whenever a manifest is rendered on
// any externally visible surface (gateway responses, list/metadata endpoints,
// logs). It must never be a value that could be mistaken for a real key.
const RedactedSentinel = "***REDACTED***"

// Manifest is the full record produced at upload time and sealed by the
// vault. One exported struct per wire shape, explicit json tags.
type Manifest struct {
	Filename       string         `json:"filename"`
	FileHash       string         `json:"file_hash"`
	FileSize       int64          `json:"file_size"`
	EncryptionKey  string         `json:"encryption_key"`
	KRequired      int            `json:"k_required"`
	MTotal         int            `json:"m_total"`
	ShardMetadata  map[int]string `json:"shard_metadata"`
	UploadDate     string         `json:"upload_date"`
	ShardLocations map[int]string `json:"shard_locations"`
}

// Summary is the reduced view returned by the file listing. It carries no
// encryption key and no per-shard hashes.
type Summary struct {
	Filename       string `json:"filename"`
	FileHashPrefix string `json:"file_hash_prefix"`
	FileSize       int64  `json:"file_size"`
	UploadDate     string `json:"upload_date"`
	KRequired      int    `json:"k_required"`
	MTotal         int    `json:"m_total"`
}

// ViewPublic returns a copy of m with EncryptionKey replaced by
// RedactedSentinel. Use this (never UseInternal) on any path that crosses
// an external interface boundary.
func ViewPublic(m Manifest) Manifest {
	redacted := m
	redacted.EncryptionKey = RedactedSentinel
	redacted.ShardMetadata = cloneStringMap(m.ShardMetadata)
	redacted.ShardLocations = cloneStringMap(m.ShardLocations)
	return redacted
}

// UseInternal returns m unchanged. It exists so call sites make the
// internal-vs-external choice explicit rather than passing a bare Manifest
// around and forgetting to redact it.
func UseInternal(m Manifest) Manifest {
	return m
}

// ToSummary reduces m to the fields the file listing is allowed to emit.
// hashPrefixLen bounds how much of FileHash is disclosed; listings only
// ever show a prefix.
func ToSummary(m Manifest, hashPrefixLen int) Summary {
	prefix := m.FileHash
	if len(prefix) > hashPrefixLen {
		prefix = prefix[:hashPrefixLen]
	}
	return Summary{
		Filename:       m.Filename,
		FileHashPrefix: prefix,
		FileSize:       m.FileSize,
		UploadDate:     m.UploadDate,
		KRequired:      m.KRequired,
		MTotal:         m.MTotal,
	}
}

func cloneStringMap(m map[int]string) map[int]string {
	if m == nil {
		return nil
	}
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
