// Package nodeserver implements a shard node: a trivial content-addressed
// blob store exposed over HTTP. A node knows nothing about erasure coding,
// encryption, or manifests. It stores and returns opaque bytes under
// caller-supplied ids.
package nodeserver

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/boltdb/bolt"
)

const shardsBucket = "shards"

// Store is the boltdb-backed content-addressed blob store behind a Node's
// HTTP surface. One Store per node process.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the node's boltdb file at dbPath and
// ensures the shards bucket exists.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, err
	}
	log.Printf("[NodeServer] - BoltDB opened at %s", dbPath)

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(shardsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[NodeServer] - Bucket %q ready", shardsBucket)

	return &Store{db: db}, nil
}

// Close releases the underlying boltdb file.
func (s *Store) Close() error { return s.db.Close() }

// Put stores data under shardID, overwriting any existing value.
func (s *Store) Put(shardID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(shardsBucket))
		return b.Put([]byte(shardID), data)
	})
}

// Get returns the bytes stored under shardID, or (nil, false) if absent.
func (s *Store) Get(shardID string) ([]byte, bool) {
	var value []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(shardsBucket))
		v := b.Get([]byte(shardID))
		if v == nil {
			return nil
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if value == nil {
		return nil, false
	}
	return value, true
}

// Delete removes shardID. It is idempotent: deleting an absent key is not
// an error.
func (s *Store) Delete(shardID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(shardsBucket))
		return b.Delete([]byte(shardID))
	})
}

// Has reports whether shardID is present.
func (s *Store) Has(shardID string) bool {
	_, ok := s.Get(shardID)
	return ok
}

// Server wires a Store to the node's four HTTP endpoints.
type Server struct {
	store *Store
}

// NewServer returns an HTTP handler set backed by store.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Register attaches the node's endpoints to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/store/", s.handleStore)
	mux.HandleFunc("/retrieve/", s.handleRetrieve)
	mux.HandleFunc("/delete/", s.handleDelete)
	mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "only PUT is allowed on /store/{shard_id}", http.StatusMethodNotAllowed)
		return
	}
	shardID := strings.TrimPrefix(r.URL.Path, "/store/")
	if shardID == "" {
		http.Error(w, "missing shard id", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[NodeServer] - Error reading body for %s: %v", shardID, err)
		http.Error(w, "error reading body", http.StatusInternalServerError)
		return
	}
	if err := s.store.Put(shardID, data); err != nil {
		log.Printf("[NodeServer] - Error storing shard %s: %v", shardID, err)
		http.Error(w, "error storing shard", http.StatusInternalServerError)
		return
	}
	log.Printf("[NodeServer] - Stored shard %s (%d bytes)", shardID, len(data))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed on /retrieve/{shard_id}", http.StatusMethodNotAllowed)
		return
	}
	shardID := strings.TrimPrefix(r.URL.Path, "/retrieve/")
	data, ok := s.store.Get(shardID)
	if !ok {
		http.Error(w, fmt.Sprintf("shard %q not found", shardID), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "only DELETE is allowed on /delete/{shard_id}", http.StatusMethodNotAllowed)
		return
	}
	shardID := strings.TrimPrefix(r.URL.Path, "/delete/")
	if err := s.store.Delete(shardID); err != nil {
		log.Printf("[NodeServer] - Error deleting shard %s: %v", shardID, err)
		http.Error(w, "error deleting shard", http.StatusInternalServerError)
		return
	}
	log.Printf("[NodeServer] - Deleted shard %s", shardID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed on /health", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
