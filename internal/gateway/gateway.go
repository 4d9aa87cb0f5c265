// Package gateway is the HTTP façade in front of one Orchestrator:
// /upload, /download/{filename}, /files, /metadata/{filename}, and /health,
// plus the mapping from orchestrator error kinds to status codes. Every
// request is stamped with a uuid correlation id for log grepping.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vaultmesh/vaultmesh/internal/orchestrator"
)

// maxUploadBytes bounds the request body read for /upload. Files are held
// in memory as a single buffer, so this only guards against an unbounded
// read on a malformed request.
const maxUploadBytes = 1 << 30 // 1 GiB

// Gateway wraps one Orchestrator with the client-facing HTTP surface.
type Gateway struct {
	orch *orchestrator.Orchestrator
}

// New returns a Gateway backed by orch.
func New(orch *orchestrator.Orchestrator) *Gateway {
	return &Gateway{orch: orch}
}

// Register attaches the gateway's endpoints to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("/upload", g.handleUpload)
	mux.HandleFunc("/files", g.handleFiles)
	mux.HandleFunc("/download/", g.handleDownload)
	mux.HandleFunc("/metadata/", g.handleMetadata)
	mux.HandleFunc("/health", g.handleHealth)
}

func requestID() string { return uuid.NewString() }

func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	rid := requestID()
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is allowed on /upload", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		log.Printf("[Gateway][%s] - Error parsing multipart form: %v", rid, err)
		http.Error(w, "error parsing multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		log.Printf("[Gateway][%s] - Error reading file field: %v", rid, err)
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		log.Printf("[Gateway][%s] - Error reading upload body: %v", rid, err)
		http.Error(w, "error reading upload body", http.StatusInternalServerError)
		return
	}

	log.Printf("[Gateway][%s] - Uploading %q (%d bytes)", rid, header.Filename, len(data))
	if _, err := g.orch.UploadFile(r.Context(), header.Filename, data); err != nil {
		g.writeOrchestratorError(w, rid, "upload", err)
		return
	}

	k, m := g.orch.Params()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"filename":           header.Filename,
		"shards_distributed": m,
		"recovery_threshold": k,
		"request_id":         rid,
	})
}

func (g *Gateway) handleDownload(w http.ResponseWriter, r *http.Request) {
	rid := requestID()
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed on /download/{filename}", http.StatusMethodNotAllowed)
		return
	}
	filename := strings.TrimPrefix(r.URL.Path, "/download/")
	if filename == "" {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}

	plaintext, err := g.orch.DownloadFile(r.Context(), filename)
	if err != nil {
		g.writeOrchestratorError(w, rid, "download", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(plaintext)
}

func (g *Gateway) handleFiles(w http.ResponseWriter, r *http.Request) {
	rid := requestID()
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed on /files", http.StatusMethodNotAllowed)
		return
	}
	summaries, err := g.orch.ListFiles()
	if err != nil {
		g.writeOrchestratorError(w, rid, "list", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// handleMetadata returns the redacted manifest for a single file. Unlike
// /files (which reduces to Summary), this returns the full Manifest with
// the encryption_key field replaced by the sentinel.
func (g *Gateway) handleMetadata(w http.ResponseWriter, r *http.Request) {
	rid := requestID()
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed on /metadata/{filename}", http.StatusMethodNotAllowed)
		return
	}
	filename := strings.TrimPrefix(r.URL.Path, "/metadata/")
	if filename == "" {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}

	m, err := g.orch.ManifestFor(filename)
	if err != nil {
		g.writeOrchestratorError(w, rid, "metadata", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed on /health", http.StatusMethodNotAllowed)
		return
	}
	report := g.orch.Health(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       report.Status,
		"online_count": report.OnlineCount,
		"per_node":     report.PerNode,
	})
}

// writeOrchestratorError maps an orchestrator.Error's Kind onto an HTTP
// status code. The mapping lives entirely here; the orchestrator knows
// nothing about HTTP statuses.
func (g *Gateway) writeOrchestratorError(w http.ResponseWriter, rid, op string, err error) {
	log.Printf("[Gateway][%s] - %s failed: %v", rid, op, err)

	var oe *orchestrator.Error
	if !errors.As(err, &oe) {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch oe.Kind {
	case orchestrator.InputRejected:
		// InputRejected covers both a rejected upload body (400) and a
		// lookup naming a file that was never stored (404).
		if op == "download" || op == "metadata" {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	case orchestrator.NodeUnavailable, orchestrator.Unavailable:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case orchestrator.Tampered:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case orchestrator.UploadFailed, orchestrator.ManifestPersistFailed, orchestrator.Configuration, orchestrator.VaultErrorKind:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
