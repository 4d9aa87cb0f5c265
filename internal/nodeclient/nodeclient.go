// Package nodeclient is the HTTP transport to a single storage node. Every
// transport or status error is squashed into a bool / optional-bytes result
// and never returned as an error, so the orchestrator sees one uniform
// partial-failure surface across all m nodes.
package nodeclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Per-request timeouts. Shard transfers get a generous bound; health probes
// and deletes must answer quickly or count as down.
const (
	PutGetTimeout    = 30 * time.Second
	HealthDelTimeout = 5 * time.Second
)

// Client talks to exactly one storage node.
type Client struct {
	NodeURL string
	HTTP    *http.Client
}

// New returns a Client for the given node URL.
func New(nodeURL string) *Client {
	return &Client{NodeURL: nodeURL, HTTP: &http.Client{}}
}

// Upload PUTs shard bytes to /store/{shard_id}. Returns true only on an
// HTTP 2xx response; any transport or status error returns false and is
// logged, never raised.
func (c *Client) Upload(ctx context.Context, shardID string, data []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, PutGetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.storeURL(shardID), bytes.NewReader(data))
	if err != nil {
		log.Printf("[NodeClient] - Error building upload request to %s: %v", c.NodeURL, err)
		return false
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Printf("[NodeClient] - Upload to %s failed: %v", c.NodeURL, err)
		return false
	}
	defer drainAndClose(resp.Body)

	if !is2xx(resp.StatusCode) {
		log.Printf("[NodeClient] - Upload to %s returned status %d", c.NodeURL, resp.StatusCode)
		return false
	}
	return true
}

// Download GETs /retrieve/{shard_id}. Returns (data, true) on 2xx,
// (nil, false) on a 404 or any transport/status error.
func (c *Client) Download(ctx context.Context, shardID string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, PutGetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.retrieveURL(shardID), nil)
	if err != nil {
		log.Printf("[NodeClient] - Error building download request to %s: %v", c.NodeURL, err)
		return nil, false
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Printf("[NodeClient] - Download from %s failed: %v", c.NodeURL, err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false
	}
	if !is2xx(resp.StatusCode) {
		log.Printf("[NodeClient] - Download from %s returned status %d", c.NodeURL, resp.StatusCode)
		return nil, false
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[NodeClient] - Error reading download body from %s: %v", c.NodeURL, err)
		return nil, false
	}
	return data, true
}

// Delete issues DELETE /delete/{shard_id}. Idempotent: both a 2xx and a 404
// count as success.
func (c *Client) Delete(ctx context.Context, shardID string) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthDelTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.deleteURL(shardID), nil)
	if err != nil {
		log.Printf("[NodeClient] - Error building delete request to %s: %v", c.NodeURL, err)
		return false
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Printf("[NodeClient] - Delete on %s failed: %v", c.NodeURL, err)
		return false
	}
	defer drainAndClose(resp.Body)

	if is2xx(resp.StatusCode) || resp.StatusCode == http.StatusNotFound {
		return true
	}
	log.Printf("[NodeClient] - Delete on %s returned status %d", c.NodeURL, resp.StatusCode)
	return false
}

// Health GETs /health with a short timeout; only a 2xx counts as up.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthDelTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.NodeURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer drainAndClose(resp.Body)

	return is2xx(resp.StatusCode)
}

func (c *Client) storeURL(shardID string) string    { return fmt.Sprintf("%s/store/%s", c.NodeURL, shardID) }
func (c *Client) retrieveURL(shardID string) string { return fmt.Sprintf("%s/retrieve/%s", c.NodeURL, shardID) }
func (c *Client) deleteURL(shardID string) string   { return fmt.Sprintf("%s/delete/%s", c.NodeURL, shardID) }

func is2xx(status int) bool { return status >= 200 && status < 300 }

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
