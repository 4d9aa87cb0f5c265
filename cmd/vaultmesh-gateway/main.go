// Command vaultmesh-gateway runs the client-facing HTTP façade, wrapping one
// orchestrator over m shard nodes. MASTER_VAULT_KEY must be set in the
// environment; start-up fails fast without it.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/vaultmesh/vaultmesh/internal/config"
	"github.com/vaultmesh/vaultmesh/internal/gateway"
	"github.com/vaultmesh/vaultmesh/internal/orchestrator"
)

func main() {
	portPtr := flag.Int("port", 8080, "port to listen on")
	nodesPtr := flag.String("nodes", "", "comma-separated list of shard node URLs (http://host:port), length must equal -m")
	kPtr := flag.Int("k", config.DefaultK, "shards required to reconstruct a file")
	mPtr := flag.Int("m", config.DefaultM, "total shards per file")
	metadataDirPtr := flag.String("metadata-dir", "./metadata", "directory holding sealed manifest files")
	flag.Parse()

	if *nodesPtr == "" {
		log.Println("[Config] - No shard nodes set. Set using --nodes (comma-separated)")
		os.Exit(1)
	}
	nodes := strings.Split(*nodesPtr, ",")

	cfg, err := config.Load(nodes, *kPtr, *mPtr, *metadataDirPtr)
	if err != nil {
		log.Println("[Config] - Error loading config: ", err)
		os.Exit(1)
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		log.Println("[Main] - Error constructing orchestrator: ", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	gateway.New(orch).Register(mux)

	log.Printf("[Main] - Gateway listening on localhost:%d (k=%d, m=%d, nodes=%v)\n", *portPtr, cfg.K, cfg.M, cfg.Nodes)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *portPtr), mux); err != nil {
		log.Println("[Main] - Error listening: ", err)
		os.Exit(1)
	}
}
