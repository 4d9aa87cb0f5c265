// Command vaultmesh-node runs a single shard node: a content-addressed blob
// store that holds opaque ciphertext shards and serves them back by id.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/vaultmesh/vaultmesh/internal/nodeserver"
)

func main() {
	portPtr := flag.Int("port", 9001, "port to listen on")
	dbPathPtr := flag.String("db-path", "", "path to this node's boltdb file (default: ./storage/<port>/shards.db)")
	flag.Parse()

	dbPath := *dbPathPtr
	if dbPath == "" {
		dbPath = fmt.Sprintf("./storage/%d/shards.db", *portPtr)
	}

	store, err := nodeserver.OpenStore(dbPath)
	if err != nil {
		log.Println("[Main] - Error opening shard store: ", err)
		os.Exit(1)
	}
	defer store.Close()

	mux := http.NewServeMux()
	nodeserver.NewServer(store).Register(mux)

	log.Printf("[Main] - Shard node listening on localhost:%d (db: %s)\n", *portPtr, dbPath)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *portPtr), mux); err != nil {
		log.Println("[Main] - Error listening: ", err)
		os.Exit(1)
	}
}
