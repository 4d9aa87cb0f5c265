// Command vaultmesh-cli is the operator's thin HTTP client against a running
// gateway: upload, download, list, and health.
package main

import "github.com/vaultmesh/vaultmesh/cmd/vaultmesh-cli/cmd"

func main() {
	cmd.Execute()
}
