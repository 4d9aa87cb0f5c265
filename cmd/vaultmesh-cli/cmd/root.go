package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

var gatewayAddr string

var rootCmd = &cobra.Command{
	Use:   "vaultmesh-cli",
	Short: "Operator CLI for a vaultmesh gateway",
	Long:  `Command-line client for uploading, downloading, listing, and health-checking files stored through a vaultmesh gateway.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Println("Error: ", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&gatewayAddr, "gateway", "g", "http://localhost:8080", "base URL of the vaultmesh gateway")
}
