package cmd

import (
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the aggregated health of the vaultmesh gateway's nodes",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.Get(fmt.Sprintf("%s/health", gatewayAddr))
		if err != nil {
			log.Println("Error calling health endpoint: ", err)
			return
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Println("Error reading response: ", err)
			return
		}
		fmt.Println(string(bodyBytes))
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
