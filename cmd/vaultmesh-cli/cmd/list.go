package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List files known to the vaultmesh network",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.Get(fmt.Sprintf("%s/files", gatewayAddr))
		if err != nil {
			log.Println("Error calling files endpoint: ", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			log.Printf("Error listing files (status %d): %s\n", resp.StatusCode, string(bodyBytes))
			return
		}

		var summaries []map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
			log.Println("Error decoding response: ", err)
			return
		}
		for _, s := range summaries {
			fmt.Printf("%-40s %10v bytes  k=%v m=%v  uploaded %v\n",
				s["filename"], s["file_size"], s["k_required"], s["m_total"], s["upload_date"])
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
