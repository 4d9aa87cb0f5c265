package cmd

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	downloadFilename string
	downloadOut      string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and reconstruct a file from the vaultmesh network",
	Long:  `Command to download a file by filename from the vaultmesh network and save the reconstructed bytes locally.`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Printf("Downloading %s ...\n", downloadFilename)

		resp, err := http.Get(fmt.Sprintf("%s/download/%s", gatewayAddr, downloadFilename))
		if err != nil {
			log.Println("Error calling download endpoint: ", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			log.Printf("Error downloading file (status %d): %s\n", resp.StatusCode, string(bodyBytes))
			return
		}

		out := downloadOut
		if out == "" {
			out = downloadFilename
		}
		f, err := os.Create(out)
		if err != nil {
			log.Println("Error creating output file: ", err)
			return
		}
		defer f.Close()

		if _, err := io.Copy(f, resp.Body); err != nil {
			log.Println("Error writing output file: ", err)
			return
		}
		log.Printf("File %s downloaded and saved to %s\n", downloadFilename, out)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVarP(&downloadFilename, "filename", "f", "", "filename to download")
	downloadCmd.Flags().StringVarP(&downloadOut, "out", "o", "", "local path to save the reconstructed file (default: filename)")
	downloadCmd.MarkFlagRequired("filename")
}
