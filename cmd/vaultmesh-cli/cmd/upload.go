package cmd

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadFilePath string

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a file to the vaultmesh network",
	Long:  `Command to send a file to the network, specifying the --file-path argument (the local path where the file is located).`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Printf("Uploading file %s ...\n", uploadFilePath)
		file, err := os.Open(uploadFilePath)
		if err != nil {
			log.Println("Error opening file: ", err)
			return
		}
		defer file.Close()

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)

		part, err := writer.CreateFormFile("file", filepath.Base(uploadFilePath))
		if err != nil {
			log.Println("Error creating form file: ", err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			log.Println("Error copying file content: ", err)
			return
		}
		if err := writer.Close(); err != nil {
			log.Println("Error closing writer: ", err)
			return
		}

		resp, err := http.Post(fmt.Sprintf("%s/upload", gatewayAddr), writer.FormDataContentType(), body)
		if err != nil {
			log.Println("Error calling upload endpoint: ", err)
			return
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Printf("Upload request completed (status %d), but failed to read response body: %v\n", resp.StatusCode, err)
			return
		}
		if resp.StatusCode == http.StatusCreated {
			log.Printf("File %s uploaded successfully: %s\n", uploadFilePath, string(bodyBytes))
		} else {
			log.Printf("Error uploading file (status %d): %s\n", resp.StatusCode, string(bodyBytes))
		}
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVarP(&uploadFilePath, "file-path", "f", "", "path to the file to upload")
	uploadCmd.MarkFlagRequired("file-path")
}
