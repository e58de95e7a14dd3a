package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// IngestCmd uploads documents from local files into a knowledge base.
func IngestCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "ingest <kb-id> <file>...",
		Short: "Ingest documents into a knowledge base",
		Long:  "Reads the given files and ingests each as one document. The document ID is derived from the file name.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			kbID := args[0]
			files := args[1:]

			docs := make([]map[string]interface{}, 0, len(files))
			for _, path := range files {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				metadata := map[string]interface{}{
					"source": filepath.Base(path),
				}
				if title != "" {
					metadata["title"] = title
				}

				docs = append(docs, map[string]interface{}{
					"id":       documentIDFromPath(path),
					"content":  string(content),
					"metadata": metadata,
				})
			}

			resp, err := c.Post("/knowledge-bases/"+kbID+"/documents", map[string]interface{}{
				"documents": docs,
			})
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			fmt.Printf("Ingested %d document(s) into %s\n", len(docs), kbID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Title metadata applied to all documents")

	return cmd
}

// DocCmd groups per-document commands.
func DocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Manage individual documents",
	}

	cmd.AddCommand(docUpdateCmd())
	cmd.AddCommand(docDeleteCmd())

	return cmd
}

func docUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <kb-id> <doc-id> <file>",
		Short: "Replace a document's content",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			content, err := os.ReadFile(args[2])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[2], err)
			}

			resp, err := c.Put("/knowledge-bases/"+args[0]+"/documents/"+args[1], map[string]interface{}{
				"content": string(content),
				"metadata": map[string]interface{}{
					"source": filepath.Base(args[2]),
				},
			})
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			fmt.Printf("Updated document %s\n", args[1])
			return nil
		},
	}

	return cmd
}

func docDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <kb-id> <doc-id>",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Delete("/knowledge-bases/" + args[0] + "/documents/" + args[1])
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			fmt.Printf("Deleted document %s\n", args[1])
			return nil
		},
	}

	return cmd
}

// documentIDFromPath derives a stable document ID from a file path.
func documentIDFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	id := strings.TrimSuffix(base, ext)
	return strings.ReplaceAll(id, " ", "-")
}
