package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// KnowledgeBaseItem mirrors the server's knowledge base response.
type KnowledgeBaseItem struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// KnowledgeBaseListPage mirrors the server's list response.
type KnowledgeBaseListPage struct {
	Items   []KnowledgeBaseItem `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

// KBCmd groups knowledge-base management commands.
func KBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
	}

	cmd.AddCommand(kbCreateCmd())
	cmd.AddCommand(kbListCmd())
	cmd.AddCommand(kbStatsCmd())
	cmd.AddCommand(kbDeactivateCmd())

	return cmd
}

func kbCreateCmd() *cobra.Command {
	var (
		description     string
		chunkSize       int
		chunkOverlap    int
		retrievalMethod string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			body := map[string]interface{}{
				"name":        args[0],
				"description": description,
			}
			settings := map[string]interface{}{}
			if chunkSize > 0 {
				settings["chunk_size"] = chunkSize
			}
			if chunkOverlap > 0 {
				settings["chunk_overlap"] = chunkOverlap
			}
			if retrievalMethod != "" {
				settings["retrieval_method"] = retrievalMethod
			}
			if len(settings) > 0 {
				body["settings"] = settings
			}

			resp, err := c.Post("/knowledge-bases", body)
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			var kb KnowledgeBaseItem
			if err := json.Unmarshal(resp.Data, &kb); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			fmt.Printf("Created knowledge base %s (%s)\n", kb.Name, kb.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Knowledge base description")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Chunk overlap in characters")
	cmd.Flags().StringVar(&retrievalMethod, "retrieval-method", "", "Retrieval method: similarity, mmr, hybrid")

	return cmd
}

func kbListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			path := fmt.Sprintf("/knowledge-bases?limit=%d", limit)
			if cursor != "" {
				path += "&cursor=" + cursor
			}

			resp, err := c.Get(path)
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			var page KnowledgeBaseListPage
			if err := json.Unmarshal(resp.Data, &page); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if len(page.Items) == 0 {
				fmt.Println("No knowledge bases found.")
				return nil
			}
			for _, kb := range page.Items {
				status := "active"
				if !kb.IsActive {
					status = "inactive"
				}
				fmt.Printf("%s  %-24s %-8s %s\n", kb.ID, kb.Name, status, kb.UpdatedAt)
			}
			if page.HasMore {
				fmt.Printf("\nMore results: --cursor %s\n", page.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor")

	return cmd
}

func kbStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <kb-id>",
		Short: "Show knowledge base statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Get("/knowledge-bases/" + args[0] + "/stats")
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			var stats struct {
				TotalDocuments   int     `json:"total_documents"`
				TotalChunks      int     `json:"total_chunks"`
				AverageChunkSize float64 `json:"average_chunk_size"`
				LastUpdated      string  `json:"last_updated"`
			}
			if err := json.Unmarshal(resp.Data, &stats); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			fmt.Printf("Documents:          %d\n", stats.TotalDocuments)
			fmt.Printf("Chunks:             %d\n", stats.TotalChunks)
			fmt.Printf("Average chunk size: %.1f chars\n", stats.AverageChunkSize)
			if stats.LastUpdated != "" {
				fmt.Printf("Last updated:       %s\n", stats.LastUpdated)
			}
			return nil
		},
	}

	return cmd
}

func kbDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <kb-id>",
		Short: "Deactivate a knowledge base",
		Long:  "Deactivates a knowledge base. Stored chunks are kept but ingestion and queries are rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Delete("/knowledge-bases/" + args[0])
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			fmt.Printf("Deactivated knowledge base %s\n", args[0])
			return nil
		},
	}

	return cmd
}
