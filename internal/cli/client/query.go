package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// QueryAnswer mirrors the server's query response.
type QueryAnswer struct {
	Query      string  `json:"query"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Sources    []struct {
		ChunkID    string  `json:"chunk_id"`
		DocumentID string  `json:"document_id"`
		Source     string  `json:"source"`
		Score      float64 `json:"score"`
		Relevance  string  `json:"relevance"`
	} `json:"sources"`
	ProcessingTimeMS int64 `json:"processing_time_ms"`
	TokensUsed       int   `json:"tokens_used"`
	Metadata         struct {
		Model           string `json:"model"`
		RetrievalMethod string `json:"retrieval_method"`
		ChunksRetrieved int    `json:"chunks_retrieved"`
	} `json:"metadata"`
}

// QueryCmd asks a question against a knowledge base.
func QueryCmd() *cobra.Command {
	var (
		topK      int
		threshold float64
		model     string
		docIDs    []string
		sources   []string
	)

	cmd := &cobra.Command{
		Use:   "query <kb-id> <question>",
		Short: "Ask a question against a knowledge base",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			body := map[string]interface{}{
				"query": args[1],
			}
			if topK > 0 {
				body["top_k"] = topK
			}
			if threshold > 0 {
				body["threshold"] = threshold
			}
			if model != "" {
				body["model"] = model
			}
			if len(docIDs) > 0 || len(sources) > 0 {
				filters := map[string]interface{}{}
				if len(docIDs) > 0 {
					filters["document_ids"] = docIDs
				}
				if len(sources) > 0 {
					filters["sources"] = sources
				}
				body["filters"] = filters
			}

			resp, err := c.Post("/knowledge-bases/"+args[0]+"/query", body)
			if err != nil {
				return err
			}

			outputJSON, _ := cmd.Flags().GetBool("output")
			if outputJSON {
				fmt.Println(string(resp.Data))
				return nil
			}

			var answer QueryAnswer
			if err := json.Unmarshal(resp.Data, &answer); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			fmt.Println(answer.Answer)
			fmt.Printf("\nConfidence: %.1f%%  (%d chunks, %dms, %s)\n",
				answer.Confidence, answer.Metadata.ChunksRetrieved, answer.ProcessingTimeMS, answer.Metadata.RetrievalMethod)
			for i, src := range answer.Sources {
				label := src.Source
				if label == "" {
					label = src.DocumentID
				}
				fmt.Printf("  [%d] %s (score %.2f, %s)\n", i+1, label, src.Score, src.Relevance)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity score")
	cmd.Flags().StringVar(&model, "model", "", "Language model for answer synthesis")
	cmd.Flags().StringSliceVar(&docIDs, "document", nil, "Restrict retrieval to these document IDs")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Restrict retrieval to these sources")

	return cmd
}
