package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/veldt-labs/quarry/internal/config"
	"github.com/veldt-labs/quarry/internal/database"
	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/pagination"
	"github.com/veldt-labs/quarry/internal/repository"
	"github.com/veldt-labs/quarry/internal/service"
)

func KBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
		Long:  "Create and list knowledge bases directly against the database",
	}

	cmd.AddCommand(KBCreateCmd())
	cmd.AddCommand(KBListCmd())

	return cmd
}

func KBCreateCmd() *cobra.Command {
	var (
		orgID       string
		description string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new knowledge base",
		Long:  "Create a new knowledge base for an organization with default settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runKBCreate(orgID, args[0], description, outputFormat)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&description, "description", "", "Knowledge base description")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKBCreate(orgID, name, description, outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	uuidGen := &service.DefaultUUIDGenerator{}
	kb := domain.NewKnowledgeBase(uuidGen.NewString(), orgID, name, description,
		domain.DefaultKnowledgeBaseSettings(), time.Now().UTC())
	if err := domain.ValidateKnowledgeBase(kb); err != nil {
		return fmt.Errorf("invalid knowledge base: %w", err)
	}

	repo := repository.NewKnowledgeBaseRepository(pool)
	if err := repo.CreateKnowledgeBase(ctx, kb); err != nil {
		return fmt.Errorf("failed to create knowledge base: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":         kb.ID,
			"org_id":     kb.OrgID,
			"name":       kb.Name,
			"created_at": kb.CreatedAt,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Knowledge base created: %s (%s)\n", kb.Name, kb.ID)
	}

	return nil
}

func KBListCmd() *cobra.Command {
	var (
		orgID  string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an organization's knowledge bases",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runKBList(orgID, outputFormat, limit, cursor)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKBList(orgID, outputFormat string, limit int, cursorStr string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewKnowledgeBaseRepository(pool)

	cursor, err := pagination.DecodeCursor(cursorStr)
	if err != nil {
		return fmt.Errorf("invalid cursor: %w", err)
	}

	result, err := repo.ListKnowledgeBases(ctx, orgID, cursor, limit)
	if err != nil {
		return fmt.Errorf("failed to list knowledge bases: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(result.Items))
		for i, kb := range result.Items {
			data[i] = map[string]interface{}{
				"id":         kb.ID,
				"org_id":     kb.OrgID,
				"name":       kb.Name,
				"is_active":  kb.IsActive,
				"created_at": kb.CreatedAt,
			}
		}
		output := map[string]interface{}{
			"items":    data,
			"cursor":   result.NextCursor,
			"has_more": result.HasMore,
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(result.Items) == 0 {
			fmt.Println("No knowledge bases found")
			return nil
		}
		fmt.Println("Knowledge bases:")
		for _, kb := range result.Items {
			status := "active"
			if !kb.IsActive {
				status = "inactive"
			}
			fmt.Printf("  %s: %s (%s, created: %s)\n", kb.ID, kb.Name, status, kb.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		if result.HasMore && result.NextCursor != "" {
			fmt.Printf("\nMore results available. Use --cursor %s\n", result.NextCursor)
		}
	}

	return nil
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return database.NewPoolFromURL(ctx, cfg.DatabaseURL)
}
