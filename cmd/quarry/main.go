package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veldt-labs/quarry/internal/cli"
	"github.com/veldt-labs/quarry/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry CLI - retrieval-augmented knowledge bases",
		Long: `Quarry CLI manages knowledge bases, documents, and queries.

Environment variables:
  QUARRY_ORG_ID    Organization ID sent with every request
  QUARRY_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("org", "", "Organization ID (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.InitCmd())
	rootCmd.AddCommand(client.KBCmd())
	rootCmd.AddCommand(client.IngestCmd())
	rootCmd.AddCommand(client.DocCmd())
	rootCmd.AddCommand(client.QueryCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
