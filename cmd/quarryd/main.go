package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veldt-labs/quarry/internal/cli"
	"github.com/veldt-labs/quarry/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quarryd",
		Short: "Quarry daemon",
		Long:  "Quarry daemon for running the knowledge base API server",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.KBCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
