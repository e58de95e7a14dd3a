package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func InitCmd() *cobra.Command {
	var orgID string
	var apiURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Configure the quarry client",
		Long:  "Saves the API URL and organization ID to the global config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runInit(orgID, apiURL, outputJSON)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "API base URL (default: http://localhost:8080)")

	return cmd
}

func runInit(orgID, apiURL string, outputJSON bool) error {
	_ = godotenv.Load()
	if orgID == "" {
		orgID = os.Getenv(envOrgID)
	}
	if orgID == "" {
		fmt.Print("Enter organization ID: ")
		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read organization ID: %w", err)
		}
		orgID = strings.TrimSpace(input)
		if orgID == "" {
			return fmt.Errorf("organization ID is required")
		}
	}

	if apiURL == "" {
		apiURL = os.Getenv(envAPIURL)
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	if err := SaveGlobalConfig(&GlobalConfig{APIURL: apiURL, OrgID: orgID}); err != nil {
		return err
	}

	configPath, _ := GetConfigPath()

	if outputJSON {
		out, _ := json.Marshal(map[string]string{
			"config_path": configPath,
			"api_url":     apiURL,
			"org_id":      orgID,
		})
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Saved config to %s\n", configPath)
	fmt.Printf("  api_url: %s\n", apiURL)
	fmt.Printf("  org_id:  %s\n", orgID)
	return nil
}
