package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCommand = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query run progress from a running server",
	Long:  "Fetches the current snapshot of a run (or all runs, when no id is given) from the HTTP automation API.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatusCmd,
}

var (
	statusServer string
	statusToken  string
)

func init() {
	statusCommand.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "Base URL of the automation API")
	statusCommand.Flags().StringVar(&statusToken, "token", "", "Bearer token (optional, defaults to REPETITION_API_TOKEN env var)")

	rootCmd.AddCommand(statusCommand)
}

func runStatusCmd(_ *cobra.Command, args []string) error {
	token := statusToken
	if token == "" {
		token = os.Getenv("REPETITION_API_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("a bearer token is required: set --token or REPETITION_API_TOKEN (mint one with the token command)")
	}

	url := statusServer + "/runs"
	if len(args) == 1 {
		url += "/" + args[0]
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(body))
	}

	// Re-indent for the terminal.
	var pretty json.RawMessage = body
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(string(out))
	return nil
}
