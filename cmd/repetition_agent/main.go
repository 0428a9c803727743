// Package main provides the entry point for the repetition agent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "repetition_agent",
	Short: "Repetitive-task orchestration agent",
	Long:  "Repetition agent orchestrates a repetitive task across a list of items: it resolves or constructs a task list, asks for confirmation, runs one worker invocation per item, and aggregates the results into a single CSV artifact.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
