package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/repetition-orchestrator/internal/config"
	"github.com/jonathan/repetition-orchestrator/internal/server"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP automation API",
	Long:  "Serves the run lifecycle over HTTP: create a run, confirm or reject it, stream progress events, and fetch the finalized artifact. Requires JWT_SECRET for authentication.",
	RunE:  runServeCmd,
}

var (
	serveConfigPath  string
	servePort        int
	serveTaskListDir string
	serveResultsDir  string
	serveAPIKey      string
	serveDatabaseURL string
	serveConcurrency int
	serveItemTimeout int
	serveRetries     int
)

func init() {
	serveCommand.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	serveCommand.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCommand.Flags().StringVar(&serveTaskListDir, "task-list-dir", "", "Directory holding task list CSV files")
	serveCommand.Flags().StringVar(&serveResultsDir, "results-dir", "", "Directory result artifacts are written to")
	serveCommand.Flags().StringVar(&serveAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	serveCommand.Flags().StringVar(&serveDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	serveCommand.Flags().IntVar(&serveConcurrency, "concurrency", 0, "Maximum worker invocations in flight")
	serveCommand.Flags().IntVar(&serveItemTimeout, "item-timeout", 0, "Per-item timeout in seconds")
	serveCommand.Flags().IntVar(&serveRetries, "retries", 0, "Extra attempts per failing item")

	rootCmd.AddCommand(serveCommand)
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	var cfg config.Config
	if serveConfigPath != "" {
		loadedCfg, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return err
		}
		cfg = *loadedCfg
	}

	if cmd.Flags().Changed("task-list-dir") {
		cfg.TaskListDir = serveTaskListDir
	}
	if cmd.Flags().Changed("results-dir") {
		cfg.ResultsDir = serveResultsDir
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = serveAPIKey
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = serveDatabaseURL
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = serveConcurrency
	}
	if cmd.Flags().Changed("item-timeout") {
		cfg.ItemTimeoutSeconds = serveItemTimeout
	}
	if cmd.Flags().Changed("retries") {
		cfg.MaxRetries = serveRetries
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	cfg = cfg.MergeWithDefaults(config.Config{
		TaskListDir:        "sandbox/task_lists",
		ResultsDir:         "sandbox/results",
		Concurrency:        1,
		ItemTimeoutSeconds: 120,
	})

	s, err := server.New(server.Config{
		Port:        servePort,
		TaskListDir: cfg.TaskListDir,
		ResultsDir:  cfg.ResultsDir,
		APIKey:      cfg.APIKey,
		DatabaseURL: cfg.DatabaseURL,
		Concurrency: cfg.Concurrency,
		ItemTimeout: time.Duration(cfg.ItemTimeoutSeconds) * time.Second,
		MaxRetries:  cfg.MaxRetries,
	})
	if err != nil {
		return err
	}
	return s.Start()
}
