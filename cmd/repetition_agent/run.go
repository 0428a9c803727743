package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/repetition-orchestrator/internal/aggregate"
	"github.com/jonathan/repetition-orchestrator/internal/config"
	"github.com/jonathan/repetition-orchestrator/internal/db"
	"github.com/jonathan/repetition-orchestrator/internal/llm"
	"github.com/jonathan/repetition-orchestrator/internal/observability"
	"github.com/jonathan/repetition-orchestrator/internal/research"
	"github.com/jonathan/repetition-orchestrator/internal/resolver"
	"github.com/jonathan/repetition-orchestrator/internal/runner"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// Exit codes for the run command. Anything else exits 1.
const (
	exitOK           = 0
	exitNotFound     = 2
	exitEmptyList    = 3
	exitNotConfirmed = 4
	exitTotalFailure = 5
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run a repetitive task over a task list end-to-end",
	Long: `Resolves the task list (from storage, or constructed via web search when search credentials are configured), summarizes it for confirmation, then invokes the worker once per item and aggregates all results into a CSV artifact.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE:          runWorkflowCmd,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	runConfigPath   string
	runList         string
	runInstruction  string
	runFields       []string
	runOutput       string
	runYes          bool
	runTaskListDir  string
	runResultsDir   string
	runConcurrency  int
	runItemTimeout  int
	runRetries      int
	runSourcePages  int
	runAPIKey       string
	runSearchAPIKey string
	runSearchCX     string
	runDatabaseURL  string
	runUseBrowser   bool
	runVerbose      bool
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runList, "list", "l", "", "Task list name or query (required)")
	runCommand.Flags().StringVarP(&runInstruction, "instruction", "i", "", "Per-item instruction template containing {item_name} (required)")
	runCommand.Flags().StringSliceVarP(&runFields, "fields", "f", nil, "Response fields the worker must return for every item (required)")
	runCommand.Flags().StringVarP(&runOutput, "output", "o", "", "Result artifact name (defaults to <list>_results)")
	runCommand.Flags().BoolVarP(&runYes, "yes", "y", false, "Skip the confirmation prompt and run immediately")
	runCommand.Flags().StringVar(&runTaskListDir, "task-list-dir", "", "Directory holding task list CSV files")
	runCommand.Flags().StringVar(&runResultsDir, "results-dir", "", "Directory result artifacts are written to")
	runCommand.Flags().IntVar(&runConcurrency, "concurrency", 0, "Maximum worker invocations in flight")
	runCommand.Flags().IntVar(&runItemTimeout, "item-timeout", 0, "Per-item timeout in seconds")
	runCommand.Flags().IntVar(&runRetries, "retries", 0, "Extra attempts per failing item")
	runCommand.Flags().IntVar(&runSourcePages, "max-source-pages", 0, "Pages fetched when constructing a list from search")
	runCommand.Flags().BoolVar(&runUseBrowser, "use-browser", false, "Use headless browser for SPA sites (requires Chrome)")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")

	// API key can be passed as a flag, or read from env var GEMINI_API_KEY
	runCommand.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	runCommand.Flags().StringVar(&runSearchAPIKey, "search-api-key", "", "Google Custom Search API key (optional, defaults to GOOGLE_SEARCH_API_KEY env var)")
	runCommand.Flags().StringVar(&runSearchCX, "search-cx", "", "Google Custom Search engine id (optional, defaults to GOOGLE_SEARCH_CX env var)")

	// Database URL for run persistence
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(runCommand)
}

// loadRunConfig merges config file values, CLI overrides, env vars, and
// defaults, in that priority order (CLI wins).
func loadRunConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return cfg, err
		}
		cfg = *loadedCfg
		if runVerbose {
			fmt.Printf("Loaded config from: %s\n", runConfigPath)
		}
	}

	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("task-list-dir") {
		cfg.TaskListDir = runTaskListDir
	}
	if cmd.Flags().Changed("results-dir") {
		cfg.ResultsDir = runResultsDir
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = runConcurrency
	}
	if cmd.Flags().Changed("item-timeout") {
		cfg.ItemTimeoutSeconds = runItemTimeout
	}
	if cmd.Flags().Changed("retries") {
		cfg.MaxRetries = runRetries
	}
	if cmd.Flags().Changed("max-source-pages") {
		cfg.MaxSourcePages = runSourcePages
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = runAPIKey
	}
	if cmd.Flags().Changed("search-api-key") {
		cfg.SearchAPIKey = runSearchAPIKey
	}
	if cmd.Flags().Changed("search-cx") {
		cfg.SearchCX = runSearchCX
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}
	if cmd.Flags().Changed("use-browser") {
		cfg.UseBrowser = runUseBrowser
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}

	// Env var fallbacks
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.SearchAPIKey == "" {
		cfg.SearchAPIKey = os.Getenv("GOOGLE_SEARCH_API_KEY")
	}
	if cfg.SearchCX == "" {
		cfg.SearchCX = os.Getenv("GOOGLE_SEARCH_CX")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	cfg = cfg.MergeWithDefaults(config.Config{
		TaskListDir:        "sandbox/task_lists",
		ResultsDir:         "sandbox/results",
		Concurrency:        1,
		ItemTimeoutSeconds: 120,
		MaxSourcePages:     3,
	})
	return cfg, cfg.Validate()
}

func runWorkflowCmd(cmd *cobra.Command, _ []string) error {
	if runList == "" {
		return fmt.Errorf("--list is required")
	}
	instruction := worker.Instruction{
		Template:       runInstruction,
		ResponseFields: runFields,
	}
	if err := instruction.Validate(); err != nil {
		return err
	}

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required: set --api-key or GEMINI_API_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = executeWorkflow(ctx, cfg, instruction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
	return nil
}

// executeWorkflow wires the engine together and runs it to completion.
func executeWorkflow(ctx context.Context, cfg config.Config, instruction worker.Instruction) error {
	printer := observability.NewPrinter(os.Stdout)

	store, err := tasklist.NewStore(cfg.TaskListDir)
	if err != nil {
		return err
	}
	writer, err := aggregate.NewWriter(cfg.ResultsDir)
	if err != nil {
		return err
	}

	client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	// Web search is optional; without credentials only stored lists
	// resolve.
	var source resolver.ItemSource
	if cfg.SearchAPIKey != "" && cfg.SearchCX != "" {
		researcher, err := research.NewResearcher(ctx, cfg.SearchAPIKey, cfg.SearchCX, client,
			research.WithMaxPages(cfg.MaxSourcePages),
			research.WithBrowser(cfg.UseBrowser),
			research.WithVerbose(cfg.Verbose),
		)
		if err != nil {
			fmt.Printf("Warning: failed to initialize web search: %v\n", err)
		} else {
			source = researcher
		}
	} else if cfg.Verbose {
		fmt.Printf("[VERBOSE] Search credentials not set; only stored task lists will resolve\n")
	}

	// Database persistence is best-effort
	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			fmt.Printf("Warning: Failed to connect to database: %v\n", err)
			fmt.Printf("Continuing without database persistence...\n")
		} else {
			defer database.Close()
			if cfg.Verbose {
				fmt.Printf("[VERBOSE] Connected to database\n")
			}
		}
	}

	gate := runner.Gate(stdinGate{})
	if runYes {
		gate = runner.AutoApprove()
	}

	engine, err := runner.New(runner.Options{
		Worker:            worker.NewLLMWorker(client),
		Gate:              gate,
		Aggregator:        writer,
		Tracker:           runner.NewTracker(),
		Concurrency:       cfg.Concurrency,
		ItemTimeout:       time.Duration(cfg.ItemTimeoutSeconds) * time.Second,
		MaxRetriesPerItem: cfg.MaxRetries,
		DB:                database,
		Verbose:           cfg.Verbose,
		OnProgress: func(snap runner.Snapshot) {
			fmt.Printf("Progress: %d/%d items done (%d failed), last: %s\n",
				snap.Completed+snap.Failed, snap.Total, snap.Failed, snap.LastItem)
		},
	})
	if err != nil {
		return err
	}

	run, runErr := engine.ResolveAndRun(ctx, resolver.New(store, source, cfg.Verbose), runList, instruction, runOutput)
	if run != nil {
		printer.PrintOutcomes(run.Outcomes())
		printer.PrintRunSnapshot(run.Snapshot())
	}
	if runErr != nil {
		return runErr
	}

	fmt.Printf("Done! Results written to %s\n", run.ArtifactPath())
	return nil
}

// stdinGate prompts on the terminal for confirmation.
type stdinGate struct{}

func (stdinGate) AwaitConfirmation(ctx context.Context, summary runner.Summary) (runner.Decision, error) {
	fmt.Printf("\nTask list %q has %d items. Sample:\n", summary.Name, summary.Count)
	for _, item := range summary.Sample {
		fmt.Printf("  • %s\n", item)
	}
	fmt.Printf("\nProceed? [y]es / [n]o / amend <new query>: ")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return runner.Decision{}, err
		}
		answer := strings.TrimSpace(scanner.Text())
		switch {
		case strings.EqualFold(answer, "y"), strings.EqualFold(answer, "yes"):
			return runner.Decision{Kind: runner.DecisionConfirmed}, nil
		case strings.EqualFold(answer, "n"), strings.EqualFold(answer, "no"):
			return runner.Decision{Kind: runner.DecisionRejected}, nil
		case strings.HasPrefix(strings.ToLower(answer), "amend "):
			newQuery := strings.TrimSpace(answer[len("amend "):])
			if newQuery != "" {
				return runner.Decision{Kind: runner.DecisionAmended, NewQuery: newQuery}, nil
			}
			fmt.Printf("Amend needs a query. Proceed? [y]es / [n]o / amend <new query>: ")
		default:
			fmt.Printf("Please answer. Proceed? [y]es / [n]o / amend <new query>: ")
		}
	}
	if err := scanner.Err(); err != nil {
		return runner.Decision{}, err
	}
	// Stdin closed without an answer; treat as a rejection.
	return runner.Decision{Kind: runner.DecisionRejected}, nil
}

// exitCode maps workflow errors onto the documented exit codes.
func exitCode(err error) int {
	var writeErr *runner.ArtifactWriteError
	switch {
	case err == nil:
		return exitOK
	case tasklist.IsNotFound(err):
		return exitNotFound
	case tasklist.IsEmpty(err):
		return exitEmptyList
	case errors.Is(err, runner.ErrNotConfirmed):
		return exitNotConfirmed
	case errors.Is(err, runner.ErrTotalFailure):
		return exitTotalFailure
	case errors.As(err, &writeErr):
		return 1
	default:
		return 1
	}
}
