package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/repetition-orchestrator/internal/aggregate"
	"github.com/jonathan/repetition-orchestrator/internal/config"
	"github.com/jonathan/repetition-orchestrator/internal/db"
	"github.com/jonathan/repetition-orchestrator/internal/llm"
	"github.com/jonathan/repetition-orchestrator/internal/runner"
	"github.com/jonathan/repetition-orchestrator/internal/server/middleware"
	"github.com/jonathan/repetition-orchestrator/internal/server/ratelimit"
	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
	"github.com/jonathan/repetition-orchestrator/internal/worker"
)

// RunHistory reads persisted runs and outcomes. *db.DB implements it;
// the tracker stays authoritative for runs still in memory.
type RunHistory interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*db.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]db.RunRecord, error)
	ListOutcomes(ctx context.Context, runID uuid.UUID) ([]db.OutcomeRecord, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	store       *tasklist.Store
	writer      *aggregate.Writer
	tracker     *runner.Tracker
	engine      *runner.Runner
	database    *db.DB
	history     RunHistory
	llmClient   llm.Client
	rateLimiter *ratelimit.Limiter
	jwtService  *JWTService

	// runCtx outlives individual requests: confirmed runs execute under
	// it and are cancelled on shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc

	gateMu sync.Mutex
	gates  map[uuid.UUID]chan runner.Decision
}

// Config holds server configuration
type Config struct {
	Port        int
	TaskListDir string
	ResultsDir  string
	APIKey      string
	DatabaseURL string

	Concurrency int
	ItemTimeout time.Duration
	MaxRetries  int

	// Worker overrides the default Gemini-backed worker; used in tests.
	Worker worker.Worker
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	store, err := tasklist.NewStore(cfg.TaskListDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open task list store: %w", err)
	}
	writer, err := aggregate.NewWriter(cfg.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open results directory: %w", err)
	}

	s := &Server{
		store:   store,
		writer:  writer,
		tracker: runner.NewTracker(),
		gates:   make(map[uuid.UUID]chan runner.Decision),
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	itemWorker := cfg.Worker
	if itemWorker == nil {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("API key is required")
		}
		client, err := llm.NewClient(context.Background(), llm.DefaultConfig(), cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		s.llmClient = client
		itemWorker = worker.NewLLMWorker(client)
	}

	// Database persistence is optional; a missing database only loses
	// run history.
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: failed to connect to database: %v", err)
			log.Printf("Continuing without run persistence...")
		} else {
			s.database = database
			s.history = database
		}
	}

	s.engine, err = runner.New(runner.Options{
		Worker:            itemWorker,
		Gate:              runner.AutoApprove(), // confirmation happens over HTTP before Execute
		Aggregator:        writer,
		Tracker:           s.tracker,
		Concurrency:       cfg.Concurrency,
		ItemTimeout:       cfg.ItemTimeout,
		MaxRetriesPerItem: cfg.MaxRetries,
		DB:                s.database,
	})
	if err != nil {
		return nil, err
	}

	// Initialize rate limiter
	s.rateLimiter = ratelimit.NewLimiter(ratelimit.LoadConfig())

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT config: %w", err)
	}
	s.jwtService = NewJWTService(jwtConfig)

	// Setup router
	auth := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /task-lists", auth(http.HandlerFunc(s.handleListTaskLists)))
	mux.Handle("POST /runs", auth(http.HandlerFunc(s.handleCreateRun)))
	mux.Handle("GET /runs", auth(http.HandlerFunc(s.handleListRuns)))
	mux.Handle("GET /runs/{id}", auth(http.HandlerFunc(s.handleGetRun)))
	mux.Handle("POST /runs/{id}/confirm", auth(http.HandlerFunc(s.handleConfirmRun)))
	mux.Handle("POST /runs/{id}/reject", auth(http.HandlerFunc(s.handleRejectRun)))
	mux.Handle("POST /runs/{id}/cancel", auth(http.HandlerFunc(s.handleCancelRun)))
	mux.Handle("GET /runs/{id}/events", auth(http.HandlerFunc(s.handleRunEvents)))
	mux.Handle("GET /runs/{id}/artifact", auth(http.HandlerFunc(s.handleRunArtifact)))

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for SSE streams
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start begins listening for requests
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.Close()
	log.Println("Server stopped")
	return nil
}

// Close releases server resources: running runs are cancelled, the rate
// limiter and database connections stop.
func (s *Server) Close() {
	s.runCancel()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.database != nil {
		s.database.Close()
	}
	if s.llmClient != nil {
		_ = s.llmClient.Close()
	}
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		if !allowed {
			s.setRateLimitHeaders(w, info)
			s.rateLimitResponse(w, info)
			return
		}

		s.setRateLimitHeaders(w, info)
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID extracts the client identifier from the request.
// For MVP, this uses the IP address from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If parsing fails, use the whole RemoteAddr
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
