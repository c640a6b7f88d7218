package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/praveenk20/mongodb-agent-ai/internal/agent"
	"github.com/praveenk20/mongodb-agent-ai/internal/api"
	"github.com/praveenk20/mongodb-agent-ai/internal/config"
	"github.com/praveenk20/mongodb-agent-ai/internal/dispatch"
	"github.com/praveenk20/mongodb-agent-ai/internal/llm"
	"github.com/praveenk20/mongodb-agent-ai/internal/mongo"
	"github.com/praveenk20/mongodb-agent-ai/internal/runstore"
	"github.com/praveenk20/mongodb-agent-ai/internal/semantic"
	"github.com/praveenk20/mongodb-agent-ai/internal/usage"
	"github.com/praveenk20/mongodb-agent-ai/internal/web"
)

var (
	loadDotEnv         = godotenv.Load
	newRunStore        = runstore.NewStore
	newSemanticSource  = semantic.NewSource
	newLLMClient       = llm.New
	newExecutor        = mongo.New
	newDispatcher      = dispatch.New
	newWebHandler      = web.NewHandler
	defaultListenServe = listenAndServe
)

func main() {
	var (
		port    = flag.Int("port", 0, "listen port (overrides PORT)")
		envFile = flag.String("env-file", "", "path to a .env file (default: .env in the working directory)")
	)
	flag.Parse()

	if err := run(context.Background(), *port, *envFile, defaultListenServe); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, portOverride int, envFile string, serve func(string, http.Handler) error) error {
	// Load .env file (ignore error if the default file doesn't exist)
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		_ = loadDotEnv()
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if portOverride != 0 {
		cfg.Port = portOverride
	}

	log.Printf("Starting MongoDB Agent server...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Provider: %s", cfg.Provider)
	log.Printf("Connection type: %s", cfg.ConnectionType)
	log.Printf("Model source: %s", cfg.ModelSource)
	log.Printf("Dispatcher workers: %d, queue size: %d, max attempts: %d", cfg.DispatcherWorkers, cfg.DispatcherQueueSize, cfg.DispatcherMaxAttempts)

	// Initialize in-memory run store for history and UI
	store := newRunStore(0)

	// Initialize the daily LLM usage tracker
	tracker := usage.NewTracker(cfg.DailyCallLimit, cfg.UsageAlertThreshold)

	// Initialize the semantic model source
	source, err := newSemanticSource(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize semantic model source: %w", err)
	}

	// Initialize the LLM client and report its calls to the tracker
	client, err := newLLMClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	client = llm.WithUsage(client, func(u llm.Usage) {
		tracker.Record(u.Provider, u.PromptChars, u.CompletionChars)
	})
	log.Printf("LLM client: %s", client.Name())

	// Initialize the MongoDB executor
	exec, err := newExecutor(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB executor: %w", err)
	}
	defer exec.Close(context.Background())

	// Initialize the agent
	runner := agent.New(cfg, source, client, exec, tracker)

	// Initialize dispatcher (async run queue with retries)
	dispatcherConfig := dispatch.Config{
		Workers:           cfg.DispatcherWorkers,
		QueueSize:         cfg.DispatcherQueueSize,
		MaxAttempts:       cfg.DispatcherMaxAttempts,
		InitialBackoff:    cfg.DispatcherRetryInitial,
		BackoffMultiplier: cfg.DispatcherBackoffMultiplier,
		MaxBackoff:        cfg.DispatcherRetryMax,
	}
	runDispatcher := newDispatcher(runner, store, dispatcherConfig)
	defer runDispatcher.Shutdown(ctx)

	// Initialize REST handler
	apiHandler := api.NewHandler(cfg, runner, runDispatcher, store, source, tracker)

	// Initialize web UI handler
	webHandler, err := newWebHandler(store)
	if err != nil {
		return fmt.Errorf("failed to initialize web handler: %w", err)
	}

	// Setup router
	r := mux.NewRouter()
	apiHandler.Register(r)
	webHandler.RegisterRoutes(r)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Query endpoint: http://localhost%s/api/mongodb", addr)
	log.Printf("Health check: http://localhost%s/health", addr)
	log.Printf("Runs UI: http://localhost%s/ui", addr)

	if err := serve(addr, r); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// listenAndServe serves until the listener fails or a SIGINT/SIGTERM arrives,
// then drains in-flight requests.
func listenAndServe(addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("Received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
