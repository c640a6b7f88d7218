package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/praveenk20/mongodb-agent-ai/internal/agent"
	"github.com/praveenk20/mongodb-agent-ai/internal/config"
	"github.com/praveenk20/mongodb-agent-ai/internal/llm"
	"github.com/praveenk20/mongodb-agent-ai/internal/mongo"
	"github.com/praveenk20/mongodb-agent-ai/internal/semantic"
	"github.com/praveenk20/mongodb-agent-ai/internal/usage"
)

func main() {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MCP Server] Failed to load configuration: %v", err)
	}

	log.Println("[MCP Server] Starting MongoDB Agent MCP Server v1.0.0")
	log.Printf("[MCP Server] Provider: %s", cfg.Provider)
	log.Printf("[MCP Server] Connection type: %s", cfg.ConnectionType)
	log.Printf("[MCP Server] Model source: %s", cfg.ModelSource)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := semantic.NewSource(cfg)
	if err != nil {
		log.Fatalf("[MCP Server] Failed to initialize semantic model source: %v", err)
	}

	tracker := usage.NewTracker(cfg.DailyCallLimit, cfg.UsageAlertThreshold)

	client, err := llm.New(cfg)
	if err != nil {
		log.Fatalf("[MCP Server] Failed to initialize LLM client: %v", err)
	}
	client = llm.WithUsage(client, func(u llm.Usage) {
		tracker.Record(u.Provider, u.PromptChars, u.CompletionChars)
	})

	exec, err := mongo.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[MCP Server] Failed to initialize MongoDB executor: %v", err)
	}
	defer exec.Close(context.Background())

	h := &toolHandler{
		runner: agent.New(cfg, source, client, exec, tracker),
		source: source,
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mongodb-agent-server",
		Version: "v1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query",
		Description: "Answer a natural language question by generating and running a MongoDB aggregation against a semantic model",
	}, h.HandleQuery)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_models",
		Description: "List the semantic model YAML files available to the agent",
	}, h.HandleListModels)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_model",
		Description: "Validate a semantic model YAML file and report its structure",
	}, h.HandleValidateModel)
	log.Println("[MCP Server] Registered tools: query, list_models, validate_model")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[MCP Server] Received shutdown signal")
		cancel()
	}()

	// Start server with stdio transport
	log.Println("[MCP Server] Starting on stdio transport...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("[MCP Server] Server error: %v", err)
	}
	log.Println("[MCP Server] Server stopped gracefully")
}
