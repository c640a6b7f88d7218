package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/praveenk20/mongodb-agent-ai/internal/agent"
	"github.com/praveenk20/mongodb-agent-ai/internal/semantic"
)

// resultSampleSize bounds how many documents a query tool response carries.
const resultSampleSize = 5

// runner is the slice of the agent the tools need.
type runner interface {
	Run(ctx context.Context, question, modelName string) (*agent.State, error)
}

type toolHandler struct {
	runner runner
	source semantic.Source
}

// QueryParams defines the input parameters for the query tool
type QueryParams struct {
	Question string `json:"question" jsonschema:"The natural language question to answer"`
	Model    string `json:"model" jsonschema:"Name of the semantic model YAML file to query against"`
}

// HandleQuery runs a question through the agent. Operational failures come
// back as tool errors so the caller's LLM can react to them.
func (h *toolHandler) HandleQuery(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params QueryParams,
) (*mcp.CallToolResult, any, error) {
	log.Printf("[MCP Server] Received query request: %q model=%s", params.Question, params.Model)

	if strings.TrimSpace(params.Question) == "" {
		return nil, nil, fmt.Errorf("question parameter is required")
	}
	if strings.TrimSpace(params.Model) == "" {
		return nil, nil, fmt.Errorf("model parameter is required")
	}

	state, err := h.runner.Run(ctx, params.Question, params.Model)
	if err != nil {
		log.Printf("[MCP Server] Run failed: %v", err)
		return toolError(fmt.Sprintf("Error: %v", err)), nil, nil
	}
	if state.ErrorText != "" {
		log.Printf("[MCP Server] Run ended with %s: %s", state.ExceptionClass, state.ErrorText)
		return toolError("Error: " + state.ErrorText), nil, nil
	}

	sample := state.Documents
	if len(sample) > resultSampleSize {
		sample = sample[:resultSampleSize]
	}

	return toolJSON(map[string]any{
		"answer":        state.Answer,
		"mongodb_query": state.GeneratedQuery,
		"collection":    state.Collection,
		"database":      state.Database,
		"result_count":  state.ResultCount,
		"result_sample": sample,
	})
}

// ListModelsParams defines the input parameters for the list_models tool
type ListModelsParams struct{}

// HandleListModels reports the model names the configured source can serve.
func (h *toolHandler) HandleListModels(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params ListModelsParams,
) (*mcp.CallToolResult, any, error) {
	names, err := h.source.List(ctx)
	if err != nil {
		log.Printf("[MCP Server] Failed to list models: %v", err)
		return toolError(fmt.Sprintf("Error: %v", err)), nil, nil
	}

	return toolJSON(map[string]any{
		"models": names,
		"count":  len(names),
	})
}

// ValidateModelParams defines the input parameters for the validate_model tool
type ValidateModelParams struct {
	Model string `json:"model" jsonschema:"Name of the semantic model YAML file to validate"`
}

// HandleValidateModel loads a model by name and returns its validation report.
func (h *toolHandler) HandleValidateModel(
	ctx context.Context,
	req *mcp.CallToolRequest,
	params ValidateModelParams,
) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Model) == "" {
		return nil, nil, fmt.Errorf("model parameter is required")
	}

	data, err := h.source.Load(ctx, params.Model)
	if err != nil {
		return toolError(fmt.Sprintf("Error: %v", err)), nil, nil
	}

	report, err := semantic.Validate(data)
	if err != nil {
		return toolError(fmt.Sprintf("Error: %v", err)), nil, nil
	}

	return toolJSON(map[string]any{
		"model":             params.Model,
		"valid":             report.Valid,
		"format":            report.Format,
		"database":          report.Database,
		"collections":       report.Collections,
		"fields":            report.Fields,
		"validation_errors": report.Problems,
	})
}

func toolError(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}
