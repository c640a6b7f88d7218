// Package agent runs the question-to-answer pipeline: semantic model
// selection, query generation, execution, one refinement retry and natural
// language formatting.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/praveenk20/mongodb-agent-ai/internal/config"
	"github.com/praveenk20/mongodb-agent-ai/internal/llm"
	"github.com/praveenk20/mongodb-agent-ai/internal/mongo"
	"github.com/praveenk20/mongodb-agent-ai/internal/parse"
	"github.com/praveenk20/mongodb-agent-ai/internal/prompt"
	"github.com/praveenk20/mongodb-agent-ai/internal/semantic"
	"github.com/praveenk20/mongodb-agent-ai/internal/usage"
)

// apologyAnswer is the fixed reply for queries that matched nothing. The
// formatter prompt instructs the LLM to use the same sentence.
const apologyAnswer = "Apologies, I am unable to assist you with this right now."

// State carries everything the pipeline nodes read and write for one run.
type State struct {
	Question  string
	ModelName string

	// Schema context produced by Select. Cleared after a successful
	// execution.
	SchemaText        string
	RelationshipsText string
	InstructionsText  string
	MetricsText       string
	VerifiedQueries   string

	// Generated query.
	GeneratedQuery string // raw query string from the LLM
	Pipeline       []map[string]any
	Collection     string
	Database       string
	QueryType      string
	Entities       []parse.Entity

	// Execution result.
	ResultSummary string
	Documents     []map[string]any
	ResultCount   int

	// Natural-language answer. Empty when the run ends fatally.
	Answer string

	ErrorText      string
	ExceptionClass string
	Iterations     int

	StartedAt time.Time
	Timings   map[string]time.Duration
}

// Agent wires the pipeline nodes to their dependencies.
type Agent struct {
	cfg      *config.Config
	source   semantic.Source
	llm      llm.Client
	executor mongo.Executor
	usage    *usage.Tracker
}

// New creates an agent. The usage tracker may be nil to disable call limits.
func New(cfg *config.Config, source semantic.Source, client llm.Client, exec mongo.Executor, tracker *usage.Tracker) *Agent {
	return &Agent{
		cfg:      cfg,
		source:   source,
		llm:      client,
		executor: exec,
		usage:    tracker,
	}
}

// Ingress validates the question and model name and stamps the start time.
// A usage limit violation surfaces here, before any LLM call.
func (a *Agent) Ingress(ctx context.Context, s *State) error {
	s.Question = strings.TrimSpace(s.Question)
	if s.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	s.ModelName = strings.TrimSpace(s.ModelName)
	if s.ModelName == "" {
		return fmt.Errorf("semantic model name cannot be empty")
	}

	if a.usage != nil {
		if err := a.usage.CheckLimit(); err != nil {
			return err
		}
	}

	s.StartedAt = time.Now()
	s.Timings = make(map[string]time.Duration)
	log.Printf("[Agent] Ingress: model=%s question=%q", s.ModelName, truncate(s.Question, 80))
	return nil
}

// Select loads the semantic model, reduces it to the collections relevant to
// the question and asks the LLM for an aggregation pipeline.
func (a *Agent) Select(ctx context.Context, s *State) error {
	data, err := a.source.Load(ctx, s.ModelName)
	if err != nil {
		return err
	}
	model, err := semantic.Parse(data)
	if err != nil {
		return fmt.Errorf("parse semantic model %s: %w", s.ModelName, err)
	}

	relevant := model.Relevant(s.Question, semantic.Limits{
		MaxCollections:     a.cfg.MaxCollections,
		MaxFields:          a.cfg.MaxSchemaFields,
		RelevanceThreshold: a.cfg.RelevanceThreshold,
	})

	s.SchemaText = relevant.Render()
	s.RelationshipsText = relevant.RenderRelationships()
	s.MetricsText = relevant.RenderMetrics()
	s.VerifiedQueries = relevant.RenderVerifiedQueries()
	s.InstructionsText = model.CustomInstructions

	log.Printf("[Selector] Schema context: %d chars, %d collections", len(s.SchemaText), len(relevant.Collections))

	promptText := prompt.BuildQueryPrompt(prompt.QueryPromptData{
		Question:        s.Question,
		Schema:          s.SchemaText,
		Relationships:   s.RelationshipsText,
		Instructions:    s.InstructionsText,
		Metrics:         s.MetricsText,
		VerifiedQueries: s.VerifiedQueries,
	})

	response, err := a.llm.Generate(ctx, promptText)
	if err != nil {
		return fmt.Errorf("selector LLM call: %w", err)
	}

	gq, err := parse.GeneratedQueryFromResponse(response)
	if err != nil {
		// Keep whatever query text is present; Execute classifies a
		// missing query as fatal and an unparseable one as refinable.
		log.Printf("[Selector] %v", err)
		s.GeneratedQuery = parse.QueryString(response)
		s.Pipeline = nil
		s.Database = firstNonEmpty(model.Database, a.cfg.DefaultDatabase)
		return nil
	}

	s.GeneratedQuery = gq.Query
	s.Pipeline = gq.Pipeline
	s.Collection = gq.Collection
	s.QueryType = gq.QueryType
	s.Entities = gq.Entities
	s.Database = firstNonEmpty(gq.Database, model.Database, a.cfg.DefaultDatabase)

	log.Printf("[Selector] Generated query for %s.%s", s.Database, s.Collection)
	return nil
}

// Execute parses and validates the generated query, then runs it. Failures
// land in the state's error fields for the router, never in the returned
// error.
func (a *Agent) Execute(ctx context.Context, s *State) error {
	s.ErrorText = ""
	s.ExceptionClass = ""

	if strings.TrimSpace(s.GeneratedQuery) == "" && len(s.Pipeline) == 0 {
		s.ErrorText = "No MongoDB query found in response"
		s.ExceptionClass = "QueryGenerationError"
		return nil
	}

	if len(s.Pipeline) == 0 {
		pipeline, err := parse.Pipeline(s.GeneratedQuery)
		if err != nil {
			s.ErrorText = err.Error()
			s.ExceptionClass = "QueryParseError"
			log.Printf("[Executor] Parse failed: %v", err)
			return nil
		}
		s.Pipeline = pipeline
	}

	if err := parse.ValidatePipeline(s.Pipeline); err != nil {
		s.ErrorText = err.Error()
		s.ExceptionClass = "PipelineValidationError"
		log.Printf("[Executor] Validation failed: %v", err)
		return nil
	}

	if s.Collection == "" {
		s.Collection = parse.Collection(s.GeneratedQuery)
	}

	res, err := a.executor.Run(ctx, mongo.Query{
		Database:   s.Database,
		Collection: s.Collection,
		Stages:     s.Pipeline,
		Raw:        s.GeneratedQuery,
	})
	if err != nil {
		s.ErrorText = err.Error()
		s.ExceptionClass = "MCPExecutionError"
		log.Printf("[Executor] Query failed: %v", err)
		return nil
	}

	s.Documents = res.Documents
	s.ResultCount = res.Count
	s.ResultSummary = fmt.Sprintf("Query returned %d document(s)", res.Count)
	log.Printf("[Executor] %s", s.ResultSummary)

	// Clear the schema context after a successful run.
	s.SchemaText = ""
	s.RelationshipsText = ""
	s.InstructionsText = ""
	s.MetricsText = ""
	s.VerifiedQueries = ""
	return nil
}

// Refine asks the LLM to repair the failed query. Iterations is incremented
// whether or not the repair succeeds.
func (a *Agent) Refine(ctx context.Context, s *State) error {
	log.Printf("[Refiner] Fixing query after error: %s", truncate(s.ErrorText, 120))

	promptText := prompt.BuildRefinePrompt(prompt.RefinePromptData{
		Question:       s.Question,
		Schema:         s.SchemaText,
		Relationships:  s.RelationshipsText,
		FailedQuery:    s.GeneratedQuery,
		Error:          s.ErrorText,
		ExceptionClass: s.ExceptionClass,
	})

	s.Iterations++

	response, err := a.llm.Generate(ctx, promptText)
	if err != nil {
		s.ErrorText = fmt.Sprintf("Refiner error: %v", err)
		return nil
	}

	gq, err := parse.GeneratedQueryFromResponse(response)
	if err != nil {
		log.Printf("[Refiner] No usable query in repair response: %v", err)
		s.GeneratedQuery = parse.QueryString(response)
		s.Pipeline = nil
		return nil
	}

	s.GeneratedQuery = gq.Query
	s.Pipeline = gq.Pipeline
	if gq.Collection != "" {
		s.Collection = gq.Collection
	}
	if gq.Database != "" {
		s.Database = gq.Database
	}
	log.Printf("[Refiner] Corrected query: %s", truncate(s.GeneratedQuery, 120))
	return nil
}

// Format turns the result documents into a natural-language answer. An
// empty result set gets the fixed apology without an LLM call.
func (a *Agent) Format(ctx context.Context, s *State) error {
	if len(s.Documents) == 0 {
		s.Answer = apologyAnswer
		return nil
	}

	resultText := s.ResultSummary
	if data, err := json.MarshalIndent(s.Documents, "", "  "); err == nil {
		resultText = string(data)
	}

	promptText := prompt.BuildAnswerPrompt(prompt.AnswerPromptData{
		Question: s.Question,
		Result:   resultText,
	})

	response, err := a.llm.Generate(ctx, promptText)
	if err != nil {
		log.Printf("[Formatter] LLM call failed: %v", err)
		s.Answer = fmt.Sprintf("Error formatting response: %v", err)
		return nil
	}

	s.Answer = strings.TrimSpace(response)
	return nil
}

// Run drives the pipeline: ingress, select, then execute with routed
// refinement until success, a fatal error or the retry bound. Fatal runs
// return a nil error; the state carries the error text.
func (a *Agent) Run(ctx context.Context, question, modelName string) (*State, error) {
	s := &State{Question: question, ModelName: modelName}

	if err := a.Ingress(ctx, s); err != nil {
		return s, err
	}
	if err := timed(s, "select", func() error { return a.Select(ctx, s) }); err != nil {
		return s, err
	}

	for {
		if err := timed(s, "execute", func() error { return a.Execute(ctx, s) }); err != nil {
			return s, err
		}

		route := a.RouteAfterExecute(s)
		log.Printf("[Router] route=%s iterations=%d error=%q", route, s.Iterations, truncate(s.ErrorText, 50))

		switch route {
		case RouteSuccess:
			if err := timed(s, "format", func() error { return a.Format(ctx, s) }); err != nil {
				return s, err
			}
			s.Timings["total"] = time.Since(s.StartedAt)
			return s, nil
		case RouteError:
			if err := timed(s, "refine", func() error { return a.Refine(ctx, s) }); err != nil {
				return s, err
			}
		case RouteFatalError:
			log.Printf("[Agent] Run ended fatally: %s", s.ErrorText)
			s.Timings["total"] = time.Since(s.StartedAt)
			return s, nil
		}
	}
}

func timed(s *State, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.Timings[name] += time.Since(start)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
