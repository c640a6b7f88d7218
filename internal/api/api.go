// Package api exposes the agent over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/praveenk20/mongodb-agent-ai/internal/agent"
	"github.com/praveenk20/mongodb-agent-ai/internal/config"
	"github.com/praveenk20/mongodb-agent-ai/internal/dispatch"
	"github.com/praveenk20/mongodb-agent-ai/internal/runstore"
	"github.com/praveenk20/mongodb-agent-ai/internal/semantic"
	"github.com/praveenk20/mongodb-agent-ai/internal/usage"
)

// Version is reported by the health and root endpoints.
const Version = "1.0.0"

// Runner executes one question against a semantic model. *agent.Agent
// implements it.
type Runner interface {
	Run(ctx context.Context, question, modelName string) (*agent.State, error)
}

// Dispatcher enqueues runs for asynchronous execution.
type Dispatcher interface {
	Enqueue(task *dispatch.Task) error
}

// Handler serves the REST endpoints.
type Handler struct {
	cfg        *config.Config
	runner     Runner
	dispatcher Dispatcher
	store      *runstore.Store
	source     semantic.Source
	usage      *usage.Tracker
}

// NewHandler creates the REST handler. dispatcher, store and usage may be nil
// to disable async runs, run history and usage reporting respectively.
func NewHandler(cfg *config.Config, runner Runner, dispatcher Dispatcher, store *runstore.Store, source semantic.Source, tracker *usage.Tracker) *Handler {
	return &Handler{
		cfg:        cfg,
		runner:     runner,
		dispatcher: dispatcher,
		store:      store,
		source:     source,
		usage:      tracker,
	}
}

// Register wires the endpoints onto the router. When an API JWT secret is
// configured, everything under /api requires a bearer token.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	if h.cfg.APIJWTSecret != "" {
		api.Use(h.requireJWT)
	}
	api.HandleFunc("/mongodb", h.Query).Methods("POST")
	api.HandleFunc("/mongodb/async", h.QueryAsync).Methods("POST")
	api.HandleFunc("/runs", h.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	api.HandleFunc("/capabilities", h.Capabilities).Methods("GET")
	api.HandleFunc("/validate-yaml", h.ValidateYAML).Methods("POST")

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/", h.Root).Methods("GET")
}

// QueryRequest is the body of POST /api/mongodb and /api/mongodb/async.
type QueryRequest struct {
	Question     string `json:"question"`
	YAMLFileName string `json:"yaml_file_name"`
	IncludeDebug bool   `json:"include_debug"`
	Environment  string `json:"environment"`
}

// QueryResponse is the synchronous query contract.
type QueryResponse struct {
	Question                string           `json:"question"`
	YAMLFileName            string           `json:"yaml_file_name"`
	MongoDBQuery            string           `json:"mongodb_query"`
	QueryResult             []map[string]any `json:"query_result"`
	NaturalLanguageResponse string           `json:"natural_language_response"`
	ExecutionTimeMs         float64          `json:"execution_time_ms"`
	Status                  string           `json:"status"`
	Timestamp               string           `json:"timestamp"`
	DebugInfo               map[string]any   `json:"debug_info,omitempty"`
}

// Query runs a question synchronously and returns the full result.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	log.Printf("[API] Processing query: %q model=%s", req.Question, req.YAMLFileName)

	state, err := h.runner.Run(r.Context(), req.Question, req.YAMLFileName)
	if err != nil {
		status, detail := statusForRunError(err)
		writeError(w, status, detail)
		return
	}

	writeJSON(w, http.StatusOK, buildQueryResponse(req, state))
}

func buildQueryResponse(req *QueryRequest, state *agent.State) *QueryResponse {
	resp := &QueryResponse{
		Question:                req.Question,
		YAMLFileName:            req.YAMLFileName,
		MongoDBQuery:            state.GeneratedQuery,
		QueryResult:             state.Documents,
		NaturalLanguageResponse: state.Answer,
		ExecutionTimeMs:         roundMs(state.Timings["total"]),
		Status:                  "success",
		Timestamp:               time.Now().Format(time.RFC3339),
	}
	if resp.MongoDBQuery == "" {
		resp.MongoDBQuery = "N/A"
	}
	if resp.QueryResult == nil {
		resp.QueryResult = []map[string]any{}
	}
	if state.ErrorText != "" {
		resp.Status = "error"
		resp.NaturalLanguageResponse = "Error: " + state.ErrorText
	}
	if req.IncludeDebug {
		resp.DebugInfo = debugInfo(state)
	}
	return resp
}

func debugInfo(state *agent.State) map[string]any {
	timings := make(map[string]int64, len(state.Timings))
	for name, d := range state.Timings {
		timings[name] = d.Milliseconds()
	}
	return map[string]any{
		"collection_name": state.Collection,
		"database_name":   state.Database,
		"query_type":      state.QueryType,
		"entities":        state.Entities,
		"iterations":      state.Iterations,
		"exception_class": state.ExceptionClass,
		"error":           state.ErrorText,
		"result_count":    state.ResultCount,
		"timings_ms":      timings,
	}
}

// QueryAsync queues a run and returns its ID immediately.
func (h *Handler) QueryAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQueryRequest(w, r)
	if !ok {
		return
	}
	if h.dispatcher == nil || h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "async runs are not enabled")
		return
	}

	runID := uuid.NewString()
	if err := h.store.Create(&runstore.Run{
		ID:        runID,
		Question:  req.Question,
		ModelName: req.YAMLFileName,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Newest request wins: drop still-queued duplicates.
	if n := h.store.SupersedeOlder(req.YAMLFileName, req.Question, runID); n > 0 {
		log.Printf("[API] Superseded %d older run(s) for model %s", n, req.YAMLFileName)
	}

	if err := h.dispatcher.Enqueue(&dispatch.Task{
		RunID:     runID,
		Question:  req.Question,
		ModelName: req.YAMLFileName,
	}); err != nil {
		log.Printf("[API] Failed to enqueue run %s: %v", runID, err)
		h.store.Fail(runID, err.Error())
		switch {
		case errors.Is(err, dispatch.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "Run queue is busy, try again later")
		case errors.Is(err, dispatch.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, "Run queue unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to enqueue run")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "queued",
	})
}

// RunSummary is one entry of GET /api/runs.
type RunSummary struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	YAMLFileName string `json:"yaml_file_name"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// ListRuns returns the run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	runs := h.store.List()
	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, RunSummary{
			ID:           run.ID,
			Question:     run.Question,
			YAMLFileName: run.ModelName,
			Status:       string(run.Status),
			CreatedAt:    run.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    run.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  summaries,
		"count": len(summaries),
	})
}

// RunDetail is the body of GET /api/runs/{id}.
type RunDetail struct {
	RunSummary
	Answer       string           `json:"natural_language_response"`
	MongoDBQuery string           `json:"mongodb_query"`
	Collection   string           `json:"collection"`
	Database     string           `json:"database"`
	ResultCount  int              `json:"result_count"`
	QueryResult  []map[string]any `json:"query_result"`
	Iterations   int              `json:"iterations"`
	DurationMs   float64          `json:"duration_ms"`
	Error        string           `json:"error,omitempty"`
	Logs         []RunLog         `json:"logs"`
}

// RunLog is one progress entry on a run.
type RunLog struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// GetRun returns one run with its terminal state and logs.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not enabled")
		return
	}

	id := mux.Vars(r)["id"]
	run, err := h.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	detail := RunDetail{
		RunSummary: RunSummary{
			ID:           run.ID,
			Question:     run.Question,
			YAMLFileName: run.ModelName,
			Status:       string(run.Status),
			CreatedAt:    run.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    run.UpdatedAt.Format(time.RFC3339),
		},
		Answer:       run.Answer,
		MongoDBQuery: run.Query,
		Collection:   run.Collection,
		Database:     run.Database,
		ResultCount:  run.ResultCount,
		QueryResult:  run.Documents,
		Iterations:   run.Iterations,
		DurationMs:   roundMs(run.Duration),
		Error:        run.ErrorMsg,
		Logs:         make([]RunLog, 0, len(run.Logs)),
	}
	if detail.QueryResult == nil {
		detail.QueryResult = []map[string]any{}
	}
	for _, entry := range run.Logs {
		detail.Logs = append(detail.Logs, RunLog{
			Timestamp: entry.Timestamp.Format(time.RFC3339),
			Level:     entry.Level,
			Message:   entry.Message,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "mongodb-agent",
		"version":   Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Root describes the service and its endpoints.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "MongoDB Agent API",
		"version":     Version,
		"status":      "running",
		"description": "Natural language to MongoDB query converter backed by YAML semantic models",
		"endpoints": map[string]string{
			"query":        "POST /api/mongodb",
			"query_async":  "POST /api/mongodb/async",
			"runs":         "GET /api/runs",
			"run":          "GET /api/runs/{id}",
			"capabilities": "GET /api/capabilities",
			"validate":     "POST /api/validate-yaml",
			"health":       "GET /health",
			"ui":           "GET /ui",
		},
	})
}

// Capabilities reports providers, limits and today's LLM usage.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	models, err := h.source.List(r.Context())
	if err != nil {
		log.Printf("[API] Failed to list semantic models: %v", err)
		models = nil
	}

	caps := map[string]any{
		"service":             "mongodb-agent",
		"provider":            h.cfg.Provider,
		"connection_type":     h.cfg.ConnectionType,
		"supported_databases": []string{"MongoDB"},
		"semantic_models":     models,
		"features": []string{
			"YAML semantic models",
			"Relevance-based schema reduction",
			"Aggregation pipeline generation",
			"Single-retry query refinement",
			"Async runs with history",
		},
		"limits": map[string]any{
			"max_collections":    h.cfg.MaxCollections,
			"max_schema_fields":  h.cfg.MaxSchemaFields,
			"max_retry_attempts": h.cfg.MaxRetryAttempts,
			"max_result_docs":    h.cfg.MaxResultDocs,
			"daily_call_limit":   h.cfg.DailyCallLimit,
		},
	}
	if h.usage != nil {
		caps["usage"] = h.usage.Snapshot()
	}
	writeJSON(w, http.StatusOK, caps)
}

// ValidateYAML validates a semantic model, inline or by name.
func (h *Handler) ValidateYAML(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error reading request body")
		return
	}

	var req struct {
		YAMLFileName string `json:"yaml_file_name"`
		YAML         string `json:"yaml"`
	}

	data := body
	name := ""
	// A JSON body selects a model by name or carries the YAML inline;
	// anything else is treated as raw YAML.
	if json.Unmarshal(body, &req) == nil && (req.YAMLFileName != "" || req.YAML != "") {
		name = req.YAMLFileName
		if req.YAML != "" {
			data = []byte(req.YAML)
		} else {
			loaded, err := h.source.Load(r.Context(), req.YAMLFileName)
			if err != nil {
				status, detail := statusForRunError(err)
				writeError(w, status, detail)
				return
			}
			data = loaded
		}
	}

	report, err := semantic.Validate(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"yaml_file_name":    name,
		"valid":             report.Valid,
		"format":            report.Format,
		"database":          report.Database,
		"collections":       report.Collections,
		"fields":            report.Fields,
		"validation_errors": report.Problems,
	})
}

func (h *Handler) decodeQueryRequest(w http.ResponseWriter, r *http.Request) (*QueryRequest, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	req.Question = strings.TrimSpace(req.Question)
	req.YAMLFileName = strings.TrimSpace(req.YAMLFileName)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question cannot be empty")
		return nil, false
	}
	if req.YAMLFileName == "" {
		writeError(w, http.StatusBadRequest, "yaml_file_name cannot be empty")
		return nil, false
	}
	return &req, true
}

func statusForRunError(err error) (int, string) {
	var notFound *semantic.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, err.Error()
	}
	var limit *usage.LimitError
	if errors.As(err, &limit) {
		return http.StatusTooManyRequests, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func roundMs(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000
	return math.Round(ms*100) / 100
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
