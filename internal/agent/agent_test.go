package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/praveenk20/mongodb-agent-ai/internal/config"
	"github.com/praveenk20/mongodb-agent-ai/internal/mongo"
	"github.com/praveenk20/mongodb-agent-ai/internal/semantic"
	"github.com/praveenk20/mongodb-agent-ai/internal/usage"
)

const testModelYAML = `
database: salesdb
description: Retail order tracking
custom_instructions: Always filter out cancelled orders unless asked.
collections:
  - name: orders
    description: Customer orders with line items and shipping status
    business_importance: critical
    query_frequency: very_high
    essential_for_query: true
    fields:
      - path: status
        type: string
        description: Order lifecycle status
        sample_values: ["open", "shipped", "cancelled"]
      - path: total_amount
        type: double
        description: Order total in USD
  - name: customers
    description: Customer accounts and contact details
    fields:
      - path: email
        type: string
relationships:
  - from: orders.customer_id
    to: customers._id
    type: many-to-one
`

// Same collections but without a database key, so the configured default
// applies.
const noDatabaseModelYAML = `
schema: analytics
collections:
  - name: orders
    description: Customer orders
    essential_for_query: true
    fields:
      - path: status
        type: string
`

const selectorResponse = "```json\n" +
	`{"mongodb_query": "db.orders.aggregate([{\"$match\": {\"status\": \"shipped\"}}, {\"$count\": \"total\"}])", "collection_name": "orders", "database_name": "reporting", "query_type": "aggregate", "parameters": {}, "entities": [{"type": "collection", "name": "orders"}]}` +
	"\n```"

// No database_name, so the semantic model's database applies.
const noDatabaseResponse = "```json\n" +
	`{"mongodb_query": "db.orders.aggregate([{\"$match\": {\"status\": \"shipped\"}}])", "collection_name": "orders"}` +
	"\n```"

const refinerResponse = "```json\n" +
	`{"mongodb_query": "db.orders.aggregate([{\"$match\": {\"status\": \"delivered\"}}])", "collection_name": "orders"}` +
	"\n```"

// insertOne is not a supported read operation, so parsing fails while the
// query text survives for the refiner.
const unparseableResponse = "```json\n" +
	`{"mongodb_query": "db.orders.insertOne({\"status\": \"open\"})", "collection_name": "orders"}` +
	"\n```"

type fakeLLM struct {
	responses []string
	errs      []error
	prompts   []string
}

func (f *fakeLLM) Name() string { return "fake/model" }

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.responses) {
		return "", fmt.Errorf("unexpected LLM call %d", i)
	}
	return f.responses[i], nil
}

type fakeExecutor struct {
	results []*mongo.Result
	errs    []error
	queries []mongo.Query
}

func (f *fakeExecutor) Run(_ context.Context, q mongo.Query) (*mongo.Result, error) {
	i := len(f.queries)
	f.queries = append(f.queries, q)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) && f.results[i] != nil {
		return f.results[i], nil
	}
	return &mongo.Result{}, nil
}

func (f *fakeExecutor) Ping(context.Context) error  { return nil }
func (f *fakeExecutor) Close(context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		DefaultDatabase:    "fallbackdb",
		MaxSchemaFields:    30,
		MaxCollections:     5,
		RelevanceThreshold: 0.7,
		MaxRetryAttempts:   1,
	}
}

func testAgent(t *testing.T, llmc *fakeLLM, exec *fakeExecutor) *Agent {
	t.Helper()
	src := semantic.NewMemorySource()
	src.Add("sales", []byte(testModelYAML))
	src.Add("nodb", []byte(noDatabaseModelYAML))
	return New(testConfig(), src, llmc, exec, nil)
}

func TestRunHappyPath(t *testing.T) {
	llmc := &fakeLLM{responses: []string{selectorResponse, "There were 2 shipped orders."}}
	exec := &fakeExecutor{results: []*mongo.Result{{
		Documents: []map[string]any{{"total": float64(2)}},
		Count:     2,
	}}}
	a := testAgent(t, llmc, exec)

	state, err := a.Run(context.Background(), "How many orders shipped last week?", "sales")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Answer != "There were 2 shipped orders." {
		t.Errorf("Answer = %q", state.Answer)
	}
	if state.Database != "reporting" {
		t.Errorf("Database = %q, want reporting from the generated query", state.Database)
	}
	if state.Collection != "orders" {
		t.Errorf("Collection = %q", state.Collection)
	}
	if state.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", state.Iterations)
	}
	if state.ErrorText != "" || state.ExceptionClass != "" {
		t.Errorf("error fields = %q/%q, want empty", state.ErrorText, state.ExceptionClass)
	}
	if state.SchemaText != "" || state.InstructionsText != "" {
		t.Errorf("schema context not cleared after successful execution")
	}
	if state.ResultSummary != "Query returned 2 document(s)" {
		t.Errorf("ResultSummary = %q", state.ResultSummary)
	}
	if _, ok := state.Timings["total"]; !ok {
		t.Errorf("Timings missing total entry: %v", state.Timings)
	}

	if len(exec.queries) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(exec.queries))
	}
	q := exec.queries[0]
	if q.Database != "reporting" || q.Collection != "orders" {
		t.Errorf("executed against %s.%s", q.Database, q.Collection)
	}
	if len(q.Stages) != 2 {
		t.Errorf("pipeline stages = %d, want 2", len(q.Stages))
	}
	if !strings.Contains(q.Raw, "db.orders.aggregate") {
		t.Errorf("Raw = %q, want original query text", q.Raw)
	}

	if len(llmc.prompts) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(llmc.prompts))
	}
	if !strings.Contains(llmc.prompts[0], "How many orders shipped last week?") {
		t.Errorf("query prompt missing the question")
	}
	if !strings.Contains(llmc.prompts[0], "Always filter out cancelled orders") {
		t.Errorf("query prompt missing the model's custom instructions")
	}
	if !strings.Contains(llmc.prompts[0], "orders") {
		t.Errorf("query prompt missing the schema")
	}
	if !strings.Contains(llmc.prompts[1], `"total": 2`) {
		t.Errorf("answer prompt missing the result documents")
	}
}

func TestRunRefinesOnceAfterExecutionError(t *testing.T) {
	llmc := &fakeLLM{responses: []string{selectorResponse, refinerResponse, "Five orders were delivered."}}
	exec := &fakeExecutor{
		errs: []error{errors.New("MongoDB query failed: unknown top level operator: $matchh")},
		results: []*mongo.Result{nil, {
			Documents: []map[string]any{{"status": "delivered"}},
			Count:     5,
		}},
	}
	a := testAgent(t, llmc, exec)

	state, err := a.Run(context.Background(), "How many orders were delivered?", "sales")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", state.Iterations)
	}
	if state.Answer != "Five orders were delivered." {
		t.Errorf("Answer = %q", state.Answer)
	}
	if len(exec.queries) != 2 {
		t.Fatalf("executor calls = %d, want 2", len(exec.queries))
	}
	if len(exec.queries[1].Stages) != 1 {
		t.Errorf("refined pipeline stages = %d, want 1", len(exec.queries[1].Stages))
	}
	if len(llmc.prompts) != 3 {
		t.Fatalf("LLM calls = %d, want 3", len(llmc.prompts))
	}
	if !strings.Contains(llmc.prompts[1], "$matchh") {
		t.Errorf("refine prompt missing the execution error")
	}
	if !strings.Contains(llmc.prompts[1], "db.orders.aggregate") {
		t.Errorf("refine prompt missing the failed query")
	}
}

func TestRunFatalOnConnectionError(t *testing.T) {
	llmc := &fakeLLM{responses: []string{selectorResponse}}
	exec := &fakeExecutor{errs: []error{errors.New("Failed to connect to MongoDB gateway: dial tcp: connection refused")}}
	a := testAgent(t, llmc, exec)

	state, err := a.Run(context.Background(), "How many orders shipped?", "sales")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Answer != "" {
		t.Errorf("Answer = %q, want empty on fatal run", state.Answer)
	}
	if !strings.Contains(state.ErrorText, "Failed to connect to") {
		t.Errorf("ErrorText = %q", state.ErrorText)
	}
	if state.ExceptionClass != "MCPExecutionError" {
		t.Errorf("ExceptionClass = %q", state.ExceptionClass)
	}
	if state.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0 (connectivity errors skip refinement)", state.Iterations)
	}
	if len(llmc.prompts) != 1 {
		t.Errorf("LLM calls = %d, want 1", len(llmc.prompts))
	}
}

func TestRunFatalWhenNoQueryGenerated(t *testing.T) {
	llmc := &fakeLLM{responses: []string{"I cannot answer that without more information."}}
	exec := &fakeExecutor{}
	a := testAgent(t, llmc, exec)

	state, err := a.Run(context.Background(), "What is the meaning of life?", "sales")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.ErrorText != "No MongoDB query found in response" {
		t.Errorf("ErrorText = %q", state.ErrorText)
	}
	if state.ExceptionClass != "QueryGenerationError" {
		t.Errorf("ExceptionClass = %q", state.ExceptionClass)
	}
	if len(exec.queries) != 0 {
		t.Errorf("executor calls = %d, want 0", len(exec.queries))
	}
	if state.Answer != "" {
		t.Errorf("Answer = %q, want empty", state.Answer)
	}
}

func TestRunStopsAtRetryBound(t *testing.T) {
	llmc := &fakeLLM{responses: []string{selectorResponse, refinerResponse}}
	exec := &fakeExecutor{errs: []error{
		errors.New("MongoDB query failed: unknown top level operator: $matchh"),
		errors.New("MongoDB query failed: still broken"),
	}}
	a := testAgent(t, llmc, exec)

	state, err := a.Run(context.Background(), "How many orders?", "sales")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", state.Iterations)
	}
	if len(llmc.prompts) != 2 {
		t.Errorf("LLM calls = %d, want 2 (no answer formatting)", len(llmc.prompts))
	}
	if len(exec.queries) != 2 {
		t.Errorf("executor calls = %d, want 2", len(exec.queries))
	}
	if !strings.Contains(state.ErrorText, "still broken") {
		t.Errorf("ErrorText = %q, want the last execution error", state.ErrorText)
	}
	if state.Answer != "" {
		t.Errorf("Answer = %q, want empty", state.Answer)
	}
}

func TestRunEmptyResultGetsApology(t *testing.T) {
	llmc := &fakeLLM{responses: []string{selectorResponse}}
	exec := &fakeExecutor{results: []*mongo.Result{{Count: 0}}}
	a := testAgent(t, llmc, exec)

	state, err := a.Run(context.Background(), "Any orders from Mars?", "sales")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Answer != apologyAnswer {
		t.Errorf("Answer = %q, want the fixed apology", state.Answer)
	}
	if len(llmc.prompts) != 1 {
		t.Errorf("LLM calls = %d, want 1 (no formatting call for empty results)", len(llmc.prompts))
	}
	if state.ResultSummary != "Query returned 0 document(s)" {
		t.Errorf("ResultSummary = %q", state.ResultSummary)
	}
}

func TestRunUnparseableQueryIsRefined(t *testing.T) {
	llmc := &fakeLLM{responses: []string{unparseableResponse, refinerResponse, "One delivered order."}}
	exec := &fakeExecutor{results: []*mongo.Result{{
		Documents: []map[string]any{{"n": float64(1)}},
		Count:     1,
	}}}
	a := testAgent(t, llmc, exec)

	state, err := a.Run(context.Background(), "How many delivered orders?", "sales")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", state.Iterations)
	}
	// The unparseable query never reaches the executor.
	if len(exec.queries) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(exec.queries))
	}
	if exec.queries[0].Database != "salesdb" {
		t.Errorf("Database = %q, want the model's database", exec.queries[0].Database)
	}
	if !strings.Contains(llmc.prompts[1], "insertOne") {
		t.Errorf("refine prompt missing the unparseable query text")
	}
	if state.Answer != "One delivered order." {
		t.Errorf("Answer = %q", state.Answer)
	}
	if state.ErrorText != "" || state.ExceptionClass != "" {
		t.Errorf("error fields = %q/%q, want cleared after recovery", state.ErrorText, state.ExceptionClass)
	}
}

func TestIngressRejectsEmptyInputs(t *testing.T) {
	llmc := &fakeLLM{}
	a := testAgent(t, llmc, &fakeExecutor{})

	if _, err := a.Run(context.Background(), "   ", "sales"); err == nil || !strings.Contains(err.Error(), "question cannot be empty") {
		t.Errorf("empty question error = %v", err)
	}
	if _, err := a.Run(context.Background(), "How many orders?", ""); err == nil || !strings.Contains(err.Error(), "model name cannot be empty") {
		t.Errorf("empty model error = %v", err)
	}
	if len(llmc.prompts) != 0 {
		t.Errorf("LLM calls = %d, want 0", len(llmc.prompts))
	}
}

func TestRunDailyLimitSurfacesBeforeLLMCalls(t *testing.T) {
	tracker := usage.NewTracker(1, 0)
	tracker.Record("fake/model", 10, 10)

	llmc := &fakeLLM{}
	src := semantic.NewMemorySource()
	src.Add("sales", []byte(testModelYAML))
	a := New(testConfig(), src, llmc, &fakeExecutor{}, tracker)

	_, err := a.Run(context.Background(), "How many orders?", "sales")
	var limitErr *usage.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Run error = %v, want LimitError", err)
	}
	if len(llmc.prompts) != 0 {
		t.Errorf("LLM calls = %d, want 0", len(llmc.prompts))
	}
}

func TestRunUnknownModelReturnsNotFound(t *testing.T) {
	a := testAgent(t, &fakeLLM{}, &fakeExecutor{})

	_, err := a.Run(context.Background(), "How many orders?", "missing")
	var nf *semantic.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Run error = %v, want NotFoundError", err)
	}
	if nf.Name != "missing" {
		t.Errorf("NotFoundError.Name = %q", nf.Name)
	}
}

func TestSelectDatabaseFallsBackToConfig(t *testing.T) {
	llmc := &fakeLLM{responses: []string{noDatabaseResponse}}
	a := testAgent(t, llmc, &fakeExecutor{})

	s := &State{Question: "How many orders shipped?", ModelName: "nodb"}
	if err := a.Select(context.Background(), s); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Database != "fallbackdb" {
		t.Errorf("Database = %q, want the configured default", s.Database)
	}
}

func TestSelectDatabasePrefersModelOverConfig(t *testing.T) {
	llmc := &fakeLLM{responses: []string{noDatabaseResponse}}
	a := testAgent(t, llmc, &fakeExecutor{})

	s := &State{Question: "How many orders shipped?", ModelName: "sales"}
	if err := a.Select(context.Background(), s); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Database != "salesdb" {
		t.Errorf("Database = %q, want the model's database", s.Database)
	}
}

func TestFormatFailureFallsBackToErrorMessage(t *testing.T) {
	llmc := &fakeLLM{errs: []error{errors.New("model overloaded")}}
	a := testAgent(t, llmc, &fakeExecutor{})

	s := &State{
		Question:      "How many orders?",
		Documents:     []map[string]any{{"total": 2}},
		ResultSummary: "Query returned 1 document(s)",
	}
	if err := a.Format(context.Background(), s); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if s.Answer != "Error formatting response: model overloaded" {
		t.Errorf("Answer = %q", s.Answer)
	}
}
