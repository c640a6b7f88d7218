package mongo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/praveenk20/mongodb-agent-ai/internal/auth"
)

const gatewayTimeout = 30 * time.Second

// GatewayExecutor runs pipelines through an MCP-style JSON-RPC gateway.
// Error strings carry stable prefixes ("HTTP <code>", "Connection error",
// "Timeout", "No valid content in MCP result") that the agent router
// classifies as fatal.
type GatewayExecutor struct {
	endpoint        string
	dbName          string
	userName        string
	applicationName string

	tokens     *auth.TokenCache
	httpClient *http.Client
	maxDocs    int
	nextID     atomic.Int64
}

// NewGatewayExecutor creates an executor for the given gateway endpoint.
// tokens may be nil when the gateway does not require authentication.
func NewGatewayExecutor(endpoint, dbName, userName, applicationName string, tokens *auth.TokenCache, maxDocs int) *GatewayExecutor {
	return &GatewayExecutor{
		endpoint:        endpoint,
		dbName:          dbName,
		userName:        userName,
		applicationName: applicationName,
		tokens:          tokens,
		httpClient:      &http.Client{Timeout: gatewayTimeout},
		maxDocs:         maxDocs,
	}
}

type gatewayRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  gatewayParams `json:"params"`
}

type gatewayParams struct {
	Name            string           `json:"name"`
	DBName          string           `json:"dbName"`
	UserName        string           `json:"userName"`
	ApplicationName string           `json:"applicationName"`
	Arguments       gatewayArguments `json:"arguments"`
}

type gatewayArguments struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters"`
}

type gatewayResponse struct {
	Result *gatewayResult `json:"result"`
	Error  *gatewayError  `json:"error"`
}

type gatewayResult struct {
	Content []gatewayContent `json:"content"`
	IsError bool             `json:"isError"`
}

type gatewayContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Run sends the query to the gateway as a tools/call request. On HTTP 401 the
// cached token is invalidated and the call retried once with a fresh one.
func (e *GatewayExecutor) Run(ctx context.Context, q Query) (*Result, error) {
	query, err := queryString(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	payload := gatewayRequest{
		JSONRPC: "2.0",
		ID:      e.nextID.Add(1),
		Method:  "tools/call",
		Params: gatewayParams{
			Name:            "execute_query",
			DBName:          e.databaseFor(q),
			UserName:        e.userName,
			ApplicationName: e.applicationName,
			Arguments:       gatewayArguments{Query: query, Parameters: map[string]any{}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	log.Printf("[Mongo] Gateway request %d: %s", payload.ID, truncateForLog(query))

	start := time.Now()
	data, status, err := e.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && e.tokens != nil {
		log.Printf("[Mongo] Gateway returned HTTP 401, refreshing token and retrying")
		e.tokens.Invalidate()
		data, status, err = e.post(ctx, body)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("MCP request failed: HTTP %d", status)
	}

	docs, err := decodeGatewayResponse(data)
	if err != nil {
		return nil, err
	}

	count := len(docs)
	if e.maxDocs > 0 && count > e.maxDocs {
		log.Printf("[Mongo] Truncating result from %d to %d documents", count, e.maxDocs)
		docs = docs[:e.maxDocs]
	}

	duration := time.Since(start)
	log.Printf("[Mongo] Gateway returned %d document(s) in %v", count, duration)
	return &Result{Documents: docs, Count: count, Duration: duration}, nil
}

// Ping verifies credentials by acquiring a token. The gateway exposes no
// dedicated health endpoint.
func (e *GatewayExecutor) Ping(ctx context.Context) error {
	if e.tokens == nil {
		return nil
	}
	_, err := e.tokens.Token(ctx)
	return err
}

// Close releases idle connections.
func (e *GatewayExecutor) Close(context.Context) error {
	e.httpClient.CloseIdleConnections()
	return nil
}

func (e *GatewayExecutor) post(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if e.tokens != nil {
		token, err := e.tokens.Token(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("Authentication failed: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, fmt.Errorf("Timeout calling MongoDB gateway: %w", err)
		}
		return nil, 0, fmt.Errorf("Connection error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("Connection error: %w", err)
	}
	return data, resp.StatusCode, nil
}

// queryString prefers the raw generated query and otherwise rebuilds the
// canonical aggregate form from the parsed stages.
func queryString(q Query) (string, error) {
	if strings.TrimSpace(q.Raw) != "" {
		return q.Raw, nil
	}
	stages, err := json.Marshal(q.Stages)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("db.%s.aggregate(%s)", q.Collection, stages), nil
}

// databaseFor prefers the database the query names and falls back to the
// configured gateway database.
func (e *GatewayExecutor) databaseFor(q Query) string {
	if q.Database != "" {
		return q.Database
	}
	return e.dbName
}

// decodeGatewayResponse extracts the documents from result.content[0].text.
// The text is either a JSON array of documents or a single document.
func decodeGatewayResponse(body []byte) ([]map[string]any, error) {
	var resp gatewayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("No valid content in MCP result: %v", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil || len(resp.Result.Content) == 0 {
		return nil, errors.New("No valid content in MCP result")
	}
	if resp.Result.IsError {
		return nil, fmt.Errorf("MCP error: %s", strings.TrimSpace(resp.Result.Content[0].Text))
	}

	text := strings.TrimSpace(resp.Result.Content[0].Text)
	if text == "" {
		return nil, errors.New("No valid content in MCP result")
	}

	var docs []map[string]any
	if err := json.Unmarshal([]byte(text), &docs); err == nil {
		return docs, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return []map[string]any{doc}, nil
	}
	return nil, fmt.Errorf("No valid content in MCP result: unexpected payload %q", truncateForLog(text))
}

func isTimeout(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
