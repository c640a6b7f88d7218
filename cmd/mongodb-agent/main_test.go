package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/praveenk20/mongodb-agent-ai/internal/config"
	"github.com/praveenk20/mongodb-agent-ai/internal/mongo"
	"github.com/praveenk20/mongodb-agent-ai/internal/runstore"
	"github.com/praveenk20/mongodb-agent-ai/internal/web"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "test-key")
	// The mcp executor defers all network work to Run, so the full
	// dependency chain can be constructed without a live MongoDB.
	t.Setenv("MONGODB_CONNECTION_TYPE", "mcp")
	t.Setenv("OAUTH_TOKEN_URL", "http://localhost:9999/token")
	t.Setenv("OAUTH_CLIENT_ID", "client")
	t.Setenv("OAUTH_CLIENT_SECRET", "secret")
	t.Setenv("SEMANTIC_MODEL_SOURCE", "memory")
	t.Setenv("DISPATCHER_WORKERS", "1")
	t.Setenv("DISPATCHER_QUEUE_SIZE", "1")
}

func TestRun_StartsServerWithValidConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "4321")

	var servedAddr string
	var servedHandler http.Handler

	serve := func(addr string, handler http.Handler) error {
		servedAddr = addr
		servedHandler = handler
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, 0, "", serve); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}

	if servedAddr != ":4321" {
		t.Fatalf("serve addr = %q, want :4321", servedAddr)
	}
	if servedHandler == nil {
		t.Fatalf("serve handler is nil")
	}

	// Smoke test a few routes to ensure router wiring is intact.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	servedHandler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	servedHandler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/ status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body == "" || body == "{}" {
		t.Fatalf("root body = %q, want non-empty service payload", body)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ui", nil)
	servedHandler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/ui status = %d, want 200", rec.Code)
	}
}

func TestRun_PortFlagOverridesEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "4321")

	var servedAddr string
	err := run(context.Background(), 9999, "", func(addr string, handler http.Handler) error {
		servedAddr = addr
		return nil
	})
	if err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	if servedAddr != ":9999" {
		t.Fatalf("serve addr = %q, want :9999", servedAddr)
	}
}

func TestRun_ReturnsErrorWhenServeFails(t *testing.T) {
	setRequiredEnv(t)

	expected := errors.New("listen failed")
	err := run(context.Background(), 0, "", func(string, http.Handler) error {
		return expected
	})

	if err == nil {
		t.Fatalf("run() error = nil, want %v", expected)
	}
	if !errors.Is(err, expected) {
		t.Fatalf("run() error = %v, want to wrap %v", err, expected)
	}
}

func TestRun_InvalidProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LLM_PROVIDER", "unknown")

	err := run(context.Background(), 0, "", func(string, http.Handler) error {
		t.Fatalf("serve should not be called when configuration fails")
		return nil
	})
	if err == nil {
		t.Fatal("run() error = nil, want invalid provider error")
	}
	if !strings.Contains(err.Error(), "failed to load configuration") {
		t.Fatalf("error = %v, want configuration failure", err)
	}
}

func TestRun_MissingEnvFile(t *testing.T) {
	setRequiredEnv(t)

	err := run(context.Background(), 0, "/nonexistent/agent.env", func(string, http.Handler) error {
		t.Fatalf("serve should not be called when the env file is missing")
		return nil
	})
	if err == nil {
		t.Fatal("run() error = nil, want env file failure")
	}
	if !strings.Contains(err.Error(), "failed to load env file") {
		t.Fatalf("error = %v, want env file failure", err)
	}
}

func TestRun_ExecutorError(t *testing.T) {
	setRequiredEnv(t)

	prevExecutor := newExecutor
	defer func() { newExecutor = prevExecutor }()
	newExecutor = func(ctx context.Context, cfg *config.Config) (mongo.Executor, error) {
		return nil, errors.New("inject failure")
	}

	err := run(context.Background(), 0, "", func(string, http.Handler) error {
		t.Fatalf("serve should not be called on executor failure")
		return nil
	})
	if err == nil {
		t.Fatal("run() error = nil, want executor failure")
	}
	if !strings.Contains(err.Error(), "failed to initialize MongoDB executor") {
		t.Fatalf("error = %v, want executor failure", err)
	}
}

func TestRun_WebHandlerError(t *testing.T) {
	setRequiredEnv(t)

	prevWebHandler := newWebHandler
	defer func() { newWebHandler = prevWebHandler }()
	newWebHandler = func(store *runstore.Store) (*web.Handler, error) {
		return nil, errors.New("inject failure")
	}

	err := run(context.Background(), 0, "", func(string, http.Handler) error {
		t.Fatalf("serve should not be called on web handler failure")
		return nil
	})
	if err == nil {
		t.Fatal("run() error = nil, want web handler failure")
	}
	if !strings.Contains(err.Error(), "failed to initialize web handler") {
		t.Fatalf("error = %v, want web handler failure", err)
	}
}
