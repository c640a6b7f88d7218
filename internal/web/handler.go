// Package web serves the embedded status pages for run history.
package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/praveenk20/mongodb-agent-ai/internal/runstore"
)

//go:embed templates/*
var templatesFS embed.FS

// Handler handles web UI requests
type Handler struct {
	store     *runstore.Store
	templates *template.Template
}

// NewHandler creates a new web handler
func NewHandler(store *runstore.Store) (*Handler, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"statusColor":   statusColor,
		"statusIcon":    statusIcon,
		"logLevelColor": logLevelColor,
		"formatTime":    formatTime,
		"prettyJSON":    prettyJSON,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		store:     store,
		templates: tmpl,
	}, nil
}

// RegisterRoutes registers web UI routes under /ui
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ui", h.handleRunList).Methods("GET")
	r.HandleFunc("/ui/runs/{id}", h.handleRunDetail).Methods("GET")
}

// handleRunList renders the run list page
func (h *Handler) handleRunList(w http.ResponseWriter, r *http.Request) {
	runs := h.store.List()

	data := struct {
		Runs []*runstore.Run
	}{
		Runs: runs,
	}

	if err := h.templates.ExecuteTemplate(w, "run_list.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleRunDetail renders the run detail page
func (h *Handler) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	run, err := h.store.Get(runID)
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	data := struct {
		Run *runstore.Run
	}{
		Run: run,
	}

	if err := h.templates.ExecuteTemplate(w, "run_detail.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Helper functions for templates
func statusColor(status runstore.Status) string {
	switch status {
	case runstore.StatusPending:
		return "#6c757d"
	case runstore.StatusRunning:
		return "#0d6efd"
	case runstore.StatusCompleted:
		return "#198754"
	case runstore.StatusFailed:
		return "#dc3545"
	default:
		return "#6c757d"
	}
}

func statusIcon(status runstore.Status) string {
	switch status {
	case runstore.StatusPending:
		return "○"
	case runstore.StatusRunning:
		return "⟳"
	case runstore.StatusCompleted:
		return "✓"
	case runstore.StatusFailed:
		return "✗"
	default:
		return "○"
	}
}

func logLevelColor(level string) string {
	switch strings.ToLower(level) {
	case "error":
		return "#dc3545"
	case "success":
		return "#198754"
	case "info":
		return "#0d6efd"
	default:
		return "#6c757d"
	}
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}
