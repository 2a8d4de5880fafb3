// Package server exposes sequence generation and the workflow canvas over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/talkxo/sequence-email/internal/canvas"
	"github.com/talkxo/sequence-email/internal/dispatch"
	"github.com/talkxo/sequence-email/internal/sequence"
)

// Generator is the generation pipeline behind the API.
type Generator interface {
	GenerateSequence(ctx context.Context, form sequence.FormData) ([]sequence.Email, error)
	GenerateEmail(ctx context.Context, form sequence.FormData, n int, previous []sequence.Email) (sequence.Email, error)
	Autofill(ctx context.Context, description string) (sequence.Autofill, error)
	GenerateVariant(ctx context.Context, subject string, form sequence.FormData) (sequence.ABVariants, error)
}

// StatsSource reports credential pool statistics.
type StatsSource interface {
	Stats() dispatch.Stats
}

// CredentialSwitch enables and disables pool credentials by name.
type CredentialSwitch interface {
	SetActive(name string, active bool) bool
}

// Options wires the server's collaborators. Generator and Editor are
// required.
type Options struct {
	Generator Generator
	Stats     StatsSource
	// Credentials backs PATCH /api/credentials/{name}; nil disables it.
	Credentials CredentialSwitch
	Models      *dispatch.Registry
	Editor      *canvas.Editor
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// MaxConcurrent bounds concurrent generation requests; <= 0 means 2.
	MaxConcurrent int64
	Now           func() time.Time
}

// Server is the HTTP handler for the API.
type Server struct {
	gen    Generator
	stats  StatsSource
	creds  CredentialSwitch
	models *dispatch.Registry
	editor *canvas.Editor
	sem    *semaphore.Weighted
	now    func() time.Time
	router chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.Models == nil {
		opts.Models = dispatch.NewRegistry(nil)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		gen:    opts.Generator,
		stats:  opts.Stats,
		creds:  opts.Credentials,
		models: opts.Models,
		editor: opts.Editor,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		now:    opts.Now,
	}

	r := chi.NewRouter()
	r.Use(enableCORS)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/models", s.handleModels)
		r.Patch("/credentials/{name}", s.handleSetCredential)

		r.Post("/generate", s.handleGenerate)
		r.Post("/generate-single", s.handleGenerateSingle)
		r.Post("/autofill", s.handleAutofill)
		r.Post("/generate-ab", s.handleGenerateAB)

		r.Route("/canvas", func(r chi.Router) {
			r.Get("/", s.handleCanvasState)
			r.Get("/node-types", s.handleNodeTypes)
			r.Post("/seed", s.handleCanvasSeed)
			r.Post("/nodes", s.handleAddNode)
			r.Patch("/nodes/{id}", s.handleUpdateNode)
			r.Delete("/nodes/{id}", s.handleDeleteNode)
			r.Post("/select/{id}", s.handleSelect)
			r.Post("/connections", s.handleAddConnection)
			r.Delete("/connections/{id}", s.handleDeleteConnection)
			r.Post("/connect/start", s.handleConnectStart)
			r.Post("/connect/complete", s.handleConnectComplete)
			r.Get("/save", s.handleSave)
			r.Post("/load", s.handleLoad)
			r.Get("/export", s.handleExport)
			r.Get("/mermaid", s.handleMermaid)
		})
	})
	s.router = r
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "stats not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.models.Models(),
		"best":   s.models.Best(),
	})
}

type credentialRequest struct {
	Active *bool `json:"active"`
}

// handleSetCredential takes a key out of rotation or puts it back. The pool
// still revives every key when all of them are disabled.
func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	if s.creds == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "credentials not configured"})
		return
	}
	var req credentialRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Active == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"active": true|false}`})
		return
	}
	name := chi.URLParam(r, "name")
	if !s.creds.SetActive(name, *req.Active) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown credential " + name})
		return
	}
	slog.Info("credential toggled", "credential", name, "active", *req.Active)
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "active": *req.Active})
}

// errorResponse is the body of every failed generation request.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

// writeGenerationError maps a generation failure to a status code. summary
// is the user-facing error; the cause goes in message.
func writeGenerationError(w http.ResponseWriter, summary string, err error) {
	switch {
	case errors.Is(err, sequence.ErrInvalidForm), errors.Is(err, sequence.ErrDescriptionTooShort):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case dispatch.IsTimeout(err):
		slog.Warn("generation timed out", "error", err)
		writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "Request timed out. Please try again.", Message: err.Error()})
	default:
		slog.Error("generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: summary, Message: err.Error()})
	}
}

// writeCanvasError maps editor errors to 404 or 400.
func writeCanvasError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, canvas.ErrNodeNotFound) || errors.Is(err, canvas.ErrConnectionNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
