package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/export"
	"github.com/conorfennell/knolmark/internal/generate"
	"github.com/conorfennell/knolmark/internal/geometry"
	"github.com/conorfennell/knolmark/internal/review"
	"github.com/conorfennell/knolmark/internal/storage"
	"github.com/conorfennell/knolmark/internal/viewer"
)

//go:embed all:templates
var templateFiles embed.FS

// Server holds the dependencies for the HTTP server.
type Server struct {
	store     *storage.Store
	registry  *viewer.Registry
	pipeline  *generate.Pipeline
	logger    *slog.Logger
	router    *http.ServeMux
	templates *template.Template
	now       func() time.Time

	mu      sync.Mutex
	session *review.Session
}

// NewServer creates and configures a new server. pipeline may be nil when
// no generation backend is configured.
func NewServer(store *storage.Store, registry *viewer.Registry, pipeline *generate.Pipeline, logger *slog.Logger) (*Server, error) {
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:     store,
		registry:  registry,
		pipeline:  pipeline,
		logger:    logger,
		router:    http.NewServeMux(),
		templates: tpl,
		now:       time.Now,
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped for cross-origin calls from the host
// viewer.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin", "HX-Request", "HX-Target", "HX-Current-URL"},
		MaxAge:         86400,
	}).Handler(s)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	// HTMX review pages
	s.router.HandleFunc("GET /{$}", s.handleDeck())
	s.router.HandleFunc("GET /review/next", s.handleNext())
	s.router.HandleFunc("POST /review/reveal", s.handleReveal())
	s.router.HandleFunc("POST /review/grade", s.handleGrade())
	s.router.HandleFunc("POST /review/reset", s.handleReset())

	// Card manager
	s.router.HandleFunc("GET /cards", s.handleCards())
	s.router.HandleFunc("POST /cards/{id}", s.handleEditCard())
	s.router.HandleFunc("DELETE /cards/{id}", s.handleDeleteCard())

	// Viewer and command API
	s.router.HandleFunc("POST /api/highlights", s.handleCapture())
	s.router.HandleFunc("POST /api/overlays", s.handleOverlays())
	s.router.HandleFunc("GET /api/views/{id}/overlays", s.handleViewOverlays())
	s.router.HandleFunc("DELETE /api/views/{id}", s.handleCloseView())
	s.router.HandleFunc("POST /api/generate", s.handleGenerate())
	s.router.HandleFunc("GET /api/export", s.handleExport())
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Failed to render template", "template", name, "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// invalidate drops the review session so the next review page starts over
// with the current card set.
func (s *Server) invalidate() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

// reviewView is the data behind every review template.
type reviewView struct {
	State    string
	Card     domain.Flashcard
	Revealed bool
	Stats    review.Stats
}

// sessionLocked returns the open session, starting one if needed. s.mu must
// be held.
func (s *Server) sessionLocked(r *http.Request) *review.Session {
	if s.session == nil {
		cards := s.store.ReadFlashcards(r.Context()).Cards
		s.session = review.NewSession(r.Context(), cards, s.store)
	}
	return s.session
}

func (s *Server) viewLocked(session *review.Session) reviewView {
	v := reviewView{
		State:    session.State().String(),
		Revealed: session.Revealed(),
		Stats:    session.Stats(s.now()),
	}
	v.Card, _ = session.Current()
	return v
}

// handleDeck renders the full review page with a fresh session.
func (s *Server) handleDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.session = nil
		v := s.viewLocked(s.sessionLocked(r))
		s.mu.Unlock()
		s.render(w, "deck", v)
	}
}

// handleNext renders the current card.
func (s *Server) handleNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		v := s.viewLocked(s.sessionLocked(r))
		s.mu.Unlock()
		s.render(w, "review", v)
	}
}

func (s *Server) handleReveal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		session := s.sessionLocked(r)
		session.ToggleReveal()
		v := s.viewLocked(session)
		s.mu.Unlock()
		s.render(w, "review", v)
	}
}

// handleGrade grades the current card and renders the next one.
func (s *Server) handleGrade() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var good bool
		switch domain.Grade(r.PostFormValue("grade")) {
		case domain.Good:
			good = true
		case domain.Again:
		default:
			http.Error(w, "Invalid grade", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		session := s.sessionLocked(r)
		if session.State() != review.Reviewing {
			v := s.viewLocked(session)
			s.mu.Unlock()
			s.render(w, "review", v)
			return
		}
		err := session.Grade(r.Context(), good)
		v := s.viewLocked(session)
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("Failed to grade card", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		s.render(w, "review", v)
	}
}

func (s *Server) handleReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		session := s.sessionLocked(r)
		err := session.Reset(r.Context())
		v := s.viewLocked(session)
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("Failed to reset progress", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		s.logger.Info("Review progress reset")
		s.render(w, "review", v)
	}
}

// handleCards renders the card manager.
func (s *Server) handleCards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards := s.store.ReadFlashcards(r.Context()).Cards
		s.render(w, "cards", map[string]any{"Cards": cards})
	}
}

// handleEditCard saves a card's question and answer and re-renders its row.
func (s *Server) handleEditCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		question := r.PostFormValue("question")
		answer := r.PostFormValue("answer")
		if question == "" || answer == "" {
			http.Error(w, "Question and answer are required", http.StatusBadRequest)
			return
		}

		err := s.store.UpdateFlashcard(r.Context(), id, question, answer)
		switch {
		case errors.Is(err, storage.ErrCardNotFound):
			http.NotFound(w, r)
			return
		case err != nil:
			s.logger.Error("Failed to edit card", "id", id, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		s.invalidate()

		for _, c := range s.store.ReadFlashcards(r.Context()).Cards {
			if c.ID == id {
				s.render(w, "card_row", c)
				return
			}
		}
		http.NotFound(w, r)
	}
}

// handleDeleteCard deletes a card. The empty response removes its row.
func (s *Server) handleDeleteCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		err := s.store.DeleteFlashcard(r.Context(), id)
		switch {
		case errors.Is(err, storage.ErrCardNotFound):
			http.NotFound(w, r)
			return
		case err != nil:
			s.logger.Error("Failed to delete card", "id", id, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		s.invalidate()
		s.logger.Info("Flashcard deleted", "id", id)
		w.WriteHeader(http.StatusOK)
	}
}

type captureRequest struct {
	ViewID     string             `json:"viewId"`
	SourcePath string             `json:"sourcePath"`
	Text       string             `json:"text"`
	Color      string             `json:"color"`
	Selection  []geometry.Rect    `json:"selection"`
	Pages      []geometry.PageBox `json:"pages"`
}

// handleCapture stores the current selection as a highlight.
func (s *Server) handleCapture() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req captureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ViewID == "" || req.SourcePath == "" {
			s.writeError(w, http.StatusBadRequest, "no active document")
			return
		}
		color, err := domain.ParseColor(req.Color)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctrl := s.registry.Open(req.ViewID, req.SourcePath)
		h, err := ctrl.Capture(r.Context(), req.Text, req.Selection, req.Pages, color)
		switch {
		case errors.Is(err, viewer.ErrNoSelection), errors.Is(err, viewer.ErrNoCapture):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			s.logger.Error("Failed to capture highlight", "source", req.SourcePath, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to store highlight")
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{
			"highlight": h,
			"overlays":  ctrl.Overlays(),
		})
	}
}

type overlaysRequest struct {
	ViewID     string             `json:"viewId"`
	SourcePath string             `json:"sourcePath"`
	Pages      []geometry.PageBox `json:"pages"`
}

// handleOverlays recomputes a view's overlays for its mounted pages.
func (s *Server) handleOverlays() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req overlaysRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ViewID == "" || req.SourcePath == "" {
			s.writeError(w, http.StatusBadRequest, "no active document")
			return
		}

		ctrl := s.registry.Open(req.ViewID, req.SourcePath)
		var overlays []viewer.Overlay
		if len(req.Pages) == 0 {
			// Still mounting: let the reconciler retry once pages appear.
			ctrl.Mount(nil)
			overlays = ctrl.Overlays()
		} else {
			overlays = ctrl.Sync(r.Context(), req.Pages)
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"overlays": overlays})
	}
}

// handleViewOverlays returns the overlays of the last reconciliation.
func (s *Server) handleViewOverlays() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := s.registry.Get(r.PathValue("id"))
		if !ok {
			s.writeError(w, http.StatusNotFound, "unknown view")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"overlays": ctrl.Overlays()})
	}
}

func (s *Server) handleCloseView() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.registry.Close(r.PathValue("id")) {
			s.writeError(w, http.StatusNotFound, "unknown view")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGenerate turns a document's pending flashcard highlights into cards.
func (s *Server) handleGenerate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.pipeline == nil {
			s.writeError(w, http.StatusServiceUnavailable, "generation is not configured")
			return
		}
		var req struct {
			SourcePath string `json:"sourcePath"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourcePath == "" {
			s.writeError(w, http.StatusBadRequest, "no active document")
			return
		}

		res, err := s.pipeline.Run(r.Context(), req.SourcePath)
		switch {
		case errors.Is(err, generate.ErrNothingToGenerate):
			s.writeJSON(w, http.StatusOK, map[string]any{"created": 0, "notice": err.Error()})
			return
		case errors.Is(err, generate.ErrGeneration):
			s.logger.Error("Generation failed", "source", req.SourcePath, "error", err)
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		case err != nil:
			s.logger.Error("Failed to store generated cards", "source", req.SourcePath, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to store flashcards")
			return
		}

		if len(res.Cards) == 0 {
			s.writeJSON(w, http.StatusOK, map[string]any{"created": 0, "notice": "no usable flashcards were generated"})
			return
		}
		s.invalidate()
		s.writeJSON(w, http.StatusCreated, map[string]any{"created": len(res.Cards), "cards": res.Cards})
	}
}

// handleExport renders a document's highlights as markdown.
func (s *Server) handleExport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		if source == "" {
			http.Error(w, "No active document", http.StatusBadRequest)
			return
		}
		f := s.store.ReadHighlights(r.Context(), source)
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", export.FileName(source)))
		fmt.Fprint(w, export.Render(f.Highlights))
	}
}
