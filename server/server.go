// Package server exposes a docview.Session over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alefaraci/docview"
)

// Options configure New.
type Options struct {
	// ExportDir receives files written by POST /export. Exports are
	// disabled when it is empty.
	ExportDir string
	// RenderTimeout bounds a single tile render.
	RenderTimeout time.Duration
}

// Server is the HTTP surface of one open document.
type Server struct {
	router  chi.Router
	session *docview.Session
	log     *slog.Logger
	opts    Options
}

func New(session *docview.Session, log *slog.Logger, opts Options) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 30 * time.Second
	}
	s := &Server{session: session, log: log, opts: opts}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/document", s.handleDocument)
	r.Get("/outline", s.handleOutline)
	r.Post("/password", s.handlePassword)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUnlocked)

		r.Route("/pages/{page}", func(r chi.Router) {
			r.Get("/size", s.handlePageSize)
			r.Get("/tile", s.handleTile)
			r.Get("/search", s.handleSearch)
			r.Get("/links", s.handleLinks)
		})
		r.Post("/layout", s.handleLayout)
		r.Post("/goto", s.handleGoto)
		r.Post("/night", s.handleNight)

		r.Route("/drawing", func(r chi.Router) {
			r.Post("/enter", s.handleDrawingEnter)
			r.Post("/exit", s.handleDrawingExit)
			r.Post("/tool", s.handleTool)
			r.Post("/pointer", s.handlePointer)
			r.Post("/undo", s.handleUndo)
			r.Post("/redo", s.handleRedo)
			r.Post("/clear", s.handleClear)
		})
		r.Post("/export", s.handleExport)
	})

	s.router = r
}

// requireUnlocked answers 401 while the document waits for its password.
func (s *Server) requireUnlocked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.session.NeedsPassword() {
			jsonError(w, docview.ErrPasswordRequired.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// decodeBody reads a small JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
