// Package server is the optional local status API. Read-only: it
// reports what the daemon is protecting and what retention has done,
// it never mutates history or blobs.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"savesentry/internal/blob"
	"savesentry/internal/journal"
	"savesentry/internal/ledger"
)

// Server is the savesentry status HTTP server.
type Server struct {
	ledger  *ledger.Ledger
	blobs   *blob.Store
	journal *journal.DB // nil when journaling is disabled
	sizeCap int64
	version string
	router  chi.Router
	started time.Time
}

// New creates a Server over the daemon's ledger and blob store.
func New(l *ledger.Ledger, b *blob.Store, jdb *journal.DB, sizeCap int64, version string) *Server {
	s := &Server{
		ledger:  l,
		blobs:   b,
		journal: jdb,
		sizeCap: sizeCap,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/files", s.handleFiles)
		r.Get("/files/{name}/versions", s.handleFileVersions)
		r.Get("/storage", s.handleStorage)
		r.Get("/activity", s.handleActivity)
	})

	s.router = r
}
