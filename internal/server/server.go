package server

import (
	"net/http"

	"github.com/rumor-ml/commons.systems/qbimport/internal/config"
	"github.com/rumor-ml/commons.systems/qbimport/internal/handlers"
	"github.com/rumor-ml/commons.systems/qbimport/internal/importer"
	"github.com/rumor-ml/commons.systems/qbimport/internal/middleware"
	"github.com/rumor-ml/commons.systems/qbimport/internal/store"
	"github.com/rumor-ml/commons.systems/qbimport/internal/streaming"
)

// Server represents the import API server
type Server struct {
	store *store.Store
	mux   *http.ServeMux
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store: st,
		mux:   http.NewServeMux(),
	}
	s.setupRoutes(cfg)
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg *config.Config) {
	// Health check (no auth required)
	s.mux.HandleFunc("/health", handlers.HealthCheck)

	apiHandler := handlers.NewAPIHandler(s.store)
	authMiddleware := middleware.NewAuthMiddleware(cfg.APIToken)

	// Import handlers with streaming hub
	hub := streaming.NewStreamHub()
	imp := importer.New(s.store, hub, cfg.ImporterConfig())
	importHandler := handlers.NewImportHandlers(imp, hub)

	// Protected API routes
	s.mux.Handle("GET /api/payees", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.GetPayees)))
	s.mux.Handle("GET /api/reviews", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.GetPendingReviews)))
	s.mux.Handle("POST /api/reviews/{id}/resolve", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.ResolveReview)))
	s.mux.Handle("GET /api/import/batches", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.GetBatches)))

	// Import flow
	s.mux.Handle("POST /api/import/preview", authMiddleware.RequireAuth(http.HandlerFunc(importHandler.Preview)))
	s.mux.Handle("POST /api/import/{id}/commit", authMiddleware.RequireAuth(http.HandlerFunc(importHandler.Commit)))
	s.mux.Handle("GET /api/import/{id}/stream", authMiddleware.RequireAuth(http.HandlerFunc(importHandler.Stream)))
	s.mux.Handle("POST /api/import/batches/{id}/rollback", authMiddleware.RequireAuth(http.HandlerFunc(importHandler.Rollback)))

	// Static files for the review UI (when deployed together)
	fs := http.FileServer(http.Dir("./dist"))
	s.mux.Handle("/", fs)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}

// Store exposes the backing store, used by the CLI when serving and
// importing from the same process.
func (s *Server) Store() *store.Store {
	return s.store
}
