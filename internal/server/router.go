package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veldt-labs/quarry/internal/api"
	"github.com/veldt-labs/quarry/internal/api/handlers"
	"github.com/veldt-labs/quarry/internal/api/middleware"
)

type RouterConfig struct {
	KnowledgeBaseHandler *handlers.KnowledgeBaseHandler
	DocumentHandler      *handlers.DocumentHandler
	QueryHandler         *handlers.QueryHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/knowledge-bases", func(r chi.Router) {
		r.Post("/", cfg.KnowledgeBaseHandler.Create)
		r.Get("/", cfg.KnowledgeBaseHandler.List)
		r.Delete("/{id}", cfg.KnowledgeBaseHandler.Deactivate)
		r.Get("/{id}/stats", cfg.KnowledgeBaseHandler.Stats)

		r.Post("/{id}/documents", cfg.DocumentHandler.Ingest)
		r.Put("/{id}/documents/{docID}", cfg.DocumentHandler.Update)
		r.Delete("/{id}/documents/{docID}", cfg.DocumentHandler.Delete)

		r.Post("/{id}/query", cfg.QueryHandler.Query)
	})

	return r
}
