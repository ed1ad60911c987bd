package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atlasgrove/marketing-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/atlasgrove/marketing-ai-platform/internal/http/middleware"
	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *handlers.ChatHandler
	KnowledgeHandler   *handlers.KnowledgeHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.ChatHandler != nil {
			api.Route("/chat", func(chat chi.Router) {
				chat.Post("/messages", cfg.ChatHandler.PostMessage)
				chat.Route("/sessions/{sessionID}", func(s chi.Router) {
					s.Get("/", cfg.ChatHandler.GetSession)
					s.Get("/messages", cfg.ChatHandler.GetMessages)
					s.Post("/{action}", cfg.ChatHandler.ChangeStatus)
				})
			})
		}
		if cfg.KnowledgeHandler != nil {
			api.Route("/knowledge/documents", func(k chi.Router) {
				k.Post("/", cfg.KnowledgeHandler.CreateDocument)
				k.Route("/{documentID}", func(d chi.Router) {
					d.Get("/", cfg.KnowledgeHandler.GetDocument)
					d.Delete("/", cfg.KnowledgeHandler.DeleteDocument)
					d.Post("/reindex", cfg.KnowledgeHandler.ReindexDocument)
					d.Post("/archive", cfg.KnowledgeHandler.ArchiveDocument)
				})
			})
		}
	})

	return r
}
