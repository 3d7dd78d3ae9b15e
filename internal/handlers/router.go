package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/repositories"
	"github.com/prudhvinik1/omnisync/internal/services"
	"github.com/rs/cors"
)

type RouterConfig struct {
	Services       []*services.SyncService
	Activity       repositories.SyncActivityRepository
	Identity       *IdentityResolver
	Logger         logging.Logger
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(cfg.Logger))
	router.Use(middleware.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}

	syncHandler := NewSyncHandler(cfg.Services, cfg.Logger)

	router.Route("/api", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		r.Use(cfg.Identity.Middleware)

		if cfg.Activity != nil {
			activityHandler := NewActivityHandler(cfg.Activity, syncHandler.Resources(), cfg.Logger)
			r.Get("/sync/activity", activityHandler.GetActivity)
		}
		r.Get("/{resource}/changes", syncHandler.GetChanges)
		r.Post("/{resource}/changes", syncHandler.PostChanges)
	})

	return router
}
