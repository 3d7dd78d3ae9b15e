package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/omnisync/internal/adapters"
	"github.com/prudhvinik1/omnisync/internal/config"
	"github.com/prudhvinik1/omnisync/internal/handlers"
	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/services"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Initialize storage
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to open storage", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	registry, err := adapters.ForResources(cfg.Resources())
	if err != nil {
		logger.Error(ctx, "failed to build adapters", "error", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(promRegistry)

	// One engine per resource type
	var syncServices []*services.SyncService
	for _, name := range registry.Names() {
		adapter, _ := registry.Get(name)
		svc := services.NewSyncService(adapter, backend.Store(name), logger).
			WithActivity(backend.Activity()).
			WithMetrics(metrics).
			WithMaxBatchSize(cfg.MaxPushBatch)
		syncServices = append(syncServices, svc)
	}

	identity := handlers.NewAuthIdentityResolver(cfg.JWTSecret, logger)
	if identity.GatewayMode() {
		logger.Warn(ctx, "JWT_SECRET not set: trusting the user parameter, run behind an authenticating gateway")
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Services:       syncServices,
		Activity:       backend.Activity(),
		Identity:       identity,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins(),
		RequestTimeout: cfg.RequestTimeout(),
		Metrics:        promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	})

	// Start Server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info(ctx, "shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(ctx, "shutdown did not complete", "error", err)
		}
	}()

	logger.Info(ctx, "starting server",
		"port", cfg.ServerPort,
		"backend", cfg.StoreBackend,
		"resources", registry.Names(),
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "server error", "error", err)
		os.Exit(1)
	}

	logger.Info(ctx, "server stopped gracefully")
}
