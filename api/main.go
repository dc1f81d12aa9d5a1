package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guarddog/api/internal/handlers"
	"guarddog/api/internal/storage"
	"guarddog/internal/alert"
	"guarddog/internal/pipeline"
	"guarddog/internal/rules"
	"guarddog/internal/utils"

	"github.com/gorilla/mux"
)

func main() {
	var (
		configFile = flag.String("config", "configs/guarddog.yaml", "Configuration file path (YAML)")
		port       = flag.String("port", "", "API server port (overrides application.api_port)")
	)
	flag.Parse()

	// Load configuration
	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		config.Application.APIPort = *port
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)

	catalog, err := rules.LoadFile(config.Application.RulesFile, config.LoadOptions(logger)...)
	if err != nil {
		logger.Fatalf("Failed to load rules: %v", err)
	}
	for _, problem := range catalog.Problems() {
		logger.Warnf("Skipped rule category: %v", problem)
	}

	engine := rules.NewEngine(catalog, logger)

	metrics := rules.NewMetrics()
	engine.SetMetrics(metrics)

	exporter, err := alert.NewPrometheusExporter(config.GetMetricsPort(), metrics, logger)
	if err != nil {
		logger.Fatalf("Failed to create Prometheus exporter: %v", err)
	}

	utils.RegisterNotifiersFromYAML(engine, config, logger)

	// Create in-memory storage, fed by the engine like any other notifier
	store := storage.NewStorage(config.Application.MaxStoredFindings, logger)
	store.SetRules(handlers.RulesFromCatalog(engine.Catalog()))
	engine.RegisterNotifier(store)

	processor := pipeline.NewProcessor(engine, logger, rules.WithWorkers(config.Application.Workers))

	h := handlers.NewHandlers(store, processor, logger)

	// Setup router
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	h.Routes(api)

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := exporter.Start(ctx); err != nil {
			logger.Errorf("Prometheus exporter shutdown error: %v", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%s", config.Application.APIPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("API server starting on port %s", config.Application.APIPort)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}

	// Flush queued notifications
	if err := engine.Close(); err != nil {
		logger.Errorf("Failed to close engine: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:5000",
			"http://localhost:3000",
			"http://127.0.0.1:5000",
			"http://127.0.0.1:3000",
		}

		allowOrigin := "*"
		if origin != "" {
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					allowOrigin = origin
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if allowOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
