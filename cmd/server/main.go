package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/WillB97/kit-web-ui/internal/api"
	"github.com/WillB97/kit-web-ui/internal/archive"
	"github.com/WillB97/kit-web-ui/internal/audit"
	"github.com/WillB97/kit-web-ui/internal/config"
	"github.com/WillB97/kit-web-ui/internal/data"
	"github.com/WillB97/kit-web-ui/internal/middleware"
	"github.com/WillB97/kit-web-ui/internal/ratelimit"
	"github.com/WillB97/kit-web-ui/internal/runs"
)

// server: the export API the web layer queries for status, runs, logs
// and downloadable bundles. Authentication happens upstream.
func main() {
	configPath := flag.String("config", "config/default.yaml", "Config file path")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if cfg.Database.User == "" || cfg.Database.Name == "" {
		log.Fatalf("Config error: database user and name are required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})

	runsSvc := runs.NewService(data.EventModel{DB: db}, data.ConfigModel{DB: db})
	builder := archive.NewBuilder(runsSvc)
	auditSvc := audit.NewService(db)

	limiter := ratelimit.NewLimiter(rdb)
	rateLimit := middleware.NewRateLimit(limiter, ratelimit.LimitConfig{
		Rate:   cfg.RateLimit.Rate,
		Window: cfg.RateLimit.Window(),
	})

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)
	r.Use(middleware.Metrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit.Middleware)
		api.NewHandler(runsSvc, builder, auditSvc).Register(r)
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Printf("[INFO] Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[ERROR] Server shutdown: %v", err)
		}
	}()

	log.Printf("[INFO] Export API listening on %s", cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Done")
}
