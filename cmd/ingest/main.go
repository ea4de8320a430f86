package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WillB97/kit-web-ui/internal/config"
	"github.com/WillB97/kit-web-ui/internal/data"
	"github.com/WillB97/kit-web-ui/internal/ingest"
	"github.com/WillB97/kit-web-ui/internal/registry"
)

// run-ingest: subscribe to the whole broker topic space and archive
// every decoded message until interrupted. Transient broker or store
// trouble never exits the process; only startup misconfiguration does.
func main() {
	configPath := flag.String("config", "config/default.yaml", "Config file path")
	brokerHost := flag.String("host", "", "MQTT broker host (overrides config)")
	brokerPort := flag.Int("port", 0, "MQTT broker port (overrides config)")
	useTLS := flag.String("use-tls", "", "TLS mode: true, false or insecure (overrides config)")
	username := flag.String("username", "", "MQTT username (overrides config)")
	password := flag.String("password", "", "MQTT password (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *brokerHost != "" {
		cfg.Broker.Host = *brokerHost
	}
	if *brokerPort != 0 {
		cfg.Broker.Port = *brokerPort
	}
	if *useTLS != "" {
		cfg.Broker.UseTLS = *useTLS
	}
	if *username != "" {
		cfg.Broker.Username = *username
	}
	if *password != "" {
		cfg.Broker.Password = *password
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tenant registry snapshot, reloaded periodically and when the
	// config file is touched.
	configs := data.ConfigModel{DB: db}
	snap, err := registry.Build(ctx, configs, cfg.Ingest.RouteCacheSize)
	if err != nil {
		log.Fatalf("Registry load error: %v", err)
	}
	log.Printf("[INFO] Loaded %d tenant configs", snap.Len())

	holder := registry.NewHolder(snap)
	watcher := registry.NewWatcher(holder, configs, cfg.Ingest.RouteCacheSize, cfg.Ingest.ReloadInterval(), *configPath)
	watcher.Start(ctx)

	pipeline := &ingest.Pipeline{
		Snapshots: holder,
		Store:     data.EventModel{DB: db},
	}

	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if natsURL == "" {
			natsURL = nats.DefaultURL
		}
		nc, err := nats.Connect(natsURL, nats.Name("kit-web-ui-ingest"))
		if err != nil {
			log.Printf("[WARN] NATS connect failed, live fan-out disabled: %v", err)
		} else {
			defer nc.Close()
			pipeline.Publisher = ingest.NewNATSPublisher(nc, cfg.NATS.Subject, cfg.NATS.PublishRetryMax)
			log.Printf("[INFO] Fan-out to NATS subject %s", cfg.NATS.Subject)
		}
	}

	if cfg.Ingest.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Ingest.MetricsAddr, mux); err != nil {
				log.Printf("[WARN] Metrics listener stopped: %v", err)
			}
		}()
	}

	session := ingest.NewSession(ingest.SessionConfig{
		BrokerURL:        cfg.BrokerURL(),
		Username:         cfg.Broker.Username,
		Password:         cfg.Broker.Password,
		TLSMode:          cfg.Broker.UseTLS,
		ClientID:         cfg.Broker.ClientID,
		QueueSize:        cfg.Ingest.QueueSize,
		ConnectRetryWait: cfg.Ingest.ConnectRetryWait(),
	}, pipeline)

	done := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Printf("[INFO] Shutdown signal received")
		cancel()
		close(done)
	}()

	log.Printf("[INFO] Connecting to %s", cfg.BrokerURL())
	if err := session.Run(done); err != nil {
		log.Fatalf("Session error: %v", err)
	}
	log.Println("Done")
}
