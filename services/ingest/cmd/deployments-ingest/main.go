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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"github.com/mendersoftware/deployments/pkg/bus"
	"github.com/mendersoftware/deployments/pkg/db"
	"github.com/mendersoftware/deployments/pkg/introspect"
	"github.com/mendersoftware/deployments/pkg/link"
	gos3 "github.com/mendersoftware/deployments/pkg/s3"
	"github.com/mendersoftware/deployments/pkg/secrets"
	"github.com/mendersoftware/deployments/pkg/telemetry"
	"github.com/mendersoftware/deployments/services/deployments"
	"github.com/mendersoftware/deployments/services/ingest"
)

type config struct {
	Addr          string `env:"ADDR, default=:8081"`
	DBDSN         string `env:"DB_DSN, required"`
	NATSURL       string `env:"NATS_URL, default=nats://127.0.0.1:4222"`
	S3Bucket      string `env:"S3_BUCKET, required"`
	IntrospectURL string `env:"INTROSPECT_URL, required"`
}

func main() {
	if err := run("deployments-ingest"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	s3Client, err := gos3.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}

	keyring, err := secrets.FromEnv()
	if err != nil {
		return fmt.Errorf("init keyring: %w", err)
	}

	signer, err := link.NewSigner(keyring.DeriveLinkSecret())
	if err != nil {
		return fmt.Errorf("init link signer: %w", err)
	}

	natsBus, err := bus.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect message bus: %w", err)
	}
	defer natsBus.Close()

	store, err := deployments.NewPgStore(pool)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	objects, err := deployments.NewStorageResolver(store, keyring, s3Client, cfg.S3Bucket)
	if err != nil {
		return fmt.Errorf("init storage resolver: %w", err)
	}

	inspector, err := introspect.NewClient(cfg.IntrospectURL)
	if err != nil {
		return fmt.Errorf("init introspect client: %w", err)
	}

	app := deployments.NewDeployments(store, objects, natsBus, nil, inspector, signer, keyring, deployments.Config{}, logger)

	consumer, err := ingest.NewConsumer(store, objects, app, inspector, logger)
	if err != nil {
		return fmt.Errorf("init consumer: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(pool))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: middleware(mux),
	}

	go func() {
		logger.Printf("INFO probes listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("ERROR probe server failed: %v", err)
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO consuming %s", bus.SubjectUploadCompleted)
	return consumer.Run(ctx, natsBus)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func readyHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx, pool); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
