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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"github.com/mendersoftware/deployments/pkg/bus"
	"github.com/mendersoftware/deployments/pkg/db"
	"github.com/mendersoftware/deployments/pkg/introspect"
	"github.com/mendersoftware/deployments/pkg/inventory"
	"github.com/mendersoftware/deployments/pkg/link"
	gos3 "github.com/mendersoftware/deployments/pkg/s3"
	"github.com/mendersoftware/deployments/pkg/secrets"
	"github.com/mendersoftware/deployments/pkg/telemetry"
	"github.com/mendersoftware/deployments/services/api"
	"github.com/mendersoftware/deployments/services/deployments"
)

type config struct {
	Addr          string        `env:"ADDR, default=:8080"`
	DBDSN         string        `env:"DB_DSN, required"`
	NATSURL       string        `env:"NATS_URL, default=nats://127.0.0.1:4222"`
	S3Bucket      string        `env:"S3_BUCKET, required"`
	DownloadBase  string        `env:"DOWNLOAD_BASE_URL, required"`
	InventoryURL  string        `env:"INVENTORY_URL"`
	IntrospectURL string        `env:"INTROSPECT_URL"`
	DefaultTenant string        `env:"DEFAULT_TENANT, default=default"`
	LinkTTL       time.Duration `env:"LINK_TTL, default=24h"`
	UploadTTL     time.Duration `env:"UPLOAD_TTL, default=1h"`
}

func main() {
	if err := run("deployments-api"); err != nil {
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

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

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

	var directory deployments.DeviceDirectory
	if cfg.InventoryURL != "" {
		client, err := inventory.NewClient(cfg.InventoryURL)
		if err != nil {
			return fmt.Errorf("init inventory client: %w", err)
		}
		directory = client
	}

	var inspector deployments.Inspector
	if cfg.IntrospectURL != "" {
		client, err := introspect.NewClient(cfg.IntrospectURL)
		if err != nil {
			return fmt.Errorf("init introspect client: %w", err)
		}
		inspector = client
	}

	app := deployments.NewDeployments(store, objects, natsBus, directory, inspector, signer, keyring, deployments.Config{
		LinkTTL:      cfg.LinkTTL,
		UploadTTL:    cfg.UploadTTL,
		DownloadBase: cfg.DownloadBase,
	}, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	apiHandlers, err := api.New(app, signer, api.Config{DefaultTenant: cfg.DefaultTenant}, registry)
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	routes, err := apiHandlers.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", routes)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
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
