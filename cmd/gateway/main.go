// Command gateway boots the crypto-payment gateway: it loads config from
// the environment, opens the configured store, starts the orchestrator
// (which resumes every persisted chain's scanner), the ingestor, the
// confirmation reconciler, the expiration janitor, and the webhook
// dispatcher, then serves the REST surface until an interrupt or SIGTERM
// arrives, the same boot sequence services/otc-gateway/main.go and
// services/payments-gateway/main.go use for their own HTTP services.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cryptogateway/internal/api"
	apimw "cryptogateway/internal/api/middleware"
	"cryptogateway/internal/chain"
	"cryptogateway/internal/config"
	"cryptogateway/internal/domain"
	"cryptogateway/internal/ingest"
	"cryptogateway/internal/janitor"
	"cryptogateway/internal/logging"
	"cryptogateway/internal/orchestrator"
	"cryptogateway/internal/reconcile"
	"cryptogateway/internal/store"
	"cryptogateway/internal/telemetry"
	"cryptogateway/internal/webhook"
)

const (
	shutdownTimeout = 10 * time.Second
	eventBufferSize = 256
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.ServiceName, cfg.Environment, logging.Options{
		Format:  cfg.LogFormat,
		LogFile: cfg.LogFile,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		Headers:     telemetry.ParseHeaders(cfg.OTelHeaders),
		Metrics:     cfg.OTelMetrics,
		Traces:      cfg.OTelTraces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	events := make(chan domain.PaymentEvent, eventBufferSize)

	orch := orchestrator.New(st, events, logger)
	if err := orch.StartAll(context.Background()); err != nil {
		logger.Error("start chains failed", "error", err)
	}
	defer orch.Shutdown()

	ingestor := ingest.New(st, events, logger)
	reconciler := reconcile.New(st, chain.NewRPCHeadReader(), cfg.ConfirmatorInterval, logger)
	jan := janitor.New(st, cfg.JanitorInterval, logger)
	dispatcher := webhook.New(st, nil, logger)

	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	go ingestor.Run(bgCtx)
	go reconciler.Run(bgCtx)
	go jan.Run(bgCtx)
	go dispatcher.Run(bgCtx)

	handler, err := api.New(api.Config{
		Store:        st,
		Orchestrator: orch,
		APIKey:       cfg.APIKey,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimit:    cfg.RateLimit,
		Observability: apimw.ObservabilityConfig{
			ServiceName: cfg.ServiceName,
			LogRequests: true,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("build api handler: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.BindAddress,
		Handler: otelhttp.NewHandler(handler, cfg.ServiceName),
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down gateway")
	cancelBG()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseType {
	case config.DatabaseMock:
		return store.NewMock(), nil
	case config.DatabasePostgres:
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
		if err := store.AutoMigrate(db); err != nil {
			return nil, err
		}
		return store.NewPostgres(db), nil
	default:
		return nil, errUnknownDatabaseType(cfg.DatabaseType)
	}
}

type errUnknownDatabaseType config.DatabaseKind

func (e errUnknownDatabaseType) Error() string {
	return "unknown database type: " + string(e)
}
