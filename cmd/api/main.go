// The governance API binary. It assembles the engine from configuration,
// serves the REST edge and the live audit feed, and runs the retention
// sweep in the background. Storage, cache, and broker integrations come
// up only when configured, so a bare development run needs nothing but
// the binary itself.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/api/rest"
	"github.com/adminsuite/governance-backend/internal/api/websocket"
	"github.com/adminsuite/governance-backend/internal/infrastructure/auth"
	"github.com/adminsuite/governance-backend/internal/infrastructure/cache"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
	"github.com/adminsuite/governance-backend/internal/infrastructure/crypto"
	"github.com/adminsuite/governance-backend/internal/infrastructure/database"
	"github.com/adminsuite/governance-backend/internal/infrastructure/events"
	"github.com/adminsuite/governance-backend/internal/infrastructure/repository"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
	"github.com/adminsuite/governance-backend/internal/metrics"
	"github.com/adminsuite/governance-backend/internal/service"
	retentionsvc "github.com/adminsuite/governance-backend/internal/service/retention"
)

const serviceName = "governance-api"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("%s: %v", serviceName, err)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry(serviceName)
	if err != nil {
		return fmt.Errorf("building metrics registry: %w", err)
	}

	// Secrets may be absent only in development; Validate has already
	// rejected that everywhere else. Ephemeral replacements mean sealed
	// data and issued tokens do not survive a restart.
	masterKey := cfg.Crypto.MasterKey
	if masterKey == "" {
		if masterKey, err = randomSecret(); err != nil {
			return err
		}
		logger.Warn("crypto.master_key not set, using an ephemeral key")
	}
	if cfg.Security.JWTSecret == "" {
		if cfg.Security.JWTSecret, err = randomSecret(); err != nil {
			return err
		}
		logger.Warn("security.jwt_secret not set, using an ephemeral secret")
	}

	keyring, err := crypto.NewKeyring(masterKey, cfg.Crypto.ActiveKeyID, cfg.Crypto.KeyIDs)
	if err != nil {
		return err
	}
	signer, err := crypto.NewTokenSigner(masterKey, cfg.Crypto.ActiveTokenEpoch)
	if err != nil {
		return err
	}
	pseudonyms, err := crypto.NewPseudonymizer(masterKey)
	if err != nil {
		return err
	}

	deps := service.Deps{
		Keys:               keyring,
		Tokens:             signer,
		Pseudonyms:         pseudonyms,
		Metrics:            registry,
		Service:            serviceName,
		Environment:        cfg.Environment,
		LegitimatePurposes: cfg.Consent.LegitimateInterestPurposes,
		ObligationDeadline: cfg.Privacy.ObligationDeadline,
		SweepOptions: retentionsvc.Options{
			Interval:  cfg.Retention.SweepInterval,
			BatchSize: cfg.Retention.SweepBatchSize,
			Rate:      cfg.Retention.SweepRate,
			Burst:     cfg.Retention.SweepBurst,
		},
	}

	health := rest.NewHealthService(serviceName, cfg.Version)

	if cfg.Database.URL != "" {
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		deps.Entries = database.NewAuditRepository(pool)
		deps.Consents = database.NewConsentRepository(pool)
		deps.Policies = database.NewRetentionPolicyRepository(pool)
		deps.Records = database.NewRecordRepository(pool)
		deps.Deletions = database.NewDeletionRequestRepository(pool)
		deps.Exports = database.NewExportRequestRepository(pool)
		deps.Obligations = database.NewObligationRepository(pool)
		deps.Instruments = database.NewInstrumentRepository(pool)
		deps.Transactions = database.NewTransactionRepository(pool)
		deps.Refunds = database.NewRefundRepository(pool)

		health.Register(rest.CheckerFunc("postgres", pool.Ping))
	} else {
		logger.Warn("database.url not set, using in-memory storage")
		deps.Entries = repository.NewAuditRepository()
		deps.Consents = repository.NewConsentRepository()
		deps.Policies = repository.NewRetentionPolicyRepository()
		deps.Records = repository.NewPrivacyRecordRepository()
		deps.Deletions = repository.NewDeletionRequestRepository()
		deps.Exports = repository.NewExportRequestRepository()
		deps.Obligations = repository.NewObligationRepository()
		deps.Instruments = repository.NewInstrumentRepository()
		deps.Transactions = repository.NewTransactionRepository()
		deps.Refunds = repository.NewRefundRepository()
	}

	if cfg.Redis.URL != "" {
		client, err := cache.Connect(cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		decisions := cache.NewConsentCache(client, cfg.Consent.CacheTTL)
		deps.Decisions = decisions
		deps.Subjects = decisions
		deps.Lease = cache.NewLeaderLock(client, "govern:retention:sweep", cfg.Retention.LockTTL)

		health.Register(rest.CheckerFunc("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	// The live feed is always on; Kafka joins the fan-out when enabled.
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	fanout := events.NewFanout()
	fanout.AddStreamer(hub)
	if cfg.Kafka.Enabled {
		publisher, err := events.NewKafkaPublisher(ctx, cfg.Kafka, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		fanout.AddStreamer(publisher)
		fanout.AddNotifier(publisher)
	}
	deps.Streamer = fanout
	deps.Notifier = fanout

	core, err := service.NewCore(ctx, deps, logger)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.Security)
	if err != nil {
		return err
	}

	server, err := rest.NewServer(cfg, rest.ServerDeps{
		Core:   core,
		Tokens: tokens,
		Stream: hub,
		Health: health,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if err := core.RecordStartup(ctx, cfg.Version); err != nil {
		return fmt.Errorf("recording startup: %w", err)
	}

	go core.RunSweepLoop(ctx)
	go serveMetrics(ctx, cfg.Telemetry.MetricsPort, cfg, hub, logger)

	serveErr := server.Start(ctx)

	// The serving context is gone by now; the shutdown marker gets its
	// own deadline.
	markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := core.RecordShutdown(markCtx); err != nil {
		logger.Warn("failed to record shutdown", zap.Error(err))
	}

	return serveErr
}

// randomSecret returns a fresh 32-byte secret, base64 encoded so it can
// stand in for either configured secret.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
