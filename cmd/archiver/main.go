// The governance maintenance binary. It ships expired audit entries to
// cold storage and runs the offline halves of the governance lifecycle:
// retention sweeps, obligation deadline enforcement, and re-sealing
// records left on retired keys. Every mode works against the real
// database; there is no in-memory profile here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/infrastructure/archive"
	"github.com/adminsuite/governance-backend/internal/infrastructure/cache"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
	"github.com/adminsuite/governance-backend/internal/infrastructure/crypto"
	"github.com/adminsuite/governance-backend/internal/infrastructure/database"
	"github.com/adminsuite/governance-backend/internal/infrastructure/events"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
	"github.com/adminsuite/governance-backend/internal/service"
	retentionsvc "github.com/adminsuite/governance-backend/internal/service/retention"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "path to configuration file")
	mode       = flag.String("mode", "archive", "operation: archive, verify, sweep, expire, reseal")
	days       = flag.Int("days", 0, "archive entries older than this many days (0 uses archive.min_age)")
	batchSize  = flag.Int("batch", 1000, "batch size for archive and reseal runs")
	location   = flag.String("location", "", "batch location for verify, e.g. s3://bucket/key")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Fatalf("governance-maintenance: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFrom(*configPath)
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

	pool, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	switch *mode {
	case "archive":
		return runArchive(ctx, cfg, database.NewAuditRepository(pool), logger)
	case "verify":
		return runVerify(ctx, cfg, database.NewAuditRepository(pool), logger)
	case "sweep", "expire", "reseal":
		core, cleanup, err := buildCore(ctx, cfg, pool, logger)
		if err != nil {
			return err
		}
		defer cleanup()
		return runMaintenance(ctx, *mode, core, logger)
	default:
		return fmt.Errorf("unknown mode %q (want archive, verify, sweep, expire, or reseal)", *mode)
	}
}

func runArchive(ctx context.Context, cfg *config.Config, source archive.EntrySource, logger *zap.Logger) error {
	archiver, err := archive.NewS3Archiver(ctx, cfg.Archive, source, logger)
	if err != nil {
		return err
	}

	minAge := cfg.Archive.MinAge
	if *days > 0 {
		minAge = time.Duration(*days) * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-minAge)

	start := time.Now()
	count, err := archiver.Run(ctx, cutoff, *batchSize)
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}

	elapsed := time.Since(start)
	logger.Info("archive run complete",
		zap.Int64("entries_shipped", count),
		zap.Time("cutoff", cutoff),
		zap.Duration("elapsed", elapsed))
	return nil
}

func runVerify(ctx context.Context, cfg *config.Config, source archive.EntrySource, logger *zap.Logger) error {
	if *location == "" {
		return fmt.Errorf("verify needs -location")
	}

	archiver, err := archive.NewS3Archiver(ctx, cfg.Archive, source, logger)
	if err != nil {
		return err
	}

	report, err := archiver.VerifyBatch(ctx, *location)
	if err != nil {
		return fmt.Errorf("verify batch: %w", err)
	}
	manifest, err := archiver.Manifest(ctx, *location)
	if err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}

	logger.Info("batch verified",
		zap.String("location", report.Location),
		zap.Int("entries", report.EntryCount),
		zap.Int64("start_sequence", report.StartSequence),
		zap.Int64("end_sequence", report.EndSequence),
		zap.Bool("chain_intact", report.ChainIntact))

	if report.EntryCount != manifest.EntryCount {
		return fmt.Errorf("batch holds %d entries, manifest says %d",
			report.EntryCount, manifest.EntryCount)
	}
	if !report.ChainIntact {
		return fmt.Errorf("hash chain broken inside %s", *location)
	}
	return nil
}

// buildCore assembles the engine against the database for the modes
// that mutate governed data. Maintenance appends to the same audit
// chain the API serves, so the full wiring applies, secrets included.
// The returned cleanup flushes the event publisher when one is wired.
func buildCore(ctx context.Context, cfg *config.Config, pool *database.Pool, logger *zap.Logger) (*service.Core, func(), error) {
	cleanup := func() {}

	if cfg.Crypto.MasterKey == "" {
		return nil, cleanup, fmt.Errorf("crypto.master_key is required for %s runs", *mode)
	}

	keyring, err := crypto.NewKeyring(cfg.Crypto.MasterKey, cfg.Crypto.ActiveKeyID, cfg.Crypto.KeyIDs)
	if err != nil {
		return nil, cleanup, err
	}
	signer, err := crypto.NewTokenSigner(cfg.Crypto.MasterKey, cfg.Crypto.ActiveTokenEpoch)
	if err != nil {
		return nil, cleanup, err
	}
	pseudonyms, err := crypto.NewPseudonymizer(cfg.Crypto.MasterKey)
	if err != nil {
		return nil, cleanup, err
	}

	deps := service.Deps{
		Entries:      database.NewAuditRepository(pool),
		Consents:     database.NewConsentRepository(pool),
		Policies:     database.NewRetentionPolicyRepository(pool),
		Records:      database.NewRecordRepository(pool),
		Deletions:    database.NewDeletionRequestRepository(pool),
		Exports:      database.NewExportRequestRepository(pool),
		Obligations:  database.NewObligationRepository(pool),
		Instruments:  database.NewInstrumentRepository(pool),
		Transactions: database.NewTransactionRepository(pool),
		Refunds:      database.NewRefundRepository(pool),

		Keys:       keyring,
		Tokens:     signer,
		Pseudonyms: pseudonyms,

		Service:            "governance-maintenance",
		Environment:        cfg.Environment,
		LegitimatePurposes: cfg.Consent.LegitimateInterestPurposes,
		ObligationDeadline: cfg.Privacy.ObligationDeadline,
		SweepOptions: retentionsvc.Options{
			BatchSize: cfg.Retention.SweepBatchSize,
			Rate:      cfg.Retention.SweepRate,
			Burst:     cfg.Retention.SweepBurst,
		},
	}

	if cfg.Redis.URL != "" {
		client, err := cache.Connect(cfg.Redis, logger)
		if err != nil {
			return nil, cleanup, err
		}
		deps.Lease = cache.NewLeaderLock(client, "govern:retention:sweep", cfg.Retention.LockTTL)
	}
	if cfg.Kafka.Enabled {
		publisher, err := events.NewKafkaPublisher(ctx, cfg.Kafka, logger)
		if err != nil {
			return nil, cleanup, err
		}
		deps.Streamer = publisher
		deps.Notifier = publisher
		cleanup = publisher.Close
	}

	core, err := service.NewCore(ctx, deps, logger)
	return core, cleanup, err
}

func runMaintenance(ctx context.Context, mode string, core *service.Core, logger *zap.Logger) error {
	switch mode {
	case "sweep":
		report, err := core.SweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		logger.Info("sweep complete",
			zap.Int("examined", report.Examined),
			zap.Int("marked_eligible", report.MarkedEligible),
			zap.Int("purged", report.Purged),
			zap.Int("anonymized", report.Anonymized),
			zap.Int("failed", report.Failed),
			zap.Bool("skipped", report.Skipped))
		return nil

	case "expire":
		n, err := core.ExpireObligations(ctx)
		if err != nil {
			return fmt.Errorf("expire obligations: %w", err)
		}
		logger.Info("obligation deadlines enforced", zap.Int("expired", n))
		return nil

	case "reseal":
		n, err := core.ResealProtectedRecords(ctx, *batchSize)
		if err != nil {
			return fmt.Errorf("reseal records: %w", err)
		}
		logger.Info("records re-sealed onto the active key", zap.Int("resealed", n))
		return nil
	}
	return fmt.Errorf("unknown maintenance mode %q", mode)
}
