// Schema migration runner for the governance database. A thin wrapper
// around golang-migrate so deploys and local setups run the exact same
// migration engine, with the same dirty-state handling.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to configuration file")
		dir        = flag.String("dir", "migrations", "directory holding migration files")
		steps      = flag.Int("steps", 0, "limit up and down to this many steps (0 = no limit)")
	)
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(command, *dir, *steps, flag.Arg(1), cfg, logger); err != nil {
		logger.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
}

func run(command, dir string, steps int, arg string, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	db.SetConnMaxLifetime(time.Minute)

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("loading migrations from %s: %w", dir, err)
	}

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		// Down only ever walks one step unless told otherwise, so a
		// habitual "migrate down" cannot empty a database.
		n := 1
		if steps > 0 {
			n = steps
		}
		err = m.Steps(-n)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil {
			if errors.Is(verr, migrate.ErrNilVersion) {
				logger.Info("no migrations applied yet")
				return nil
			}
			return verr
		}
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	case "force":
		version, perr := strconv.Atoi(arg)
		if perr != nil {
			return fmt.Errorf("force needs a numeric version, got %q", arg)
		}
		err = m.Force(version)
	default:
		return fmt.Errorf("unknown command %q (want up, down, version, or force)", command)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("schema already up to date")
		return nil
	}
	if err != nil {
		return err
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return verr
	}
	logger.Info("migration complete",
		zap.String("command", command),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}
