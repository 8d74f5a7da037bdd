// Package database provides PostgreSQL persistence for the governance
// domain. Every repository here mirrors the semantics of its in-memory
// counterpart in internal/infrastructure/repository: the same conflict
// rules, the same orderings, the same error codes.
package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
)

// Pool wraps a pgx connection pool with the helpers the repositories
// share.
type Pool struct {
	pgx    *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

// Connect opens a connection pool against the configured database and
// verifies it with a ping before returning.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		return nil, errors.NewInternalError("logger is required")
	}
	if cfg.URL == "" {
		return nil, errors.NewValidationError("MISSING_DATABASE_URL", "database URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.NewStorageError("parse database config", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "governance-api"
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.NewStorageError("create connection pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.NewStorageError("ping database", err)
	}

	logger.Info("connected to database",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Duration("max_conn_lifetime", poolCfg.MaxConnLifetime))

	return &Pool{
		pgx:    pool,
		tracer: telemetry.Tracer("governance.database"),
		logger: logger,
	}, nil
}

// Close releases the underlying pool.
func (p *Pool) Close() {
	p.pgx.Close()
}

// Ping verifies the pool can still reach the database.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.pgx.Ping(ctx); err != nil {
		return errors.NewStorageError("ping database", err)
	}
	return nil
}

// Transaction runs fn inside a transaction, committing on nil and
// rolling back on error or panic.
func (p *Pool) Transaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, p.tracer, "transaction")
	defer span.End()

	err := pgx.BeginTxFunc(ctx, p.pgx, pgx.TxOptions{}, fn)
	telemetry.WithSpanError(span, err)
	return err
}

// OpenSQL exposes the pool through database/sql for tooling that
// expects the standard interface, such as migration runners.
func (p *Pool) OpenSQL() *sql.DB {
	return stdlib.OpenDBFromPool(p.pgx)
}

// querier is the subset of pgx shared by pools and transactions, so a
// repository method can run standalone or inside Transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation. pgx returns these unwrapped, so a type
// assertion suffices.
func isUniqueViolation(err error) bool {
	pgErr, ok := err.(*pgconn.PgError)
	return ok && pgErr.Code == pgerrUniqueViolation
}

const pgerrUniqueViolation = "23505"
