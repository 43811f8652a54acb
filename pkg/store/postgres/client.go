// Package postgres backs the Ledger Store with a single JSONB documents
// table. A conditional update is one UPDATE statement whose WHERE clause
// embeds the precondition, so per-document atomicity comes straight from
// row-level atomicity.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/ledgerx/pkg/retry"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool and implements store.Store.
type Store struct {
	Logger *zap.Logger
	Pool   *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	key        TEXT,
	doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection);
CREATE UNIQUE INDEX IF NOT EXISTS documents_upsert_key_idx ON documents (collection, key) WHERE key IS NOT NULL;
`

// New initializes the PostgreSQL-backed store, creating the documents table
// if needed. Connection settings come from POSTGRES_URL.
func New(ctx context.Context, logger *zap.Logger) (*Store, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbURL := utils.Env("POSTGRES_URL", "postgres://localhost:5432/postgres")

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse POSTGRES_URL: %w", err)
	}

	config.MinConns = int32(utils.EnvInt("POSTGRES_MIN_CONNS", 2))
	config.MaxConns = int32(utils.EnvInt("POSTGRES_MAX_CONNS", 20))
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	s := &Store{Logger: logger}
	retryConfig := retry.DefaultConfig()

	retryErr := retry.WithBackoff(connCtx, retryConfig, logger, "postgres_connection", func() error {
		pool, openErr := pgxpool.NewWithConfig(connCtx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}

		if pingErr := pool.Ping(connCtx); pingErr != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}

		s.Pool = pool
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	if _, err := s.Pool.Exec(connCtx, schema); err != nil {
		s.Pool.Close()
		return nil, fmt.Errorf("failed to ensure documents schema: %w", err)
	}

	logger.Info("PostgreSQL document store ready",
		zap.Int32("min_conns", config.MinConns),
		zap.Int32("max_conns", config.MaxConns))

	return s, nil
}

func (s *Store) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}
