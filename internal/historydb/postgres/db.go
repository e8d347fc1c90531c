// Package postgres implements historydb.DB over PostgreSQL using pgx v5,
// following the connection-pool-plus-repository shape the teacher uses for
// its own Postgres-backed repositories.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps a pgx connection pool and implements historydb.DB.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config configures the pool.
type Config struct {
	// DSN is a standard libpq connection string.
	DSN string
	// MaxConns bounds the pool size; zero uses the pgxpool default.
	MaxConns int32
}

// Open creates the connection pool and runs the schema migration.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("historydb: parsing DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("historydb: creating pool: %w", err)
	}

	db := &DB{Pool: pool, logger: logger.With().Str("component", "historydb-postgres").Logger()}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db.logger.Info().Msg("historydb postgres pool ready")
	return db, nil
}

// Close releases the pool.
func (db *DB) Close() { db.Pool.Close() }

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("historydb: applying schema: %w", err)
	}
	return nil
}
