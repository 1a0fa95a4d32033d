package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	MaxConns        = 10
	MinConns        = 2
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

//go:embed migrations/*.sql
var migrations embed.FS

func NewPostgresPool(ctx context.Context, databaseURL string, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing postgres config: %w", err)
	}

	// Configure the pool
	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging postgres pool: %w", err)
	}

	logger.Info("postgres pool created",
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
		zap.Int32("max_conns", config.MaxConns),
	)
	return pool, nil
}

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent, so running it on each start is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("error listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("error reading migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("error applying migration %s: %w", name, err)
		}
		logger.Debug("migration applied", zap.String("file", name))
	}
	return nil
}
