// Package backend opens the store set and network the binaries share.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/config"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"github.com/Harshitk-cp/bnoracle/internal/store/memstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	Postgres = "postgres"
	Memory   = "memory"
)

// Backend is an open store set plus whatever must be released with it.
type Backend struct {
	Kind string
	Set  *store.Set
	Pool *pgxpool.Pool
}

func (b *Backend) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// Open connects the configured backend. With migrate set, the Postgres
// schema is brought up to date before the set is returned.
func Open(ctx context.Context, migrate bool, logger *zap.Logger) (*Backend, error) {
	switch kind := config.StoreBackend(); kind {
	case Memory:
		logger.Warn("using in-memory store; state is lost on exit")
		return &Backend{Kind: Memory, Set: memstore.New().Set()}, nil
	case Postgres:
		pool, err := Connect(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to database")
		if migrate {
			applied, err := store.Migrate(ctx, pool, config.MigrationsPath())
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("applied migrations", zap.Strings("versions", applied))
			}
		}
		return &Backend{Kind: Postgres, Set: store.NewPostgresSet(pool), Pool: pool}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", kind)
	}
}

// Connect opens and pings a pool on DATABASE_URL.
func Connect(ctx context.Context) (*pgxpool.Pool, error) {
	dbURL := config.DatabaseURL()
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Network loads NETWORK_PATH, or the built-in presence network when unset.
// The returned tables are the seed CPTs the file carries, possibly empty.
func Network() (*bayes.Network, map[string][][]float64, error) {
	path := config.NetworkPath()
	if path == "" {
		return bayes.Reference(), nil, nil
	}
	net, spec, err := bayes.Load(path, config.CPTTolerance())
	if err != nil {
		return nil, nil, err
	}
	return net, spec.CPTs, nil
}

// Logger builds a production zap logger at LOG_LEVEL.
func Logger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(config.LogLevel())
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.Level = level
	return cfg.Build()
}
