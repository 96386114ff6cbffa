package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"medipos/m/internal/backup"
	"medipos/m/internal/blob"
	"medipos/m/internal/config"
	"medipos/m/internal/database"
	"medipos/m/internal/idempotency"
	"medipos/m/internal/ledger"
	"medipos/m/internal/logging"
	"medipos/m/internal/metrics"
	"medipos/m/internal/migrations"
	"medipos/m/internal/store"
	"medipos/m/internal/store/memory"
	"medipos/m/internal/store/mongostore"
	"medipos/m/internal/store/sqlstore"
)

// app holds the services every command builds from configuration.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   store.Store
	metrics *metrics.Metrics
	ledger  *ledger.Ledger
	backups *backup.Engine
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "medipos").Logger()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.Open(ctx, blob.Config{
		Driver:      cfg.BackupDriver,
		Dir:         cfg.BackupDir,
		S3Bucket:    cfg.BackupS3Bucket,
		S3Region:    cfg.BackupS3Region,
		S3Endpoint:  cfg.BackupS3Endpoint,
		S3PathStyle: cfg.BackupS3PathStyle,
	}, log)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("open backup storage: %w", err)
	}

	m := metrics.New("medipos")
	return &app{
		cfg:     cfg,
		log:     log,
		store:   s,
		metrics: m,
		ledger:  ledger.New(s, log, ledger.WithMetrics(m)),
		backups: backup.New(s, blobs, log, backup.WithMetrics(m), backup.WithVersion(cfg.AppVersion)),
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("closing store")
	}
}

// openStore connects the configured record store and brings its schema up
// to date.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.StoreDriver == "memory":
		return memory.New(), nil
	case cfg.StoreDriver == "mongo":
		mcfg := mongostore.DefaultConfig()
		mcfg.URI = cfg.MongoURI
		mcfg.Database = cfg.MongoDatabase
		mcfg.Transactions = cfg.MongoTransaction
		ms, err := mongostore.Connect(ctx, mcfg)
		if err != nil {
			return nil, err
		}
		if err := ms.EnsureIndexes(ctx); err != nil {
			_ = ms.Close(ctx)
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return ms, nil
	case database.IsSQL(cfg.StoreDriver):
		db, err := database.Connect(cfg.StoreDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := migrations.Run(db, cfg.StoreDriver); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return sqlstore.New(db, cfg.StoreDriver), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// idempotencyGuard uses Redis when REDIS_ADDR is set and reachable, and an
// in-process guard otherwise.
func (a *app) idempotencyGuard(ctx context.Context) (idempotency.Guard, func()) {
	if a.cfg.RedisAddr == "" {
		return idempotency.NewMemory(idempotency.DefaultTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		a.log.Warn().Err(err).Str("addr", a.cfg.RedisAddr).Msg("redis unavailable, idempotency keys kept in memory")
		_ = client.Close()
		return idempotency.NewMemory(idempotency.DefaultTTL), func() {}
	}
	a.log.Info().Str("addr", a.cfg.RedisAddr).Msg("idempotency keys stored in redis")
	return idempotency.NewRedis(client, idempotency.DefaultTTL), func() { _ = client.Close() }
}
