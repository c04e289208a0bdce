package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/signon/internal/store"
	"github.com/aussiebroadwan/signon/internal/store/drivers/memory"
	"github.com/aussiebroadwan/signon/internal/store/drivers/redis"
	"github.com/aussiebroadwan/signon/internal/store/drivers/sqlite"
)

// OpenStore opens the driver for cfg.CacheLocation and applies its
// migrations.
func OpenStore(ctx context.Context, cfg Config, log *slog.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.CacheLocation {
	case CacheMemory:
		st = memory.NewStore(time.Minute)
	case CacheSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.SQLiteFile)
		st, err = sqlite.NewStore(dsn)
	case CacheRedis:
		st, err = redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	default:
		err = fmt.Errorf("unknown cache location %q", cfg.CacheLocation)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.CacheLocation, err)
	}

	if err := st.ApplyMigrations(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to apply store migrations: %w", err)
	}

	log.Info("store ready", slog.String("cache_location", cfg.CacheLocation))
	return st, nil
}
