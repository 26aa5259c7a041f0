package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/hexflow/internal/config"
	"github.com/petrijr/hexflow/internal/persistence"
)

const connectTimeout = 10 * time.Second

// openStore connects the configured session store. The returned close func
// releases the underlying connection.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (persistence.SessionStore, func() error, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory session store; sessions are lost on restart")
		return persistence.NewInMemoryStore(), noop, nil

	case config.DriverSQLite:
		path := cfg.SQLitePath()
		db, err := persistence.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		store, err := persistence.NewSQLiteSessionStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info().Str("driver", "sqlite").Str("path", path).Msg("session store ready")
		return store, db.Close, nil

	case config.DriverPostgres:
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store, err := persistence.NewPostgresSessionStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info().Str("driver", "postgres").Msg("session store ready")
		return store, db.Close, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Store.RedisAddr, err)
		}
		logger.Info().Str("driver", "redis").Str("addr", cfg.Store.RedisAddr).Msg("session store ready")
		return persistence.NewRedisSessionStore(client, cfg.Store.RedisPrefix), client.Close, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() error { return client.Disconnect(context.Background()) }
		if err := client.Ping(ctx, nil); err != nil {
			_ = disconnect()
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		store, err := persistence.NewMongoSessionStore(ctx, client, cfg.Store.MongoDatabase, "")
		if err != nil {
			_ = disconnect()
			return nil, nil, err
		}
		logger.Info().Str("driver", "mongo").Str("database", cfg.Store.MongoDatabase).Msg("session store ready")
		return store, disconnect, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
