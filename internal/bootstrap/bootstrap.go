// Package bootstrap builds the credential service from configuration. Both
// the server and authctl go through it so they agree on store and policy.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"auth/internal/config"
	"auth/internal/service"
	impl "auth/internal/service/impl"
	"auth/internal/store"
	"auth/pkg/db"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// CloseFunc releases whatever OpenStore acquired.
type CloseFunc func() error

func noopClose() error { return nil }

// OpenStore connects the configured backend and prepares its schema when
// cfg.RunMigrations is set.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.CredentialStore, CloseFunc, error) {
	switch cfg.StoreDriver {
	case DriverPostgres, DriverSQLite:
		dsn := cfg.DatabaseURL
		if cfg.StoreDriver == DriverSQLite {
			dsn = cfg.SQLitePath
		}
		gdb, err := db.OpenGorm(db.Config{Driver: cfg.StoreDriver, DSN: dsn, LogSQL: cfg.LogSQL})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open %s", cfg.StoreDriver)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, errors.Wrap(err, "underlying sql.DB")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, errors.Wrapf(err, "ping %s", cfg.StoreDriver)
		}
		st := store.New(gdb)
		if cfg.RunMigrations {
			if err := migrateGorm(ctx, cfg.StoreDriver, st); err != nil {
				_ = sqlDB.Close()
				return nil, nil, err
			}
			logger.Info("schema up to date", "driver", cfg.StoreDriver)
		}
		return st.Credentials(), sqlDB.Close, nil

	case DriverRedis:
		client := redis.NewClient(store.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}.Options())
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "ping redis")
		}
		return store.NewRedisCredentialStore(client, cfg.RedisKeyPrefix), client.Close, nil

	case DriverMemory:
		logger.Warn("using in-memory credential store; records are lost on exit")
		return store.NewMemoryCredentialStore(), noopClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// Migrate brings the schema of a gorm backend up to date regardless of
// cfg.RunMigrations. Redis and memory have no schema.
func Migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	cfg.RunMigrations = true
	_, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return closeStore()
}

func migrateGorm(ctx context.Context, driver string, st *store.Store) error {
	if driver == DriverSQLite {
		return errors.Wrap(st.AutoMigrate(ctx), "automigrate sqlite")
	}
	sqlDB, err := st.DB.DB()
	if err != nil {
		return errors.Wrap(err, "underlying sql.DB")
	}
	return store.RunMigrations(sqlDB)
}

// NewPasswordService applies the configured argon2id policy.
func NewPasswordService(cfg config.Config) (*impl.PasswordServiceImpl, error) {
	return impl.NewPasswordServiceArgon2id(
		impl.Argon2Params{
			Time:    cfg.Argon2Time,
			Memory:  cfg.Argon2MemoryKiB,
			Threads: cfg.Argon2Threads,
			KeyLen:  cfg.Argon2KeyLen,
			SaltLen: cfg.Argon2SaltLen,
		},
		impl.WithMaxPasswordLength(cfg.MaxPasswordLength),
		impl.WithMaxConcurrentDerivations(cfg.MaxConcurrentHashes),
	)
}

// NewAuthService wires store and password policy into the credential service.
func NewAuthService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*impl.AuthServiceImpl, CloseFunc, error) {
	ps, err := NewPasswordService(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	as := impl.NewAuthServiceImpl(st, ps, logger)
	if cfg.MaxUsernameLength > 0 {
		as.MaxUsernameLength = cfg.MaxUsernameLength
	}
	return as, closeStore, nil
}
