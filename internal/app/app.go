// Package app wires configuration, storage and the Bling clients shared by the
// commands.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"blingsync/internal/config"
	"blingsync/internal/connectors/bling"
	"blingsync/internal/database"
	"blingsync/internal/events"
	"blingsync/internal/logger"
	blingapi "blingsync/internal/services/bling"
	"blingsync/internal/token"
)

type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *database.Database
	Tokens    token.Store
	Refresher *token.Refresher
	Client    *blingapi.Client
	// Events is Nop unless KAFKA_BROKERS is set.
	Events events.Publisher

	redis *redis.Client
}

// New loads the configuration and connects everything. name selects the log
// file prefix.
func New(ctx context.Context, name string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.NewWithOptions(logger.Options{
		Level:   cfg.LogLevel,
		Dir:     cfg.LogDir,
		Name:    name,
		Console: cfg.LogToConsole,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.Redact(cfg.Secrets()...)

	db, err := database.New(cfg.DatabaseURL, database.Options{AutoMigrate: cfg.DBAutoMigrate, Logger: log})
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{Config: cfg, Logger: log, DB: db, Events: events.Nop{}}

	switch cfg.TokenStore {
	case config.TokenStoreEnvFile:
		a.Tokens = token.NewEnvFileStore(cfg.EnvPath)
	default:
		a.Tokens = token.NewDBStore(db.DB, cfg.TokenKeyPrefix)
	}

	locker, err := a.locker()
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	a.Refresher = token.NewRefresher(token.Config{
		ClientID:     cfg.BlingClientID,
		ClientSecret: cfg.BlingClientSecret,
		TokenURL:     cfg.BlingTokenURL,
		AuthURL:      cfg.BlingAuthURL,
		HTTPClient:   httpClient,
		MaxRetry:     cfg.MaxRetry,
		FailDelay:    cfg.DelayFail,
	}, a.Tokens, locker, log)

	a.Client = blingapi.NewClient(cfg.BlingAPIBaseURL, a.Refresher, blingapi.RetryPolicy{
		MaxRetry:   cfg.MaxRetry,
		FailDelay:  cfg.DelayFail,
		BackoffCap: cfg.BackoffCap,
	}, cfg.HTTPTimeout, log)

	if cfg.KafkaEnabled() {
		a.Events = events.NewKafkaPublisher(cfg.KafkaBrokerList(), cfg.KafkaEventsTopic, log)
	}
	return a, nil
}

// locker picks Redis when configured, then the database's advisory locks, and
// falls back to an in-process lock for sqlite.
func (a *App) locker() (token.Locker, error) {
	if a.Config.RedisURL != "" {
		opts, err := redis.ParseURL(a.Config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.Logger.Debug("Token refresh lock: redis")
		return token.NewRedisLocker(a.redis, a.Config.RefreshLockTTL), nil
	}

	if l, err := token.NewSQLLocker(a.DB.DB, a.DB.Dialect, a.Config.RefreshLockTTL); err == nil {
		a.Logger.Debug("Token refresh lock: %s advisory lock", a.DB.Dialect)
		return l, nil
	}

	a.Logger.Warn("No shared lock for token refresh on %s; other processes may race", a.DB.Dialect)
	return token.NewLocalLocker(), nil
}

// Connector builds the sync pipeline.
func (a *App) Connector() *bling.Connector {
	return bling.New(a.Config, a.Client, a.DB.DB, a.Events, a.Logger)
}

// Close flushes a token pair that could not be stored yet and releases
// connections.
func (a *App) Close() error {
	var first error
	if a.Refresher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.HTTPTimeout)
		if err := a.Refresher.Close(ctx); err != nil {
			a.Logger.Critical("Token pair still not stored at shutdown: %v", err)
			first = err
		}
		cancel()
	}
	if err := a.Events.Close(); err != nil {
		a.Logger.Warn("Closing event publisher: %v", err)
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.DB.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
