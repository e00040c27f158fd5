package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/repository"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/database"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const serviceName = "integration-connections"

type Infrastructure interface {
	// Postgres and Mongo return nil unless the store driver selected them
	Postgres() *database.Postgres
	Mongo() *database.Mongo
	Redis() *database.Redis
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider

	Shutdown(ctx context.Context) error
}

type infrastructure struct {
	postgres       *database.Postgres
	mongo          *database.Mongo
	redis          *database.Redis
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
}

var _ Infrastructure = &infrastructure{}

func NewInfrastructure(ctx context.Context, cfg config.Config) (*infrastructure, error) {
	i := &infrastructure{}

	logger, err := observability.InitLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	i.logger = logger

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		postgres, err := database.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		i.postgres = postgres

		if cfg.Postgres.AutoMigrate {
			if err := repository.Migrate(postgres); err != nil {
				i.closeStores(ctx)
				return nil, err
			}
			logger.Info("Database migrations applied")
		}
	case config.StoreDriverMongo:
		mongo, err := database.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		i.mongo = mongo
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory connection store, records are lost on restart")
	}

	redis, err := database.NewRedis(ctx, cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		i.closeStores(ctx)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	i.redis = redis

	meterProvider, metricsHandler, err := observability.InitTelemetry(serviceName)
	if err != nil {
		i.closeStores(ctx)
		_ = i.redis.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.meterProvider = meterProvider
	i.metricsHandler = metricsHandler

	return i, nil
}

func (i *infrastructure) Postgres() *database.Postgres {
	return i.postgres
}

func (i *infrastructure) Mongo() *database.Mongo {
	return i.mongo
}

func (i *infrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

func (i *infrastructure) closeStores(ctx context.Context) error {
	var errs []error
	if i.postgres != nil {
		errs = append(errs, i.postgres.Close())
	}
	if i.mongo != nil {
		errs = append(errs, i.mongo.Close(ctx))
	}
	return errors.Join(errs...)
}

func (i *infrastructure) Shutdown(ctx context.Context) error {
	errs := make(chan error, 3)

	go func() { errs <- i.closeStores(ctx) }()
	go func() { errs <- i.redis.Close() }()
	go func() { errs <- observability.Shutdown(ctx, i.meterProvider, i.logger) }()

	return errors.Join(<-errs, <-errs, <-errs)
}
