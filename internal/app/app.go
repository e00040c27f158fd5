package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/handler"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/provider"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/repository"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/service"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/utils"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	infra  Infrastructure
	config *config.Config
	router *gin.Engine
	server *http.Server
}

func NewApp(ctx context.Context, infra Infrastructure, cfg *config.Config) (*App, error) {
	logger := infra.Logger()

	registry, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	sealer, err := utils.NewTokenSealer(cfg.Tokens.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token sealer: %w", err)
	}

	repos, err := repository.NewRepositories(ctx, *cfg, repository.Backends{
		Postgres: infra.Postgres(),
		Mongo:    infra.Mongo(),
	}, sealer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	metrics, err := service.NewMetrics(infra.MeterProvider().Meter(serviceName))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	var locker service.Locker = service.NewLocalLocker()
	if cfg.Tokens.LockDriver == config.LockDriverRedis {
		locker = service.NewRedisLocker(infra.Redis(), cfg.Tokens.LockTTL.Duration)
	}

	states := service.NewAuthorizationStates(
		service.NewRedisStateStore(infra.Redis()),
		utils.NewStateSigner(cfg.State.Secret, time.Now),
		cfg.State.TTL.Duration,
		time.Now,
	)

	connectionService := service.NewConnectionService(service.Dependencies{
		Registry:    registry,
		Client:      provider.NewClient(cfg.Providers.HTTPTimeout.Duration, logger),
		Connections: repos.Connection,
		States:      states,
		Locker:      locker,
		Metrics:     metrics,
		Logger:      logger,
		RefreshSkew: cfg.Tokens.RefreshSkew.Duration,

		RefreshTimeout: cfg.Tokens.RefreshTimeout(),
	})

	connectionHandler := handler.NewConnectionHandler(connectionService, handler.ConnectionHandlerOptions{
		AppURL:       cfg.AppURL,
		ConnectDebug: cfg.Security.ConnectDebug,
	}, logger)

	rateLimiter := service.NewRateLimiter(infra.Redis())
	healthChecker := NewHealthChecker(map[string]HealthCheck{
		"store": repos.Connection.Ping,
		"redis": infra.Redis().Ping,
	})

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	setupRoutes(router, cfg, connectionHandler, rateLimiter, healthChecker, infra.MetricsHandler(), logger)

	logger.Info("Providers registered", zap.Strings("providers", registry.Names()))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:  infra,
		config: cfg,
		router: router,
		server: srv,
	}, nil
}

// newRegistry builds the provider table from the built-ins and the optional providers file
func newRegistry(cfg *config.Config) (*provider.Registry, error) {
	defs := provider.Builtin()
	creds := cfg.Providers.Credentials()

	if cfg.Providers.File != "" {
		var err error
		defs, creds, err = provider.LoadFile(cfg.Providers.File, defs, creds)
		if err != nil {
			return nil, fmt.Errorf("failed to load providers file: %w", err)
		}
	}

	return provider.NewRegistry(defs, creds, cfg.Providers.CallbackURL), nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	connections *handler.ConnectionHandler,
	rateLimiter *service.RateLimiter,
	healthChecker *HealthChecker,
	metricsHandler http.Handler,
	logger *zap.Logger,
) {
	router.GET("/metrics", observability.PrometheusHandler(metricsHandler))
	router.GET("/health", healthChecker.Handler)

	auth := router.Group("/auth/:provider")
	{
		auth.GET("/connect",
			handler.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration, handler.IPBasedKey, logger),
			connections.Connect,
		)
		auth.GET("/callback", connections.Callback)
		auth.GET("/status", connections.Status)
		auth.POST("/refresh",
			handler.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration, handler.IPBasedKey, logger),
			connections.Refresh,
		)
	}

	internal := router.Group("/internal", handler.InternalAuthMiddleware(cfg.Security.InternalAPIKeys))
	{
		internal.GET("/connections/:provider/token", connections.AccessToken)
		internal.DELETE("/connections/:provider", connections.Disconnect)
	}
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
			zap.String("store", a.config.Store.Driver),
		)

		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Drain requests before the stores they use are closed
	if err := a.server.Shutdown(ctx); err != nil {
		a.infra.Logger().Error("HTTP server shutdown failed", zap.Error(err))
		return errors.Join(err, a.infra.Shutdown(ctx))
	}

	if err := a.infra.Shutdown(ctx); err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
