package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/smarterp/smarterp/internal/app"
	"github.com/smarterp/smarterp/internal/audit"
	"github.com/smarterp/smarterp/internal/auth"
	"github.com/smarterp/smarterp/internal/auth/token"
	"github.com/smarterp/smarterp/internal/observability"
	"github.com/smarterp/smarterp/internal/permissions"
	"github.com/smarterp/smarterp/internal/platform/cache"
	"github.com/smarterp/smarterp/internal/platform/db"
	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/roles"
	"github.com/smarterp/smarterp/internal/users"
	"github.com/smarterp/smarterp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, HealthCheck: 30 * time.Second})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	tokens := token.NewManager(cfg.JWTSecret, cfg.JWTExpiresIn, token.WithIssuer(cfg.JWTIssuer))
	denylist := token.NewDenylist(redisClient)

	rbacMiddleware := rbac.Middleware{
		Verifier:    tokens,
		Revocations: denylist,
		Resolver:    rbac.NewResolver(rbac.NewRepository(dbpool)),
		Logger:      logger,
		Metrics:     metrics,
	}

	authService := auth.NewService(auth.NewRepository(dbpool), tokens, &auth.BcryptVerifier{}, logger)
	authHandler := auth.NewHandler(logger, authService, denylist)

	rolesService := roles.NewService(roles.NewRepository(dbpool), jobClient, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware)

	usersService := users.NewService(users.NewRepository(dbpool), jobClient, logger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	permissionsService := permissions.NewService(permissions.NewRepository(dbpool), jobClient, logger)
	permissionsHandler := permissions.NewHandler(logger, permissionsService, rbacMiddleware)

	auditHandler := audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware)
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               dbpool,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		RolesHandler:       rolesHandler,
		UsersHandler:       usersHandler,
		PermissionsHandler: permissionsHandler,
		AuditHandler:       auditHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
