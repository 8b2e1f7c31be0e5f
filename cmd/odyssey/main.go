package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-invoicing/internal/access"
	"github.com/odyssey-erp/odyssey-invoicing/internal/app"
	"github.com/odyssey-erp/odyssey-invoicing/internal/auth"
	"github.com/odyssey-erp/odyssey-invoicing/internal/localization"
	"github.com/odyssey-erp/odyssey-invoicing/internal/masterdata"
	"github.com/odyssey-erp/odyssey-invoicing/internal/numbering"
	"github.com/odyssey-erp/odyssey-invoicing/internal/observability"
	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/roles"
	"github.com/odyssey-erp/odyssey-invoicing/internal/sales/invoices"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
	"github.com/odyssey-erp/odyssey-invoicing/internal/stock"
	"github.com/odyssey-erp/odyssey-invoicing/internal/users"
	"github.com/odyssey-erp/odyssey-invoicing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	slog.SetDefault(logger)

	shutdownTracing, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:       cfg.TracingEnabled,
		Environment:   cfg.AppEnv,
		Endpoint:      cfg.TracingEndpoint,
		SamplingRatio: cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		logger.Error("init tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("odyssey-invoicing"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, "odyssey-invoicing")
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	loc, err := cfg.NumberingLocation()
	if err != nil {
		logger.Error("numbering timezone", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "odyssey_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	rolesService := roles.NewService(rbacService, auditLogger, logger)
	if synced, err := rolesService.SyncCatalogue(ctx); err != nil {
		logger.Warn("sync permission catalogue", slog.Any("error", err))
	} else {
		logger.Info("permission catalogue synced", slog.Int("permissions", synced))
	}
	usersService := users.NewService(users.NewRepository(dbpool), rbacService, auditLogger, logger)

	accessService := access.NewService(access.NewRepository(dbpool), auditLogger, logger)

	allocator := numbering.NewAllocator(numbering.WithLocation(loc))
	numberingService := numbering.NewService(numbering.NewRepository(dbpool), allocator, logger)

	adjuster := stock.NewAdjuster(nil)
	stockService := stock.NewService(stock.NewRepository(dbpool), adjuster, auditLogger, metrics, logger)

	salesService := invoices.NewService(invoices.NewRepository(dbpool), auditLogger, idempotencyStore, invoices.ServiceConfig{
		OwnerOnly:           cfg.SalesOwnerOnly,
		DefaultCategoryCode: cfg.SalesDefaultCategoryCode,
		FallbackCategoryID:  cfg.SalesFallbackCategoryID,
		Allocator:           allocator,
		Adjuster:            adjuster,
		Access:              accessService,
		Recorder:            metrics,
	}, logger)

	masterDataService := masterdata.NewService(masterdata.NewRepository(dbpool))

	localizationService := localization.NewService(
		localization.NewRepository(dbpool),
		localization.NewCache(redisClient, cfg.LocalizationCacheTTL),
		cfg.LocalizationDefaultLanguage,
		logger,
	)
	go func() {
		if err := localizationService.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("localization invalidation listener", slog.Any("error", err))
		}
	}()

	authService := auth.NewService(auth.NewRepository(dbpool))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		AuthHandler:         auth.NewHandler(logger, authService, sessionManager, csrfManager, accessService),
		SalesHandler:        invoices.NewHandler(logger, salesService, rbacMiddleware),
		NumberingHandler:    numbering.NewHandler(logger, numberingService, rbacMiddleware),
		StockHandler:        stock.NewHandler(logger, stockService, rbacMiddleware),
		MasterDataHandler:   masterdata.NewHandler(logger, masterDataService, rbacMiddleware),
		LocalizationHandler: localization.NewHandler(logger, localizationService, rbacMiddleware),
		AccessHandler:       access.NewHandler(logger, accessService, rbacMiddleware),
		PermissionsHandler:  rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		UsersHandler:        users.NewHandler(logger, usersService, rbacMiddleware),
		RolesHandler:        roles.NewHandler(logger, rolesService, rbacMiddleware),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
		Readiness: []app.ReadinessCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return db.Ping(ctx, dbpool) }},
			{Name: "redis", Check: func(ctx context.Context) error { return cache.Ping(ctx, redisClient) }},
		},
	})

	server := app.NewServer(cfg, router)
	ln, err := net.Listen("tcp", cfg.AppAddr)
	if err != nil {
		logger.Error("listen", slog.String("addr", cfg.AppAddr), slog.Any("error", err))
		os.Exit(1)
	}
	if err := app.Serve(ctx, server, ln, cfg.AppShutdownGrace, logger); err != nil {
		logger.Error("http server", slog.Any("error", err))
	}
}
