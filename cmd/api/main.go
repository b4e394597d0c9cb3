package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kalamart/marketplace-backend/api/routes"
	"github.com/kalamart/marketplace-backend/internal/catalog"
	checkoutsvc "github.com/kalamart/marketplace-backend/internal/checkout"
	"github.com/kalamart/marketplace-backend/internal/gateway"
	"github.com/kalamart/marketplace-backend/internal/inventory"
	"github.com/kalamart/marketplace-backend/internal/orders"
	"github.com/kalamart/marketplace-backend/internal/payouts"
	"github.com/kalamart/marketplace-backend/internal/pricing"
	"github.com/kalamart/marketplace-backend/internal/settlement"
	"github.com/kalamart/marketplace-backend/pkg/config"
	"github.com/kalamart/marketplace-backend/pkg/db"
	"github.com/kalamart/marketplace-backend/pkg/logger"
	"github.com/kalamart/marketplace-backend/pkg/metrics"
	"github.com/kalamart/marketplace-backend/pkg/migrate"
	"github.com/kalamart/marketplace-backend/pkg/outbox"
	"github.com/kalamart/marketplace-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	gw, err := gateway.NewRazorpayGateway(cfg.Gateway, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	pricer, err := pricing.NewEngine(cfg.Pricing)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing engine", err)
		os.Exit(1)
	}

	stock, err := inventory.NewService(logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	payoutsRepo := payouts.NewRepository(dbClient.DB())
	catalogRepo := catalog.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	checkoutService, err := checkoutsvc.NewService(
		dbClient, catalogRepo, pricer, stock,
		ordersRepo, payoutsRepo, gw, outboxSvc,
		cfg.Fees, cfg.Gateway, logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(
		dbClient, ordersRepo, payoutsRepo, stock,
		gw, outboxSvc, settlementMetrics, cfg.Gateway, logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	webhookGuard, err := settlement.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "gateway-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:          cfg,
			Logger:          logg,
			DB:              dbClient,
			Redis:           redisClient,
			Checkout:        checkoutService,
			Settlement:      settlementService,
			WebhookGuard:    webhookGuard,
			Gateway:         gw,
			MetricsGatherer: registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
