package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/escrowhub-backend/api/routes"
	"github.com/angelmondragon/escrowhub-backend/internal/contracts"
	"github.com/angelmondragon/escrowhub-backend/internal/disputes"
	"github.com/angelmondragon/escrowhub-backend/internal/escrow"
	"github.com/angelmondragon/escrowhub-backend/internal/ledger"
	"github.com/angelmondragon/escrowhub-backend/internal/milestones"
	"github.com/angelmondragon/escrowhub-backend/internal/payees"
	stripewebhook "github.com/angelmondragon/escrowhub-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/escrowhub-backend/pkg/config"
	"github.com/angelmondragon/escrowhub-backend/pkg/db"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/metrics"
	"github.com/angelmondragon/escrowhub-backend/pkg/migrate"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox"
	"github.com/angelmondragon/escrowhub-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/escrowhub-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

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
		Format:      cfg.App.LogFormat,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	escrowMetrics := metrics.NewEscrowMetrics(reg)

	params, err := buildServices(cfg, logg, dbClient, redisClient, stripeClient, escrowMetrics)
	if err != nil {
		return err
	}
	params.Gatherer = reg
	params.HTTPMetrics = metrics.NewHTTPMetrics(reg)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-sigCtx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildServices wires the escrow domain. Every service shares the same gorm
// handle; cross-service writes go through dbClient.WithTx.
func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, stripeClient *pkgstripe.Client, m *metrics.EscrowMetrics) (routes.Params, error) {
	gdb := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(), logg)

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Payments:     ledger.NewRepository(gdb),
		Transactions: ledger.NewTransactionRepository(gdb),
		Logger:       logg,
	})
	if err != nil {
		return routes.Params{}, err
	}

	milestoneSvc, err := milestones.NewService(milestones.NewRepository(gdb), logg, m)
	if err != nil {
		return routes.Params{}, err
	}

	contractSvc, err := contracts.NewService(contracts.ServiceParams{
		Repo:             contracts.NewRepository(gdb),
		Tx:               dbClient,
		Outbox:           outboxSvc,
		Logger:           logg,
		Metrics:          m,
		ExternalIDPrefix: cfg.Escrow.ExternalIDPrefix,
	})
	if err != nil {
		return routes.Params{}, err
	}

	disputeSvc, err := disputes.NewService(disputes.ServiceParams{
		Repo:       disputes.NewRepository(gdb),
		Tx:         dbClient,
		Outbox:     outboxSvc,
		Contracts:  contractSvc,
		Milestones: milestoneSvc,
		Logger:     logg,
		Metrics:    m,
	})
	if err != nil {
		return routes.Params{}, err
	}

	payeeSvc, err := payees.NewService(payees.NewRepository(gdb), logg)
	if err != nil {
		return routes.Params{}, err
	}

	fees, err := escrow.NewFeeSchedule(cfg.Fees)
	if err != nil {
		return routes.Params{}, err
	}
	processor, err := escrow.NewStripeProcessor(stripeClient)
	if err != nil {
		return routes.Params{}, err
	}

	escrowSvc, err := escrow.NewService(escrow.ServiceParams{
		Tx:         dbClient,
		Locker:     escrow.NewRedisLocker(redisClient, cfg.Escrow.ContractLockTTL, logg),
		Processor:  processor,
		Ledger:     ledgerSvc,
		Contracts:  contractSvc,
		Milestones: milestoneSvc,
		Disputes:   disputeSvc,
		Payees:     payeeSvc,
		Outbox:     outboxSvc,
		Fees:       fees,
		Logger:     logg,
		Metrics:    m,
	})
	if err != nil {
		return routes.Params{}, err
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Escrow:  escrowSvc,
		Logger:  logg,
		Metrics: m,
	})
	if err != nil {
		return routes.Params{}, err
	}
	guard, err := stripewebhook.NewDeliveryGuard(redisClient, cfg.Escrow.WebhookIdempotencyTTL, stripewebhook.DefaultScope)
	if err != nil {
		return routes.Params{}, err
	}

	return routes.Params{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		Idempotency:    redisClient,
		Contracts:      contractSvc,
		Escrow:         escrowSvc,
		Disputes:       disputeSvc,
		Payees:         payeeSvc,
		StripeClient:   stripeClient,
		StripeWebhooks: webhookSvc,
		WebhookGuard:   guard,
	}, nil
}
