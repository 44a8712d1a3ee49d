package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/regpayhq/regpay-backend/internal/buyers"
	"github.com/regpayhq/regpay-backend/internal/cron"
	"github.com/regpayhq/regpay-backend/internal/leads"
	"github.com/regpayhq/regpay-backend/internal/notify"
	"github.com/regpayhq/regpay-backend/internal/payments"
	"github.com/regpayhq/regpay-backend/internal/reconcile"
	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/db"
	"github.com/regpayhq/regpay-backend/pkg/leaddb"
	"github.com/regpayhq/regpay-backend/pkg/logger"
	"github.com/regpayhq/regpay-backend/pkg/metrics"
	"github.com/regpayhq/regpay-backend/pkg/migrate"
	"github.com/regpayhq/regpay-backend/pkg/redis"
	pkgstripe "github.com/regpayhq/regpay-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	leadClient, err := leaddb.New(context.Background(), cfg.LeadDB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap lead database", err)
		os.Exit(1)
	}
	defer func() {
		if err := leadClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing lead database", err)
		}
	}()

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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	mailer, err := notify.NewSendgridMailer(cfg.Sendgrid)
	if err != nil {
		logg.Error(context.Background(), "failed to create mailer", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	dispatcher, err := notify.NewDispatcher(notify.DispatcherParams{
		Mailer:  mailer,
		Logger:  logg,
		Metrics: webhookMetrics,
		Config:  cfg.Webhook,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		PaymentRepo: payments.NewRepository(dbClient.DB()),
		BuyerRepo:   buyers.NewRepository(dbClient.DB()),
		LeadRepo:    leads.NewRepository(leadClient.DB()),
		Gateway:     stripeClient,
		Notifier:    dispatcher,
		Logger:      logg,
		Metrics:     webhookMetrics,
		Retry:       cfg.Retry,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewReconcileSweepJob(reconcileService, logg, cfg.Cron)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.LockKeyReconcileSweep), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
	})
	logg.Info(ctx, "starting cron worker")

	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "notification dispatcher stopped unexpectedly", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
