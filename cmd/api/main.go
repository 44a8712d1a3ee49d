package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/regpayhq/regpay-backend/api/routes"
	"github.com/regpayhq/regpay-backend/internal/buyers"
	checkoutsvc "github.com/regpayhq/regpay-backend/internal/checkout"
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
	"github.com/regpayhq/regpay-backend/pkg/rates"
	"github.com/regpayhq/regpay-backend/pkg/redis"
	pkgstripe "github.com/regpayhq/regpay-backend/pkg/stripe"
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

	rateCache, err := rates.New(cfg.Rates, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create rate cache", err)
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

	paymentRepo := payments.NewRepository(dbClient.DB())
	buyerRepo := buyers.NewRepository(dbClient.DB())
	leadRepo := leads.NewRepository(leadClient.DB())

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		PaymentRepo: paymentRepo,
		BuyerRepo:   buyerRepo,
		LeadRepo:    leadRepo,
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

	webhookGuard, err := reconcile.NewIdempotencyGuard(redisClient, cfg.Stripe.EventGuardTTL, "stripe-events")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		PaymentRepo: paymentRepo,
		LeadRepo:    leadRepo,
		Gateway:     stripeClient,
		Rates:       rateCache,
		Logger:      logg,
		Stripe:      cfg.Stripe,
		Checkout:    cfg.Checkout,
		Rate:        cfg.Rates,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "notification dispatcher stopped unexpectedly", err)
		}
	}()

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			leadClient,
			redisClient,
			checkoutService,
			reconcileService,
			stripeClient,
			webhookGuard,
		),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "error shutting down api server", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
