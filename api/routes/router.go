package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/regpayhq/regpay-backend/api/controllers"
	webhookcontrollers "github.com/regpayhq/regpay-backend/api/controllers/webhooks"
	"github.com/regpayhq/regpay-backend/api/middleware"
	checkoutsvc "github.com/regpayhq/regpay-backend/internal/checkout"
	"github.com/regpayhq/regpay-backend/internal/reconcile"
	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/db"
	"github.com/regpayhq/regpay-backend/pkg/leaddb"
	"github.com/regpayhq/regpay-backend/pkg/logger"
	"github.com/regpayhq/regpay-backend/pkg/redis"
	"github.com/regpayhq/regpay-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	leadDBP leaddb.Pinger,
	redisP redis.Pinger,
	checkoutService *checkoutsvc.Service,
	reconcileService *reconcile.Service,
	stripeClient *stripe.Client,
	webhookGuard *reconcile.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, leadDBP, redisP))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(reconcileService, stripeClient, webhookGuard, logg))
	})

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Post("/webinar", controllers.WebinarCheckout(checkoutService, logg))
		r.Post("/course", controllers.CourseCheckout(checkoutService, logg))
	})

	return r
}
