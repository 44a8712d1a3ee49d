package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/regpayhq/regpay-backend/api/responses"
	"github.com/regpayhq/regpay-backend/pkg/config"
	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RegPay-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady verifies both datastores and Redis respond before reporting
// ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, leadDBP, redisP pinger) http.HandlerFunc {
	deps := []struct {
		name string
		dep  pinger
	}{
		{"database", dbP},
		{"lead database", leadDBP},
		{"redis", redisP},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RegPay-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for _, d := range deps {
			if d.dep == nil {
				continue
			}
			if err := d.dep.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, d.name+" not ready"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
