package reconcile

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/regpayhq/regpay-backend/internal/payments"
	"github.com/regpayhq/regpay-backend/pkg/db/models"
	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
	"github.com/regpayhq/regpay-backend/pkg/retry"
)

// SweepResult summarizes one reconciliation pass over stale pending payments.
type SweepResult struct {
	Checked int
	Settled int
	Failed  int
	Skipped int
}

// SweepPending re-checks pending payments older than minAge against the
// gateway. Webhook delivery is at-least-once but not guaranteed on time; the
// sweep closes the gap by reading the gateway's record and applying the same
// transitions the event path would have. Payments older than lookback are
// left alone; the gateway has expired those sessions and re-checking them
// every pass buys nothing.
func (s *Service) SweepPending(ctx context.Context, minAge, lookback time.Duration, batchSize int) (SweepResult, error) {
	var result SweepResult

	stale, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) ([]models.Payment, error) {
		return s.paymentRepo.ListStalePending(ctx, minAge, lookback, batchSize)
	})
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending payments")
	}

	for i := range stale {
		payment := &stale[i]
		result.Checked++

		paymentCtx := s.logg.WithPaymentID(ctx, payment.ID.String())

		switch {
		case payment.StripePaymentIntentID != "":
			s.sweepByIntent(paymentCtx, payment, &result)
		case payment.StripeSessionID != "":
			s.sweepBySession(paymentCtx, payment, &result)
		default:
			s.logg.Warn(paymentCtx, "pending payment carries no gateway reference")
			result.Skipped++
		}
	}

	return result, nil
}

func (s *Service) sweepByIntent(ctx context.Context, payment *models.Payment, result *SweepResult) {
	intent, err := s.gateway.RetrievePaymentIntent(ctx, payment.StripePaymentIntentID)
	if err != nil {
		s.logg.Warn(ctx, "gateway intent lookup failed, leaving pending")
		result.Skipped++
		return
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		if err := s.settleByIntent(ctx, "sweep", intent); err != nil {
			s.logg.Error(ctx, "sweep settlement failed", err)
			result.Skipped++
			return
		}
		result.Settled++
	case stripe.PaymentIntentStatusCanceled:
		if err := s.failByIntent(ctx, "sweep", intent); err != nil {
			s.logg.Error(ctx, "sweep failure write failed", err)
			result.Skipped++
			return
		}
		result.Failed++
	default:
		result.Skipped++
	}
}

func (s *Service) sweepBySession(ctx context.Context, payment *models.Payment, result *SweepResult) {
	session, err := s.gateway.RetrieveCheckoutSession(ctx, payment.StripeSessionID)
	if err != nil {
		s.logg.Warn(ctx, "gateway session lookup failed, leaving pending")
		result.Skipped++
		return
	}

	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		update := payments.SucceededUpdate{PaidAt: time.Now().UTC()}
		if session.PaymentIntent != nil {
			update.PaymentIntentID = session.PaymentIntent.ID
		}
		transitioned, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (bool, error) {
			return s.paymentRepo.MarkSucceeded(ctx, payment.ID, update)
		})
		if err != nil {
			s.logg.Error(ctx, "sweep settlement write failed", err)
			result.Skipped++
			return
		}
		if transitioned {
			s.afterSettlement(ctx, payment, update.PaymentIntentID)
			result.Settled++
			return
		}
		result.Skipped++

	case session.Status == stripe.CheckoutSessionStatusExpired:
		transitioned, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (bool, error) {
			return s.paymentRepo.MarkFailed(ctx, payment.ID, time.Now().UTC())
		})
		if err != nil {
			s.logg.Error(ctx, "sweep failure write failed", err)
			result.Skipped++
			return
		}
		if transitioned {
			result.Failed++
			return
		}
		result.Skipped++

	default:
		result.Skipped++
	}
}
