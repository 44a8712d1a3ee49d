package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/regpayhq/regpay-backend/internal/leads"
	"github.com/regpayhq/regpay-backend/internal/notify"
	"github.com/regpayhq/regpay-backend/internal/payments"
	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/db/models"
	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
	"github.com/regpayhq/regpay-backend/pkg/logger"
	"github.com/regpayhq/regpay-backend/pkg/metrics"
	"github.com/regpayhq/regpay-backend/pkg/retry"
)

// metadataLeadKey marks a checkout session as belonging to the course funnel.
const metadataLeadKey = "lead_id"

// sessionEventKind reads the signal out of a completed checkout session. Only
// a captured payment settles; delayed payment methods complete the session
// with payment_status unpaid and the payment_intent events decide later.
func sessionEventKind(session *stripe.CheckoutSession) EventKind {
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		return KindSuccess
	}
	return KindIncomplete
}

type paymentRepository interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, update payments.SucceededUpdate) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, failedAt time.Time) (bool, error)
	AttachReceipt(ctx context.Context, id uuid.UUID, chargeID, receiptURL string) error
	AttachBuyer(ctx context.Context, id uuid.UUID, buyerID uuid.UUID) error
	ListStalePending(ctx context.Context, olderThan, lookback time.Duration, limit int) ([]models.Payment, error)
}

type buyerRepository interface {
	Upsert(ctx context.Context, buyer *models.Buyer) (*models.Buyer, error)
}

type leadRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*leads.Lead, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error)
}

type gatewayClient interface {
	RetrieveCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type confirmationQueue interface {
	Enqueue(ctx context.Context, c notify.Confirmation) bool
}

// ServiceParams wires dispatcher dependencies.
type ServiceParams struct {
	PaymentRepo paymentRepository
	BuyerRepo   buyerRepository
	LeadRepo    leadRepository
	Gateway     gatewayClient
	Notifier    confirmationQueue
	Logger      *logger.Logger
	Metrics     *metrics.WebhookMetrics
	Retry       config.RetryConfig
}

// Service turns verified gateway events into payment and lead transitions.
// Storage writes go through the retry wrapper; the conditional updates in the
// repositories make redelivered events converge on the same terminal state
// without duplicated side effects.
type Service struct {
	paymentRepo paymentRepository
	buyerRepo   buyerRepository
	leadRepo    leadRepository
	gateway     gatewayClient
	notifier    confirmationQueue
	logg        *logger.Logger
	metrics     *metrics.WebhookMetrics
	retryOpts   retry.Options
}

func NewService(params ServiceParams) (*Service, error) {
	if params.PaymentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repo required")
	}
	if params.BuyerRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "buyer repo required")
	}
	if params.LeadRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lead repo required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		paymentRepo: params.PaymentRepo,
		buyerRepo:   params.BuyerRepo,
		leadRepo:    params.LeadRepo,
		gateway:     params.Gateway,
		notifier:    params.Notifier,
		logg:        params.Logger,
		metrics:     params.Metrics,
		retryOpts: retry.Options{
			MaxAttempts:    params.Retry.MaxAttempts,
			BaseDelay:      params.Retry.BaseDelay,
			AttemptTimeout: params.Retry.AttemptTimeout,
		},
	}, nil
}

// HandleEvent routes one verified event. A nil return acknowledges the event;
// an error tells the controller to answer 500 so the gateway redelivers.
// Unknown event types and events matching no record are acknowledged after
// logging, since redelivery cannot fix either.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	ctx = s.logg.WithEventID(ctx, event.ID)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			s.metrics.IncEvent(string(event.Type), metrics.OutcomeError)
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		if leadID := session.Metadata[metadataLeadKey]; leadID != "" {
			return s.settleCourseLead(ctx, string(event.Type), &session, leadID)
		}
		return s.settleWebinarSession(ctx, string(event.Type), &session)

	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			s.metrics.IncEvent(string(event.Type), metrics.OutcomeError)
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		return s.settleByIntent(ctx, string(event.Type), &intent)

	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			s.metrics.IncEvent(string(event.Type), metrics.OutcomeError)
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		return s.failByIntent(ctx, string(event.Type), &intent)

	default:
		s.logg.Debug(s.logg.WithField(ctx, "event_type", string(event.Type)), "ignoring unhandled event type")
		s.metrics.IncEvent(string(event.Type), metrics.OutcomeIgnored)
		return nil
	}
}

func (s *Service) settleWebinarSession(ctx context.Context, eventType string, session *stripe.CheckoutSession) error {
	payment, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (*models.Payment, error) {
		return s.paymentRepo.FindBySessionID(ctx, session.ID)
	})
	if err != nil {
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment by session")
	}
	if payment == nil {
		s.logg.Warn(s.logg.WithField(ctx, "session_id", session.ID), "no payment matches session, acknowledging")
		s.metrics.IncEvent(eventType, metrics.OutcomeNotFound)
		return nil
	}

	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	if decision := Decide(payment.Status, sessionEventKind(session)); decision.Action != ActionMarkSucceeded {
		s.logg.Info(s.logg.WithField(ctx, "reason", decision.Reason), "skipping settlement")
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	update := payments.SucceededUpdate{PaidAt: time.Now().UTC()}
	if session.PaymentIntent != nil {
		update.PaymentIntentID = session.PaymentIntent.ID
	}

	transitioned, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (bool, error) {
		return s.paymentRepo.MarkSucceeded(ctx, payment.ID, update)
	})
	if err != nil {
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment succeeded")
	}
	if !transitioned {
		// a concurrent delivery won the conditional write
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	s.afterSettlement(ctx, payment, update.PaymentIntentID)
	s.metrics.IncEvent(eventType, metrics.OutcomeApplied)
	return nil
}

func (s *Service) settleByIntent(ctx context.Context, eventType string, intent *stripe.PaymentIntent) error {
	payment, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (*models.Payment, error) {
		return s.paymentRepo.FindByPaymentIntentID(ctx, intent.ID)
	})
	if err != nil {
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment by intent")
	}
	if payment == nil {
		s.logg.Warn(s.logg.WithField(ctx, "payment_intent_id", intent.ID), "no payment matches intent, acknowledging")
		s.metrics.IncEvent(eventType, metrics.OutcomeNotFound)
		return nil
	}

	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	if decision := Decide(payment.Status, KindSuccess); decision.Action != ActionMarkSucceeded {
		s.logg.Info(s.logg.WithField(ctx, "reason", decision.Reason), "skipping settlement")
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	update := payments.SucceededUpdate{
		PaymentIntentID: intent.ID,
		PaidAt:          time.Now().UTC(),
	}
	if intent.LatestCharge != nil {
		update.ChargeID = intent.LatestCharge.ID
		update.ReceiptURL = intent.LatestCharge.ReceiptURL
		if intent.LatestCharge.PaymentMethodDetails != nil {
			update.PaymentMethod = string(intent.LatestCharge.PaymentMethodDetails.Type)
		}
	}

	transitioned, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (bool, error) {
		return s.paymentRepo.MarkSucceeded(ctx, payment.ID, update)
	})
	if err != nil {
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment succeeded")
	}
	if !transitioned {
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	s.afterSettlement(ctx, payment, intent.ID)
	s.metrics.IncEvent(eventType, metrics.OutcomeApplied)
	return nil
}

func (s *Service) failByIntent(ctx context.Context, eventType string, intent *stripe.PaymentIntent) error {
	payment, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (*models.Payment, error) {
		return s.paymentRepo.FindByPaymentIntentID(ctx, intent.ID)
	})
	if err != nil {
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment by intent")
	}
	if payment == nil {
		s.logg.Warn(s.logg.WithField(ctx, "payment_intent_id", intent.ID), "no payment matches intent, acknowledging")
		s.metrics.IncEvent(eventType, metrics.OutcomeNotFound)
		return nil
	}

	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	if decision := Decide(payment.Status, KindFailure); decision.Action != ActionMarkFailed {
		s.logg.Info(s.logg.WithField(ctx, "reason", decision.Reason), "skipping failure")
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	transitioned, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (bool, error) {
		return s.paymentRepo.MarkFailed(ctx, payment.ID, time.Now().UTC())
	})
	if err != nil {
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
	}
	if !transitioned {
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	s.logg.Info(ctx, "payment marked failed")
	s.metrics.IncEvent(eventType, metrics.OutcomeApplied)
	return nil
}

func (s *Service) settleCourseLead(ctx context.Context, eventType string, session *stripe.CheckoutSession, rawLeadID string) error {
	leadID, err := uuid.Parse(rawLeadID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "lead_id", rawLeadID), "malformed lead id in session metadata, acknowledging")
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return nil
	}

	ctx = s.logg.WithLeadID(ctx, leadID.String())

	if sessionEventKind(session) == KindIncomplete {
		s.logg.Info(s.logg.WithField(ctx, "payment_status", string(session.PaymentStatus)), "payment not captured, skipping lead settlement")
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	transitioned, err := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (bool, error) {
		return s.leadRepo.MarkPaid(ctx, leadID, session.ID, time.Now().UTC())
	})
	if err != nil {
		s.metrics.IncEvent(eventType, metrics.OutcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark lead paid")
	}
	if !transitioned {
		lead, findErr := retry.DoValue(ctx, s.retryOpts, func(ctx context.Context) (*leads.Lead, error) {
			return s.leadRepo.FindByID(ctx, leadID)
		})
		if findErr != nil {
			s.metrics.IncEvent(eventType, metrics.OutcomeError)
			return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load lead")
		}
		if lead == nil {
			s.logg.Warn(ctx, "no lead matches session metadata, acknowledging")
			s.metrics.IncEvent(eventType, metrics.OutcomeNotFound)
			return nil
		}
		s.logg.Info(ctx, "lead already paid, skipping enrollment side effects")
		s.metrics.IncEvent(eventType, metrics.OutcomeNoop)
		return nil
	}

	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		sent := s.notifier.Enqueue(ctx, notify.Confirmation{
			ToName:       session.CustomerDetails.Name,
			ToEmail:      session.CustomerDetails.Email,
			ProductTitle: session.Metadata["course_title"],
			AmountCents:  session.AmountTotal,
			Currency:     string(session.Currency),
		})
		if !sent {
			s.logg.Warn(ctx, "enrollment confirmation not queued")
		}
	}

	s.logg.Info(ctx, "lead marked paid")
	s.metrics.IncEvent(eventType, metrics.OutcomeApplied)
	return nil
}

// afterSettlement runs the side effects that follow a durable success write:
// buyer profile upsert, receipt backfill from the gateway, and the queued
// confirmation email. All of it is best effort; the payment row is already
// authoritative and a redelivered event will not repeat these because the
// conditional write reports no transition.
func (s *Service) afterSettlement(ctx context.Context, payment *models.Payment, intentID string) {
	if payment.BuyerEmail != "" {
		buyer, err := s.buyerRepo.Upsert(ctx, &models.Buyer{
			Name:  payment.BuyerName,
			Email: payment.BuyerEmail,
			Phone: payment.BuyerPhone,
		})
		switch {
		case err != nil:
			s.logg.Error(ctx, "buyer upsert failed", err)
		case buyer != nil && buyer.ID != uuid.Nil:
			if err := s.paymentRepo.AttachBuyer(ctx, payment.ID, buyer.ID); err != nil {
				s.logg.Error(ctx, "buyer link write failed", err)
			}
		}
	}

	receiptURL := payment.ReceiptURL
	if intentID != "" {
		if intent, err := s.gateway.RetrievePaymentIntent(ctx, intentID); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "payment_intent_id", intentID), "receipt backfill fetch failed")
		} else if intent != nil && intent.LatestCharge != nil {
			receiptURL = intent.LatestCharge.ReceiptURL
			if err := s.paymentRepo.AttachReceipt(ctx, payment.ID, intent.LatestCharge.ID, intent.LatestCharge.ReceiptURL); err != nil {
				s.logg.Error(ctx, "receipt backfill write failed", err)
			}
		}
	}

	if payment.BuyerEmail == "" {
		return
	}
	sent := s.notifier.Enqueue(ctx, notify.Confirmation{
		ToName:       payment.BuyerName,
		ToEmail:      payment.BuyerEmail,
		ProductTitle: payment.ProductTitle,
		AmountCents:  payment.AmountCents,
		Currency:     payment.Currency,
		MeetingLink:  payment.MeetingLink,
		ReceiptURL:   receiptURL,
	})
	if !sent {
		s.logg.Warn(ctx, "payment confirmation not queued")
	}
}
