package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v84"

	"github.com/regpayhq/regpay-backend/internal/leads"
	"github.com/regpayhq/regpay-backend/internal/notify"
	"github.com/regpayhq/regpay-backend/internal/payments"
	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/db/models"
	"github.com/regpayhq/regpay-backend/pkg/enums"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

type stubPaymentRepo struct {
	payment            *models.Payment
	findErr            error
	findErrCount       int
	findCalls          int
	markSucceededCalls int
	markFailedCalls    int
	attachedReceipts   int
	linkedBuyers       []uuid.UUID
	stale              []models.Payment
}

func (r *stubPaymentRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	return r.find()
}

func (r *stubPaymentRepo) FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	return r.find()
}

func (r *stubPaymentRepo) find() (*models.Payment, error) {
	r.findCalls++
	if r.findErr != nil && (r.findErrCount == 0 || r.findCalls <= r.findErrCount) {
		return nil, r.findErr
	}
	return r.payment, nil
}

func (r *stubPaymentRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, update payments.SucceededUpdate) (bool, error) {
	r.markSucceededCalls++
	if r.payment == nil || r.payment.Status == enums.PaymentStatusSucceeded {
		return false, nil
	}
	r.payment.Status = enums.PaymentStatusSucceeded
	r.payment.PaidAt = &update.PaidAt
	return true, nil
}

func (r *stubPaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID, failedAt time.Time) (bool, error) {
	r.markFailedCalls++
	if r.payment == nil || r.payment.Status != enums.PaymentStatusPending {
		return false, nil
	}
	r.payment.Status = enums.PaymentStatusFailed
	return true, nil
}

func (r *stubPaymentRepo) AttachReceipt(ctx context.Context, id uuid.UUID, chargeID, receiptURL string) error {
	r.attachedReceipts++
	return nil
}

func (r *stubPaymentRepo) AttachBuyer(ctx context.Context, id uuid.UUID, buyerID uuid.UUID) error {
	r.linkedBuyers = append(r.linkedBuyers, buyerID)
	if r.payment != nil && r.payment.ID == id {
		r.payment.BuyerID = &buyerID
	}
	return nil
}

func (r *stubPaymentRepo) ListStalePending(ctx context.Context, olderThan, lookback time.Duration, limit int) ([]models.Payment, error) {
	return r.stale, nil
}

type stubBuyerRepo struct {
	upserts []models.Buyer
}

func (r *stubBuyerRepo) Upsert(ctx context.Context, buyer *models.Buyer) (*models.Buyer, error) {
	if buyer.ID == uuid.Nil {
		buyer.ID = uuid.New()
	}
	r.upserts = append(r.upserts, *buyer)
	return buyer, nil
}

type stubLeadRepo struct {
	lead          *leads.Lead
	markPaidCalls int
}

func (r *stubLeadRepo) FindByID(ctx context.Context, id uuid.UUID) (*leads.Lead, error) {
	return r.lead, nil
}

func (r *stubLeadRepo) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error) {
	r.markPaidCalls++
	if r.lead == nil || r.lead.Paid {
		return false, nil
	}
	r.lead.Paid = true
	r.lead.PaymentRef = paymentRef
	return true, nil
}

type stubGateway struct {
	intent       *stripe.PaymentIntent
	session      *stripe.CheckoutSession
	err          error
	intentCalls  int
	sessionCalls int
}

func (g *stubGateway) RetrieveCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	g.sessionCalls++
	if g.err != nil {
		return nil, g.err
	}
	if g.session == nil {
		return &stripe.CheckoutSession{ID: id}, nil
	}
	return g.session, nil
}

func (g *stubGateway) RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	g.intentCalls++
	if g.err != nil {
		return nil, g.err
	}
	if g.intent == nil {
		return &stripe.PaymentIntent{ID: id}, nil
	}
	return g.intent, nil
}

type stubNotifier struct {
	queued []notify.Confirmation
	reject bool
}

func (n *stubNotifier) Enqueue(ctx context.Context, c notify.Confirmation) bool {
	if n.reject {
		return false
	}
	n.queued = append(n.queued, c)
	return true
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
}

type serviceStubs struct {
	payments *stubPaymentRepo
	buyers   *stubBuyerRepo
	leadRepo *stubLeadRepo
	gateway  *stubGateway
	notifier *stubNotifier
}

func newTestService(t *testing.T, stubs serviceStubs) *Service {
	t.Helper()
	if stubs.payments == nil {
		stubs.payments = &stubPaymentRepo{}
	}
	if stubs.buyers == nil {
		stubs.buyers = &stubBuyerRepo{}
	}
	if stubs.leadRepo == nil {
		stubs.leadRepo = &stubLeadRepo{}
	}
	if stubs.gateway == nil {
		stubs.gateway = &stubGateway{}
	}
	if stubs.notifier == nil {
		stubs.notifier = &stubNotifier{}
	}
	service, err := NewService(ServiceParams{
		PaymentRepo: stubs.payments,
		BuyerRepo:   stubs.buyers,
		LeadRepo:    stubs.leadRepo,
		Gateway:     stubs.gateway,
		Notifier:    stubs.notifier,
		Logger:      testLogger(),
		Retry:       config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return service
}

func sessionEvent(t *testing.T, session *stripe.CheckoutSession) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func intentEvent(t *testing.T, eventType stripe.EventType, intent *stripe.PaymentIntent) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func pendingPayment() *models.Payment {
	return &models.Payment{
		ID:           uuid.New(),
		BuyerName:    "Asha Rao",
		BuyerEmail:   "asha@example.com",
		AmountCents:  45000,
		Currency:     "usd",
		Status:       enums.PaymentStatusPending,
		ProductTitle: "Live Webinar",
		MeetingLink:  "https://meet.example.com/w1",
	}
}

func TestService_SessionCompletedSettlesPendingPayment(t *testing.T) {
	paymentRepo := &stubPaymentRepo{payment: pendingPayment()}
	buyerRepo := &stubBuyerRepo{}
	notifier := &stubNotifier{}
	service := newTestService(t, serviceStubs{payments: paymentRepo, buyers: buyerRepo, notifier: notifier})

	event := sessionEvent(t, &stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if paymentRepo.payment.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", paymentRepo.payment.Status)
	}
	if len(buyerRepo.upserts) != 1 {
		t.Fatalf("expected 1 buyer upsert, got %d", len(buyerRepo.upserts))
	}
	if paymentRepo.payment.BuyerID == nil || *paymentRepo.payment.BuyerID != buyerRepo.upserts[0].ID {
		t.Fatal("payment not linked to upserted buyer")
	}
	if len(notifier.queued) != 1 {
		t.Fatalf("expected 1 queued confirmation, got %d", len(notifier.queued))
	}
	if notifier.queued[0].MeetingLink != "https://meet.example.com/w1" {
		t.Fatal("confirmation missing meeting link")
	}
}

func TestService_DuplicateDeliverySkipsSideEffects(t *testing.T) {
	paymentRepo := &stubPaymentRepo{payment: pendingPayment()}
	buyerRepo := &stubBuyerRepo{}
	notifier := &stubNotifier{}
	service := newTestService(t, serviceStubs{payments: paymentRepo, buyers: buyerRepo, notifier: notifier})

	event := sessionEvent(t, &stripe.CheckoutSession{ID: "cs_dup", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid})
	for i := 0; i < 3; i++ {
		if err := service.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if len(notifier.queued) != 1 {
		t.Fatalf("expected exactly 1 confirmation across redeliveries, got %d", len(notifier.queued))
	}
	if len(buyerRepo.upserts) != 1 {
		t.Fatalf("expected exactly 1 buyer upsert, got %d", len(buyerRepo.upserts))
	}
}

func TestService_FailureNeverDowngradesSuccess(t *testing.T) {
	payment := pendingPayment()
	payment.Status = enums.PaymentStatusSucceeded
	payment.StripePaymentIntentID = "pi_1"
	paymentRepo := &stubPaymentRepo{payment: payment}
	service := newTestService(t, serviceStubs{payments: paymentRepo})

	event := intentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, &stripe.PaymentIntent{ID: "pi_1"})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if payment.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("success downgraded to %s", payment.Status)
	}
	if paymentRepo.markFailedCalls != 0 {
		t.Fatal("expected failure write to be skipped")
	}
}

func TestService_LateSuccessOverridesFailure(t *testing.T) {
	payment := pendingPayment()
	payment.Status = enums.PaymentStatusFailed
	payment.StripePaymentIntentID = "pi_2"
	paymentRepo := &stubPaymentRepo{payment: payment}
	notifier := &stubNotifier{}
	service := newTestService(t, serviceStubs{payments: paymentRepo, notifier: notifier})

	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{ID: "pi_2"})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if payment.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", payment.Status)
	}
	if len(notifier.queued) != 1 {
		t.Fatalf("expected confirmation after late success, got %d", len(notifier.queued))
	}
}

func TestService_IntentFailureMarksPendingFailed(t *testing.T) {
	payment := pendingPayment()
	payment.StripePaymentIntentID = "pi_3"
	paymentRepo := &stubPaymentRepo{payment: payment}
	notifier := &stubNotifier{}
	service := newTestService(t, serviceStubs{payments: paymentRepo, notifier: notifier})

	event := intentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, &stripe.PaymentIntent{ID: "pi_3"})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if payment.Status != enums.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", payment.Status)
	}
	if len(notifier.queued) != 0 {
		t.Fatal("failure must not queue a confirmation")
	}
}

func TestService_UnknownEventTypeAcknowledged(t *testing.T) {
	paymentRepo := &stubPaymentRepo{}
	service := newTestService(t, serviceStubs{payments: paymentRepo})

	event := &stripe.Event{
		ID:   "evt_unknown",
		Type: stripe.EventType("charge.refund.updated"),
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown event must be acknowledged: %v", err)
	}
	if paymentRepo.findCalls != 0 {
		t.Fatal("unknown event must not touch storage")
	}
}

func TestService_UnmatchedEventAcknowledged(t *testing.T) {
	service := newTestService(t, serviceStubs{payments: &stubPaymentRepo{payment: nil}})

	event := sessionEvent(t, &stripe.CheckoutSession{ID: "cs_missing"})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unmatched event must be acknowledged: %v", err)
	}
}

func TestService_TransientStorageErrorRetriedThenRecovered(t *testing.T) {
	paymentRepo := &stubPaymentRepo{
		payment:      pendingPayment(),
		findErr:      errors.New("connection reset by peer"),
		findErrCount: 2,
	}
	service := newTestService(t, serviceStubs{payments: paymentRepo})

	event := sessionEvent(t, &stripe.CheckoutSession{ID: "cs_retry", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}
	if paymentRepo.findCalls != 3 {
		t.Fatalf("expected 3 find attempts, got %d", paymentRepo.findCalls)
	}
	if paymentRepo.payment.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded after recovery, got %s", paymentRepo.payment.Status)
	}
}

func TestService_ExhaustedRetriesReturnError(t *testing.T) {
	paymentRepo := &stubPaymentRepo{
		payment: pendingPayment(),
		findErr: errors.New("connection refused"),
	}
	service := newTestService(t, serviceStubs{payments: paymentRepo})

	event := sessionEvent(t, &stripe.CheckoutSession{ID: "cs_down"})
	if err := service.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected error so the gateway redelivers")
	}
	if paymentRepo.findCalls != 3 {
		t.Fatalf("expected 3 find attempts, got %d", paymentRepo.findCalls)
	}
}

func TestService_CourseSessionMarksLeadPaidOnce(t *testing.T) {
	leadID := uuid.New()
	leadRepo := &stubLeadRepo{lead: &leads.Lead{ID: leadID, Email: "asha@example.com"}}
	notifier := &stubNotifier{}
	service := newTestService(t, serviceStubs{leadRepo: leadRepo, notifier: notifier})

	session := &stripe.CheckoutSession{
		ID:            "cs_course",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   490000,
		Currency:      stripe.CurrencyUSD,
		Metadata:    map[string]string{"lead_id": leadID.String(), "course_title": "Go Fundamentals"},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Name:  "Asha Rao",
			Email: "asha@example.com",
		},
	}
	event := sessionEvent(t, session)

	for i := 0; i < 2; i++ {
		if err := service.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if !leadRepo.lead.Paid {
		t.Fatal("lead not marked paid")
	}
	if leadRepo.lead.PaymentRef != "cs_course" {
		t.Fatalf("unexpected payment ref %q", leadRepo.lead.PaymentRef)
	}
	if len(notifier.queued) != 1 {
		t.Fatalf("expected 1 enrollment confirmation, got %d", len(notifier.queued))
	}
	if notifier.queued[0].ProductTitle != "Go Fundamentals" {
		t.Fatalf("unexpected product title %q", notifier.queued[0].ProductTitle)
	}
}

func TestService_UnpaidSessionLeavesPaymentPending(t *testing.T) {
	paymentRepo := &stubPaymentRepo{payment: pendingPayment()}
	buyerRepo := &stubBuyerRepo{}
	notifier := &stubNotifier{}
	service := newTestService(t, serviceStubs{payments: paymentRepo, buyers: buyerRepo, notifier: notifier})

	// delayed payment methods complete the session before money is captured
	event := sessionEvent(t, &stripe.CheckoutSession{ID: "cs_unpaid", PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unpaid session must be acknowledged: %v", err)
	}

	if paymentRepo.payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected still pending, got %s", paymentRepo.payment.Status)
	}
	if paymentRepo.markSucceededCalls != 0 {
		t.Fatal("unpaid session must not write a settlement")
	}
	if len(buyerRepo.upserts) != 0 || len(notifier.queued) != 0 {
		t.Fatal("unpaid session must not trigger side effects")
	}
}

func TestService_UnpaidCourseSessionLeavesLeadUnpaid(t *testing.T) {
	leadID := uuid.New()
	leadRepo := &stubLeadRepo{lead: &leads.Lead{ID: leadID, Email: "asha@example.com"}}
	notifier := &stubNotifier{}
	service := newTestService(t, serviceStubs{leadRepo: leadRepo, notifier: notifier})

	session := &stripe.CheckoutSession{
		ID:            "cs_course_unpaid",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Metadata:      map[string]string{"lead_id": leadID.String()},
	}
	if err := service.HandleEvent(context.Background(), sessionEvent(t, session)); err != nil {
		t.Fatalf("unpaid session must be acknowledged: %v", err)
	}

	if leadRepo.lead.Paid {
		t.Fatal("lead marked paid without a captured payment")
	}
	if leadRepo.markPaidCalls != 0 {
		t.Fatal("unpaid session must not write the lead")
	}
	if len(notifier.queued) != 0 {
		t.Fatal("unpaid session must not queue a confirmation")
	}
}

func TestService_CourseSessionUnknownLeadAcknowledged(t *testing.T) {
	service := newTestService(t, serviceStubs{leadRepo: &stubLeadRepo{lead: nil}})

	session := &stripe.CheckoutSession{
		ID:            "cs_orphan",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Metadata:      map[string]string{"lead_id": uuid.NewString()},
	}
	if err := service.HandleEvent(context.Background(), sessionEvent(t, session)); err != nil {
		t.Fatalf("unknown lead must be acknowledged: %v", err)
	}
}

func TestService_SweepSettlesStalePendingFromGateway(t *testing.T) {
	payment := pendingPayment()
	payment.StripePaymentIntentID = "pi_stale"
	paymentRepo := &stubPaymentRepo{
		payment: payment,
		stale:   []models.Payment{*payment},
	}
	gateway := &stubGateway{
		intent: &stripe.PaymentIntent{ID: "pi_stale", Status: stripe.PaymentIntentStatusSucceeded},
	}
	service := newTestService(t, serviceStubs{payments: paymentRepo, gateway: gateway})

	result, err := service.SweepPending(context.Background(), time.Hour, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Checked != 1 || result.Settled != 1 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if paymentRepo.payment.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("expected succeeded after sweep, got %s", paymentRepo.payment.Status)
	}
}

func TestService_SweepLeavesUnsettledIntentsPending(t *testing.T) {
	payment := pendingPayment()
	payment.StripePaymentIntentID = "pi_open"
	paymentRepo := &stubPaymentRepo{
		payment: payment,
		stale:   []models.Payment{*payment},
	}
	gateway := &stubGateway{
		intent: &stripe.PaymentIntent{ID: "pi_open", Status: stripe.PaymentIntentStatusRequiresPaymentMethod},
	}
	service := newTestService(t, serviceStubs{payments: paymentRepo, gateway: gateway})

	result, err := service.SweepPending(context.Background(), time.Hour, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if paymentRepo.payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected still pending, got %s", paymentRepo.payment.Status)
	}
}
