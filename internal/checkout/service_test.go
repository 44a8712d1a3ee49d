package checkout

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v84"

	"github.com/regpayhq/regpay-backend/internal/leads"
	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/db/models"
	"github.com/regpayhq/regpay-backend/pkg/enums"
	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

type stubPaymentCreator struct {
	created []*models.Payment
}

func (s *stubPaymentCreator) Create(ctx context.Context, payment *models.Payment) error {
	s.created = append(s.created, payment)
	return nil
}

type stubLeadInserter struct {
	inserted []*leads.Lead
}

func (s *stubLeadInserter) Insert(ctx context.Context, lead *leads.Lead) error {
	lead.ID = uuid.New()
	s.inserted = append(s.inserted, lead)
	return nil
}

type stubSessionCreator struct {
	lastParams *stripe.CheckoutSessionParams
}

func (s *stubSessionCreator) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.lastParams = params
	return &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.com/c/cs_new"}, nil
}

type stubRates struct {
	multiplier float64
}

func (s *stubRates) Multiplier(ctx context.Context) float64 {
	return s.multiplier
}

func newTestCheckout(t *testing.T, paymentRepo *stubPaymentCreator, leadRepo *stubLeadInserter, gateway *stubSessionCreator, rates *stubRates) *Service {
	t.Helper()
	if rates == nil {
		rates = &stubRates{multiplier: 1}
	}
	service, err := NewService(ServiceParams{
		PaymentRepo: paymentRepo,
		LeadRepo:    leadRepo,
		Gateway:     gateway,
		Rates:       rates,
		Logger:      logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard}),
		Stripe: config.StripeConfig{
			SuccessURL: "https://regpay.example/thanks",
			CancelURL:  "https://regpay.example/cancel",
		},
		Checkout: config.CheckoutConfig{
			WebinarTitle:      "Live Webinar",
			WebinarPriceCents: 450,
			CoursePriceCents:  4900,
			MeetingLink:       "https://meet.example.com/w1",
			DefaultCurrency:   "usd",
		},
		Rate: config.RatesConfig{TargetCurrency: "INR"},
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return service
}

func TestStartWebinarCheckoutRecordsPendingPayment(t *testing.T) {
	paymentRepo := &stubPaymentCreator{}
	gateway := &stubSessionCreator{}
	service := newTestCheckout(t, paymentRepo, &stubLeadInserter{}, gateway, nil)

	result, err := service.StartWebinarCheckout(context.Background(), WebinarCheckoutInput{
		Name:  "Asha Rao",
		Email: "Asha@Example.com",
		Phone: "+911234567890",
	})
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}

	if result.SessionID != "cs_new" || result.CheckoutURL == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(paymentRepo.created) != 1 {
		t.Fatalf("expected 1 payment record, got %d", len(paymentRepo.created))
	}
	payment := paymentRepo.created[0]
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", payment.Status)
	}
	if payment.StripeSessionID != "cs_new" {
		t.Fatalf("session id not stamped on record: %q", payment.StripeSessionID)
	}
	if payment.BuyerEmail != "asha@example.com" {
		t.Fatalf("email not normalized: %q", payment.BuyerEmail)
	}
	if payment.AmountCents != 450 || payment.Currency != "usd" {
		t.Fatalf("unexpected pricing %d %s", payment.AmountCents, payment.Currency)
	}
}

func TestStartWebinarCheckoutConvertsLocalCurrency(t *testing.T) {
	paymentRepo := &stubPaymentCreator{}
	gateway := &stubSessionCreator{}
	service := newTestCheckout(t, paymentRepo, &stubLeadInserter{}, gateway, &stubRates{multiplier: 84.5})

	result, err := service.StartWebinarCheckout(context.Background(), WebinarCheckoutInput{
		Email:    "asha@example.com",
		Currency: "INR",
	})
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}

	// 450 * 84.5 = 38025
	if result.AmountCents != 38025 {
		t.Fatalf("expected 38025, got %d", result.AmountCents)
	}
	if result.Currency != "inr" {
		t.Fatalf("expected inr, got %s", result.Currency)
	}
	if got := *gateway.lastParams.LineItems[0].PriceData.UnitAmount; got != 38025 {
		t.Fatalf("gateway amount %d", got)
	}
}

func TestStartWebinarCheckoutRequiresEmail(t *testing.T) {
	service := newTestCheckout(t, &stubPaymentCreator{}, &stubLeadInserter{}, &stubSessionCreator{}, nil)

	_, err := service.StartWebinarCheckout(context.Background(), WebinarCheckoutInput{Name: "Asha"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestStartCourseCheckoutLinksLeadThroughMetadata(t *testing.T) {
	leadRepo := &stubLeadInserter{}
	gateway := &stubSessionCreator{}
	service := newTestCheckout(t, &stubPaymentCreator{}, leadRepo, gateway, nil)

	result, err := service.StartCourseCheckout(context.Background(), CourseCheckoutInput{
		Name:        "Asha Rao",
		Email:       "asha@example.com",
		CourseSlug:  "go-fundamentals",
		CourseTitle: "Go Fundamentals",
	})
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}

	if len(leadRepo.inserted) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leadRepo.inserted))
	}
	lead := leadRepo.inserted[0]
	if lead.CourseSlug != "go-fundamentals" {
		t.Fatalf("unexpected slug %q", lead.CourseSlug)
	}
	if got := gateway.lastParams.Metadata["lead_id"]; got != lead.ID.String() {
		t.Fatalf("metadata lead_id %q, want %q", got, lead.ID)
	}
	if got := gateway.lastParams.Metadata["course_title"]; got != "Go Fundamentals" {
		t.Fatalf("metadata course_title %q", got)
	}
	if result.AmountCents != 4900 {
		t.Fatalf("expected configured course price, got %d", result.AmountCents)
	}
}

func TestStartCourseCheckoutRequiresSlug(t *testing.T) {
	service := newTestCheckout(t, &stubPaymentCreator{}, &stubLeadInserter{}, &stubSessionCreator{}, nil)

	_, err := service.StartCourseCheckout(context.Background(), CourseCheckoutInput{Email: "asha@example.com"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}
