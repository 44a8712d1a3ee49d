package checkout

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/regpayhq/regpay-backend/internal/buyers"
	"github.com/regpayhq/regpay-backend/internal/leads"
	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/db/models"
	"github.com/regpayhq/regpay-backend/pkg/enums"
	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

type paymentCreator interface {
	Create(ctx context.Context, payment *models.Payment) error
}

type leadInserter interface {
	Insert(ctx context.Context, lead *leads.Lead) error
}

type sessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type rateSource interface {
	Multiplier(ctx context.Context) float64
}

// ServiceParams wires checkout dependencies.
type ServiceParams struct {
	PaymentRepo paymentCreator
	LeadRepo    leadInserter
	Gateway     sessionCreator
	Rates       rateSource
	Logger      *logger.Logger
	Stripe      config.StripeConfig
	Checkout    config.CheckoutConfig
	Rate        config.RatesConfig
}

// Service starts checkout sessions for the two funnels. The webinar funnel
// records a pending payment up front; the course funnel records a lead in the
// external datastore and links it through session metadata.
type Service struct {
	paymentRepo paymentCreator
	leadRepo    leadInserter
	gateway     sessionCreator
	rates       rateSource
	logg        *logger.Logger
	stripeCfg   config.StripeConfig
	checkoutCfg config.CheckoutConfig
	ratesCfg    config.RatesConfig
}

// WebinarCheckoutInput captures the registration form for the webinar funnel.
type WebinarCheckoutInput struct {
	Name     string
	Email    string
	Phone    string
	Currency string
}

// CourseCheckoutInput captures the enrollment form for the course funnel.
type CourseCheckoutInput struct {
	Name        string
	Email       string
	Phone       string
	CourseSlug  string
	CourseTitle string
	PriceCents  int64
}

// CheckoutResult returns what a client needs to redirect to the gateway.
type CheckoutResult struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.PaymentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repo required")
	}
	if params.LeadRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lead repo required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	if params.Rates == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rate source required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		paymentRepo: params.PaymentRepo,
		leadRepo:    params.LeadRepo,
		gateway:     params.Gateway,
		rates:       params.Rates,
		logg:        params.Logger,
		stripeCfg:   params.Stripe,
		checkoutCfg: params.Checkout,
		ratesCfg:    params.Rate,
	}, nil
}

// StartWebinarCheckout creates the gateway session and the pending payment
// record it will settle against. The record is written after the session so
// the gateway reference lands on the row from the start.
func (s *Service) StartWebinarCheckout(ctx context.Context, input WebinarCheckoutInput) (*CheckoutResult, error) {
	email := buyers.NormalizeEmail(input.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}

	currency := normalizeCurrency(input.Currency, s.checkoutCfg.DefaultCurrency)
	amount := s.localizeAmount(ctx, s.checkoutCfg.WebinarPriceCents, currency)

	session, err := s.gateway.CreateCheckoutSession(ctx, s.sessionParams(sessionSpec{
		title:         s.checkoutCfg.WebinarTitle,
		amountCents:   amount,
		currency:      currency,
		customerEmail: email,
	}))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		BuyerName:       input.Name,
		BuyerEmail:      email,
		BuyerPhone:      input.Phone,
		StripeSessionID: session.ID,
		AmountCents:     amount,
		Currency:        currency,
		Status:          enums.PaymentStatusPending,
		ProductTitle:    s.checkoutCfg.WebinarTitle,
		MeetingLink:     s.checkoutCfg.MeetingLink,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pending payment")
	}

	s.logg.Info(s.logg.WithPaymentID(ctx, payment.ID.String()), "webinar checkout started")

	return &CheckoutResult{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		AmountCents: amount,
		Currency:    currency,
	}, nil
}

// StartCourseCheckout records the lead in the external datastore and stamps
// its id into session metadata. The webhook path later resolves the session
// back to the lead through that metadata, never through the payments table.
func (s *Service) StartCourseCheckout(ctx context.Context, input CourseCheckoutInput) (*CheckoutResult, error) {
	email := buyers.NormalizeEmail(input.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}
	if input.CourseSlug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "course slug required")
	}

	lead := &leads.Lead{
		Name:       input.Name,
		Email:      email,
		Phone:      input.Phone,
		CourseSlug: input.CourseSlug,
	}
	if err := s.leadRepo.Insert(ctx, lead); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record course lead")
	}

	title := input.CourseTitle
	if title == "" {
		title = input.CourseSlug
	}
	amount := input.PriceCents
	if amount <= 0 {
		amount = s.checkoutCfg.CoursePriceCents
	}
	currency := normalizeCurrency("", s.checkoutCfg.DefaultCurrency)

	session, err := s.gateway.CreateCheckoutSession(ctx, s.sessionParams(sessionSpec{
		title:         title,
		amountCents:   amount,
		currency:      currency,
		customerEmail: email,
		metadata: map[string]string{
			"lead_id":      lead.ID.String(),
			"course_slug":  input.CourseSlug,
			"course_title": title,
		},
	}))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	s.logg.Info(s.logg.WithLeadID(ctx, lead.ID.String()), "course checkout started")

	return &CheckoutResult{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		AmountCents: amount,
		Currency:    currency,
	}, nil
}

type sessionSpec struct {
	title         string
	amountCents   int64
	currency      string
	customerEmail string
	metadata      map[string]string
}

func (s *Service) sessionParams(spec sessionSpec) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(s.stripeCfg.SuccessURL),
		CancelURL:     stripe.String(s.stripeCfg.CancelURL),
		CustomerEmail: stripe.String(spec.customerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(spec.currency),
					UnitAmount: stripe.Int64(spec.amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(spec.title),
					},
				},
			},
		},
	}
	if len(spec.metadata) > 0 {
		params.Metadata = spec.metadata
	}
	return params
}

// localizeAmount converts the USD base price when the buyer pays in the
// configured local currency. The multiplier comes from the rate cache and is
// never an error; a degraded cache answers with its last known or default
// rate.
func (s *Service) localizeAmount(ctx context.Context, usdCents int64, currency string) int64 {
	if !strings.EqualFold(currency, s.ratesCfg.TargetCurrency) {
		return usdCents
	}
	multiplier := decimal.NewFromFloat(s.rates.Multiplier(ctx))
	converted := decimal.NewFromInt(usdCents).Mul(multiplier)
	return converted.Round(0).IntPart()
}

func normalizeCurrency(requested, fallback string) string {
	currency := strings.ToLower(strings.TrimSpace(requested))
	if currency == "" {
		currency = strings.ToLower(strings.TrimSpace(fallback))
	}
	if currency == "" {
		currency = "usd"
	}
	return currency
}
