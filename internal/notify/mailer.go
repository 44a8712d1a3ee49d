package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"

	"github.com/regpayhq/regpay-backend/pkg/config"
	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
)

// Confirmation carries everything needed to assemble a payment confirmation
// email without further lookups.
type Confirmation struct {
	ToName       string
	ToEmail      string
	ProductTitle string
	AmountCents  int64
	Currency     string
	MeetingLink  string
	ReceiptURL   string
}

// Mailer delivers payment confirmations.
type Mailer interface {
	SendConfirmation(ctx context.Context, c Confirmation) error
}

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendgridMailer delivers confirmations through the Sendgrid v3 API.
type SendgridMailer struct {
	client sendgridClient
	from   *mail.Email
}

// NewSendgridMailer wires the Sendgrid client from config.
func NewSendgridMailer(cfg config.SendgridConfig) (*SendgridMailer, error) {
	if cfg.APIKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sendgrid api key required")
	}
	if cfg.DefaultFrom == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sendgrid from address required")
	}
	return &SendgridMailer{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.DefaultFrom),
	}, nil
}

func (m *SendgridMailer) SendConfirmation(ctx context.Context, c Confirmation) error {
	if c.ToEmail == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email required")
	}

	to := mail.NewEmail(c.ToName, c.ToEmail)
	subject := fmt.Sprintf("Payment confirmed: %s", c.ProductTitle)
	message := mail.NewSingleEmail(m.from, subject, to, confirmationText(c), confirmationHTML(c))

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sendgrid send")
	}
	if resp.StatusCode >= 400 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sendgrid send failed with status %d", resp.StatusCode))
	}
	return nil
}

func formatAmount(amountCents int64, currency string) string {
	amount := decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100))
	return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
}

func confirmationText(c Confirmation) string {
	body := fmt.Sprintf("Hi %s,\n\nYour payment of %s for %s is confirmed.\n",
		c.ToName, formatAmount(c.AmountCents, c.Currency), c.ProductTitle)
	if c.MeetingLink != "" {
		body += fmt.Sprintf("\nJoin here: %s\n", c.MeetingLink)
	}
	if c.ReceiptURL != "" {
		body += fmt.Sprintf("\nReceipt: %s\n", c.ReceiptURL)
	}
	return body
}

func confirmationHTML(c Confirmation) string {
	body := fmt.Sprintf("<p>Hi %s,</p><p>Your payment of <strong>%s</strong> for <strong>%s</strong> is confirmed.</p>",
		c.ToName, formatAmount(c.AmountCents, c.Currency), c.ProductTitle)
	if c.MeetingLink != "" {
		body += fmt.Sprintf(`<p><a href="%s">Join the session</a></p>`, c.MeetingLink)
	}
	if c.ReceiptURL != "" {
		body += fmt.Sprintf(`<p><a href="%s">View your receipt</a></p>`, c.ReceiptURL)
	}
	return body
}
