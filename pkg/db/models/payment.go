package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/regpayhq/regpay-backend/pkg/enums"
)

// Payment records one purchase attempt in the webinar funnel. The buyer's
// contact fields are denormalized so a confirmation can be assembled without a
// second lookup. StripeSessionID is indexed but deliberately not unique: the
// payment-link sub-flow can reuse an external reference across records.
type Payment struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID               *uuid.UUID          `gorm:"column:buyer_id;type:uuid;index"`
	BuyerName             string              `gorm:"column:buyer_name;not null"`
	BuyerEmail            string              `gorm:"column:buyer_email;not null;index"`
	BuyerPhone            string              `gorm:"column:buyer_phone"`
	StripeSessionID       string              `gorm:"column:stripe_session_id;index"`
	StripePaymentIntentID string              `gorm:"column:stripe_payment_intent_id;index"`
	StripeChargeID        string              `gorm:"column:stripe_charge_id"`
	AmountCents           int64               `gorm:"column:amount_cents;not null"`
	Currency              string              `gorm:"column:currency;not null;default:'usd'"`
	Status                enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	PaymentMethod         string              `gorm:"column:payment_method"`
	PaidAt                *time.Time          `gorm:"column:paid_at"`
	ProductTitle          string              `gorm:"column:product_title"`
	MeetingLink           string              `gorm:"column:meeting_link"`
	ReceiptURL            string              `gorm:"column:receipt_url"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
