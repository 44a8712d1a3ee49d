package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/regpayhq/regpay-backend/pkg/db/models"
	"github.com/regpayhq/regpay-backend/pkg/enums"
)

// SucceededUpdate carries the gateway fields captured when a payment settles.
type SucceededUpdate struct {
	PaymentIntentID string
	ChargeID        string
	PaymentMethod   string
	ReceiptURL      string
	PaidAt          time.Time
}

// Repository handles payment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, update SucceededUpdate) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, failedAt time.Time) (bool, error)
	AttachReceipt(ctx context.Context, id uuid.UUID, chargeID, receiptURL string) error
	AttachBuyer(ctx context.Context, id uuid.UUID, buyerID uuid.UUID) error
	ListStalePending(ctx context.Context, olderThan, lookback time.Duration, limit int) ([]models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// FindBySessionID returns the most recent payment carrying the session ID.
// Session IDs are not unique: a reused payment link stamps the same reference
// onto every record it creates.
func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	if sessionID == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("stripe_session_id = ?", sessionID).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	if intentID == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("stripe_payment_intent_id = ?", intentID).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// MarkSucceeded promotes a payment to succeeded. The WHERE clause is the
// idempotency boundary: an already-succeeded row matches zero rows, so a
// duplicate delivery reports transitioned=false and the caller skips side
// effects. A failed row still matches, letting a late success override the
// earlier failure.
func (r *repository) MarkSucceeded(ctx context.Context, id uuid.UUID, update SucceededUpdate) (bool, error) {
	values := map[string]any{
		"status":  enums.PaymentStatusSucceeded,
		"paid_at": update.PaidAt,
	}
	if update.PaymentIntentID != "" {
		values["stripe_payment_intent_id"] = update.PaymentIntentID
	}
	if update.ChargeID != "" {
		values["stripe_charge_id"] = update.ChargeID
	}
	if update.PaymentMethod != "" {
		values["payment_method"] = update.PaymentMethod
	}
	if update.ReceiptURL != "" {
		values["receipt_url"] = update.ReceiptURL
	}

	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status <> ?", id, enums.PaymentStatusSucceeded).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed records a failure only while the payment is still pending.
// Success is absorbing: a failure event arriving after settlement matches
// zero rows and the payment keeps its succeeded status.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, failedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":     enums.PaymentStatusFailed,
			"updated_at": failedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AttachReceipt backfills charge details that arrive after the settlement
// event. It never touches status.
func (r *repository) AttachReceipt(ctx context.Context, id uuid.UUID, chargeID, receiptURL string) error {
	values := map[string]any{}
	if chargeID != "" {
		values["stripe_charge_id"] = chargeID
	}
	if receiptURL != "" {
		values["receipt_url"] = receiptURL
	}
	if len(values) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(values).Error
}

// AttachBuyer links a settled payment to its upserted buyer profile. It never
// touches status.
func (r *repository) AttachBuyer(ctx context.Context, id uuid.UUID, buyerID uuid.UUID) error {
	if buyerID == uuid.Nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Update("buyer_id", buyerID).Error
}

// ListStalePending returns pending payments older than the cutoff, oldest
// first, for the reconciliation sweep. A positive lookback bounds how far back
// the sweep reaches, so rows abandoned before the window never churn through
// gateway lookups again.
func (r *repository) ListStalePending(ctx context.Context, olderThan, lookback time.Duration, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff)
	if lookback > 0 {
		query = query.Where("created_at >= ?", now.Add(-lookback))
	}
	var stale []models.Payment
	if err := query.
		Order("created_at ASC").
		Limit(limit).
		Find(&stale).Error; err != nil {
		return nil, err
	}
	return stale, nil
}
