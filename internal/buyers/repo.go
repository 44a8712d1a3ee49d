package buyers

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/regpayhq/regpay-backend/pkg/db/models"
)

// Repository handles buyer persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, buyer *models.Buyer) (*models.Buyer, error)
	FindByEmail(ctx context.Context, email string) (*models.Buyer, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a buyer repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Upsert creates or refreshes the buyer keyed by lowercased email. Name and
// phone always take the latest values so a repeat purchase refreshes contact
// details.
func (r *repository) Upsert(ctx context.Context, buyer *models.Buyer) (*models.Buyer, error) {
	buyer.Email = NormalizeEmail(buyer.Email)
	if buyer.ID == uuid.Nil {
		buyer.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "updated_at"}),
		}).
		Create(buyer).Error; err != nil {
		return nil, err
	}

	// re-read so the caller sees the surviving row's ID on conflict
	return r.FindByEmail(ctx, buyer.Email)
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*models.Buyer, error) {
	var buyer models.Buyer
	if err := r.db.WithContext(ctx).
		Where("email = ?", NormalizeEmail(email)).
		First(&buyer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &buyer, nil
}

// NormalizeEmail lowercases and trims an address for use as the dedup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
