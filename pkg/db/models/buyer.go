package models

import (
	"time"

	"github.com/google/uuid"
)

// Buyer is a deduplicated identity keyed by lowercased email. A profile is
// created or refreshed whenever a payment reaches succeeded.
type Buyer struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Email     string    `gorm:"column:email;not null;unique"`
	Phone     string    `gorm:"column:phone"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
