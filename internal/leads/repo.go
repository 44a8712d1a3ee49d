package leads

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Lead is one course-enrollment prospect in the external lead datastore. The
// table is owned by the marketing stack; this service only reads leads and
// flips their paid flag.
type Lead struct {
	ID         uuid.UUID
	Name       string
	Email      string
	Phone      string
	CourseSlug string
	Paid       bool
	PaymentRef string
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository handles lead persistence in the external datastore.
type Repository interface {
	Insert(ctx context.Context, lead *Lead) error
	FindByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error)
}

type repository struct {
	db *sql.DB
}

// NewRepository returns a lead repository bound to the provided handle.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, lead *Lead) error {
	now := time.Now().UTC()
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO leads (id, name, email, phone, course_slug, paid, payment_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, false, '', $6, $7)`,
		lead.ID, lead.Name, lead.Email, lead.Phone, lead.CourseSlug, lead.CreatedAt, lead.UpdatedAt,
	)
	return err
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Lead, error) {
	var lead Lead
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, course_slug, paid, payment_ref, paid_at, created_at, updated_at
		 FROM leads WHERE id = $1`,
		id,
	).Scan(
		&lead.ID,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.CourseSlug,
		&lead.Paid,
		&lead.PaymentRef,
		&lead.PaidAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// MarkPaid flips the paid flag exactly once. The WHERE clause is the
// idempotency boundary: a lead already marked paid matches zero rows and the
// caller skips enrollment side effects.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, paidAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE leads SET paid = true, payment_ref = $1, paid_at = $2, updated_at = $3
		 WHERE id = $4 AND paid = false`,
		paymentRef, paidAt, time.Now().UTC(), id,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
