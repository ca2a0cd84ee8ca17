package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	"github.com/angelmondragon/payments-core/pkg/pagination"
)

var errIntentNotFound = errors.New("payment intent not found")

// Repository manages persistence for payment intents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.PaymentIntent) error
	UpdateStatus(ctx context.Context, intentID uuid.UUID, status enums.PaymentStatus) error
	FindByPaymentID(ctx context.Context, accountID uuid.UUID, paymentID string) (*models.PaymentIntent, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PaymentIntent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment intent repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) UpdateStatus(ctx context.Context, intentID uuid.UUID, status enums.PaymentStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ?", intentID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errIntentNotFound
	}
	return nil
}

func (r *repository) FindByPaymentID(ctx context.Context, accountID uuid.UUID, paymentID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND payment_id = ?", accountID, paymentID).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// ListByAccount returns intents newest first, starting strictly after cursor.
func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PaymentIntent, error) {
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if cursor != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.PaymentIntent
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
