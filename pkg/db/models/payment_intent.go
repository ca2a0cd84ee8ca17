package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payments-core/pkg/enums"
)

// PaymentIntentAccountPaymentConstraint guards caller idempotency keys per account.
const PaymentIntentAccountPaymentConstraint = "ux_payment_intents_account_payment"

// PaymentIntent records one debit request. PaymentID is the caller supplied key.
type PaymentIntent struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	AccountID uuid.UUID           `gorm:"column:account_id;type:uuid;not null;uniqueIndex:ux_payment_intents_account_payment,priority:1"`
	PaymentID string              `gorm:"column:payment_id;type:varchar(64);not null;uniqueIndex:ux_payment_intents_account_payment,priority:2"`
	Amount    decimal.Decimal     `gorm:"column:amount;type:numeric(19,2);not null"`
	Currency  enums.Currency      `gorm:"column:currency;type:char(3);not null"`
	Status    enums.PaymentStatus `gorm:"column:status;type:varchar(16);not null"`
	CreatedAt time.Time           `gorm:"column:created_at;not null"`
}
