package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentCreatedEvent announces a completed debit.
type PaymentCreatedEvent struct {
	PaymentID string          `json:"paymentId"`
	IntentID  uuid.UUID       `json:"intentId"`
	AccountID uuid.UUID       `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// MessageKey is the ordering and dedupe key used on the channel.
func (e PaymentCreatedEvent) MessageKey() string {
	return e.PaymentID
}
