package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payments-core/pkg/enums"
)

// Account is a single-currency balance owned by one user.
type Account struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index:idx_accounts_user"`
	Balance      decimal.Decimal `gorm:"column:balance;type:numeric(19,2);not null;check:chk_accounts_balance_non_negative,balance >= 0"`
	BaseCurrency enums.Currency  `gorm:"column:base_currency;type:char(3);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;not null"`
}
