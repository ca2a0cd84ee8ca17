package payments

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicatePayment  = errors.New("duplicate payment")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCurrencyMismatch  = errors.New("currency does not match account")
	ErrPaymentNotFound   = errors.New("payment not found")
)
