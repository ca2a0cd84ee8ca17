package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/payments-core/internal/accounts"
	dbpkg "github.com/angelmondragon/payments-core/pkg/db"
	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/payments-core/pkg/errors"
	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/metrics"
	"github.com/angelmondragon/payments-core/pkg/outbox"
	"github.com/angelmondragon/payments-core/pkg/outbox/payloads"
	"github.com/angelmondragon/payments-core/pkg/pagination"
)

const maxPaymentIDLength = 64

// Service debits accounts and queues the matching notification.
type Service interface {
	CreatePayment(ctx context.Context, input CreatePaymentInput) (*PaymentResult, error)
	GetPayment(ctx context.Context, userID, accountID uuid.UUID, paymentID string) (*PaymentResult, error)
	ListPayments(ctx context.Context, params ListPaymentsParams) (*PaymentPage, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (*models.OutboxEvent, error)
}

// CreatePaymentInput is a debit request. PaymentID is the caller's idempotency key.
type CreatePaymentInput struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Currency  enums.Currency
	PaymentID string
}

// PaymentResult describes a stored intent.
type PaymentResult struct {
	PaymentID string
	IntentID  uuid.UUID
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Currency  enums.Currency
	Status    enums.PaymentStatus
	CreatedAt time.Time
}

// ListPaymentsParams selects one page of an account's intents.
type ListPaymentsParams struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	pagination.Params
}

// PaymentPage is one page of intents, newest first. Cursor is empty on the last page.
type PaymentPage struct {
	Items  []PaymentResult
	Cursor string
}

// ServiceParams wires the payment service.
type ServiceParams struct {
	DB       txRunner
	Accounts accounts.Repository
	Intents  Repository
	Outbox   outboxEmitter
	Logger   *logger.Logger
	Metrics  *metrics.PaymentMetrics
	Clock    func() time.Time
}

type service struct {
	db       txRunner
	accounts accounts.Repository
	intents  Repository
	outbox   outboxEmitter
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
	now      func() time.Time
}

// NewService builds the payment service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("accounts repository required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("payment intent repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		db:       params.DB,
		accounts: params.Accounts,
		intents:  params.Intents,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      clock,
	}, nil
}

// CreatePayment runs the debit as one transaction: lock the account, insert the
// PENDING intent, check currency and funds, debit, complete the intent and
// queue the outbox event. Any error leaves the store untouched.
func (s *service) CreatePayment(ctx context.Context, input CreatePaymentInput) (*PaymentResult, error) {
	result, err := s.createPayment(ctx, input)
	s.recordOutcome(ctx, input, err)
	return result, err
}

func (s *service) createPayment(ctx context.Context, input CreatePaymentInput) (*PaymentResult, error) {
	if err := validateInput(&input); err != nil {
		return nil, err
	}

	var result *PaymentResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		accountsRepo := s.accounts.WithTx(tx)
		intentsRepo := s.intents.WithTx(tx)

		account, err := accountsRepo.FindForUpdate(ctx, input.AccountID, input.UserID)
		if err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrAccountNotFound, "account not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock account")
		}

		now := s.now().UTC().Truncate(time.Microsecond)
		intent := &models.PaymentIntent{
			ID:        uuid.New(),
			AccountID: account.ID,
			PaymentID: input.PaymentID,
			Amount:    input.Amount,
			Currency:  input.Currency,
			Status:    enums.PaymentStatusPending,
			CreatedAt: now,
		}
		if err := intentsRepo.Create(ctx, intent); err != nil {
			if dbpkg.IsUniqueViolation(err, models.PaymentIntentAccountPaymentConstraint) {
				return pkgerrors.Wrap(pkgerrors.CodeDuplicatePayment, ErrDuplicatePayment, "payment already submitted").
					WithDetails(map[string]string{"payment_id": input.PaymentID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert payment intent")
		}

		if account.BaseCurrency != input.Currency {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrCurrencyMismatch, "currency does not match account").
				WithDetails(map[string]string{"currency": string(account.BaseCurrency)})
		}
		if account.Balance.LessThan(input.Amount) {
			return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, ErrInsufficientFunds, "insufficient funds")
		}

		balance := account.Balance.Sub(input.Amount)
		if err := accountsRepo.UpdateBalance(ctx, account.ID, balance, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit account")
		}

		if err := intentsRepo.UpdateStatus(ctx, intent.ID, enums.PaymentStatusCompleted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete payment intent")
		}
		intent.Status = enums.PaymentStatusCompleted

		_, err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCreated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   intent.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID},
			OccurredAt:    now,
			Data: payloads.PaymentCreatedEvent{
				PaymentID: intent.PaymentID,
				IntentID:  intent.ID,
				AccountID: intent.AccountID,
				Amount:    intent.Amount,
				Currency:  string(intent.Currency),
				Status:    string(intent.Status),
				CreatedAt: intent.CreatedAt,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue payment notification")
		}

		result = toResult(intent)
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
		}
		return nil, err
	}
	return result, nil
}

// GetPayment returns the intent stored under the caller's key. Accounts owned by
// someone else are reported as missing.
func (s *service) GetPayment(ctx context.Context, userID, accountID uuid.UUID, paymentID string) (*PaymentResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if userID == uuid.Nil || accountID == uuid.Nil || paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id and payment id are required")
	}

	if err := s.ensureOwner(ctx, userID, accountID); err != nil {
		return nil, err
	}

	intent, err := s.intents.FindByPaymentID(ctx, accountID, paymentID)
	if err != nil {
		if errors.Is(err, errIntentNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPaymentNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	return toResult(intent), nil
}

// ListPayments pages through an account's intents using keyset pagination.
func (s *service) ListPayments(ctx context.Context, params ListPaymentsParams) (*PaymentPage, error) {
	if params.UserID == uuid.Nil || params.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if err := s.ensureOwner(ctx, params.UserID, params.AccountID); err != nil {
		return nil, err
	}

	rows, err := s.intents.ListByAccount(ctx, params.AccountID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment intents")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.PaymentIntent) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})

	page := &PaymentPage{Items: make([]PaymentResult, len(rows)), Cursor: next}
	for i := range rows {
		page.Items[i] = *toResult(&rows[i])
	}
	return page, nil
}

func (s *service) ensureOwner(ctx context.Context, userID, accountID uuid.UUID) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrAccountNotFound, "account not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account")
	}
	if account.UserID != userID {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrAccountNotFound, "account not found")
	}
	return nil
}

func validateInput(input *CreatePaymentInput) error {
	input.PaymentID = strings.TrimSpace(input.PaymentID)
	switch {
	case input.UserID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	case input.AccountID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	case input.PaymentID == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	case len(input.PaymentID) > maxPaymentIDLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment id must be at most %d characters", maxPaymentIDLength))
	case !input.Amount.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	case !input.Amount.Equal(input.Amount.Round(2)):
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must have at most two decimal places")
	case !input.Currency.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "currency must be a three letter ISO 4217 code")
	}
	return nil
}

func toResult(intent *models.PaymentIntent) *PaymentResult {
	return &PaymentResult{
		PaymentID: intent.PaymentID,
		IntentID:  intent.ID,
		AccountID: intent.AccountID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Status:    intent.Status,
		CreatedAt: intent.CreatedAt,
	}
}

func (s *service) recordOutcome(ctx context.Context, input CreatePaymentInput, err error) {
	outcome := string(enums.PaymentStatusCompleted)
	if err != nil {
		outcome = string(pkgerrors.As(err).Code())
	}
	s.metrics.IncOutcome(outcome)

	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithAccountID(ctx, input.AccountID.String())
	logCtx = s.logg.WithPaymentID(logCtx, input.PaymentID)
	logCtx = s.logg.WithField(logCtx, "outcome", outcome)
	switch {
	case err == nil:
		s.logg.Info(logCtx, "payment completed")
	case pkgerrors.Is(err, pkgerrors.CodeInternal):
		s.logg.Error(logCtx, "payment failed", err)
	default:
		s.logg.Info(logCtx, "payment rejected")
	}
}
