package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/payments-core/internal/accounts"
	"github.com/angelmondragon/payments-core/pkg/db"
	"github.com/angelmondragon/payments-core/pkg/db/dbtest"
	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/payments-core/pkg/errors"
	"github.com/angelmondragon/payments-core/pkg/outbox"
	"github.com/angelmondragon/payments-core/pkg/outbox/payloads"
	"github.com/angelmondragon/payments-core/pkg/outbox/registry"
)

var fixedNow = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

type harness struct {
	conn     *gorm.DB
	accounts accounts.Repository
	svc      Service
}

func newHarness(t *testing.T, emitter outboxEmitter) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	accountsRepo := accounts.NewRepository(conn)
	if emitter == nil {
		emitter = outbox.NewService(outbox.NewRepository(conn), nil)
	}
	svc, err := NewService(ServiceParams{
		DB:       db.NewFromConn(conn),
		Accounts: accountsRepo,
		Intents:  NewRepository(conn),
		Outbox:   emitter,
		Clock:    func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return &harness{conn: conn, accounts: accountsRepo, svc: svc}
}

func (h *harness) seedAccount(t *testing.T, balance string, currency enums.Currency) *models.Account {
	t.Helper()
	account := &models.Account{
		UserID:       uuid.New(),
		Balance:      decimal.RequireFromString(balance),
		BaseCurrency: currency,
	}
	require.NoError(t, h.accounts.Create(context.Background(), account))
	return account
}

func (h *harness) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := h.accounts.FindByID(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func (h *harness) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var total int64
	require.NoError(t, h.conn.Model(model).Count(&total).Error)
	return total
}

func paymentFor(account *models.Account, amount, paymentID string) CreatePaymentInput {
	return CreatePaymentInput{
		UserID:    account.UserID,
		AccountID: account.ID,
		Amount:    decimal.RequireFromString(amount),
		Currency:  account.BaseCurrency,
		PaymentID: paymentID,
	}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s got %s", want, got)
}

func TestCreatePaymentDebitsAndQueuesEvent(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "500.00", enums.CurrencyCHF)

	result, err := h.svc.CreatePayment(context.Background(), paymentFor(account, "100.00", "pay-1"))
	require.NoError(t, err)
	assert.Equal(t, "pay-1", result.PaymentID)
	assert.Equal(t, enums.PaymentStatusCompleted, result.Status)
	assert.NotEqual(t, uuid.Nil, result.IntentID)

	requireDecimal(t, "400.00", h.balance(t, account.ID))

	var events []models.OutboxEvent
	require.NoError(t, h.conn.Find(&events).Error)
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, enums.OutboxStatusPending, event.Status)
	assert.Equal(t, enums.EventPaymentCreated, event.EventType)
	assert.Equal(t, enums.AggregatePayment, event.AggregateType)
	assert.Equal(t, result.IntentID, event.AggregateID)
	assert.Equal(t, 0, event.AttemptCount)

	var intent models.PaymentIntent
	require.NoError(t, h.conn.Where("id = ?", result.IntentID).First(&intent).Error)
	assert.Equal(t, enums.PaymentStatusCompleted, intent.Status)
}

func TestCreatePaymentPayloadRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "75.00", enums.CurrencyEUR)

	result, err := h.svc.CreatePayment(context.Background(), paymentFor(account, "12.34", "invoice-77"))
	require.NoError(t, err)

	var event models.OutboxEvent
	require.NoError(t, h.conn.First(&event).Error)

	reg, err := registry.NewEventRegistry("payment-notifications")
	require.NoError(t, err)
	resolved, err := reg.Resolve(event)
	require.NoError(t, err)

	payload, ok := resolved.Payload.(*payloads.PaymentCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, "invoice-77", payload.PaymentID)
	assert.Equal(t, result.IntentID, payload.IntentID)
	assert.Equal(t, account.ID, payload.AccountID)
	requireDecimal(t, "12.34", payload.Amount)
	assert.Equal(t, "EUR", payload.Currency)
	assert.Equal(t, "COMPLETED", payload.Status)
	assert.True(t, payload.CreatedAt.Equal(fixedNow))
	assert.Equal(t, "invoice-77", resolved.Key(event))
	assert.Equal(t, account.UserID, resolved.Envelope.Actor.UserID)
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "100.00", enums.CurrencyCHF)

	const requests = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		completed    int
		insufficient int
		other        []error
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.CreatePayment(context.Background(), paymentFor(account, "30.00", uuid.NewString()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, ErrInsufficientFunds):
				insufficient++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 3, completed)
	assert.Equal(t, 7, insufficient)
	requireDecimal(t, "10.00", h.balance(t, account.ID))
	assert.Equal(t, int64(3), h.countRows(t, &models.OutboxEvent{}))
	assert.Equal(t, int64(3), h.countRows(t, &models.PaymentIntent{}))
}

func TestDuplicatePaymentIsRejectedWithoutSideEffects(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "100.00", enums.CurrencyCHF)
	ctx := context.Background()

	_, err := h.svc.CreatePayment(ctx, paymentFor(account, "10.00", "dup-1"))
	require.NoError(t, err)

	_, err = h.svc.CreatePayment(ctx, paymentFor(account, "10.00", "dup-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicatePayment)
	assert.Equal(t, pkgerrors.CodeDuplicatePayment, pkgerrors.As(err).Code())

	requireDecimal(t, "90.00", h.balance(t, account.ID))
	assert.Equal(t, int64(1), h.countRows(t, &models.OutboxEvent{}))
	assert.Equal(t, int64(1), h.countRows(t, &models.PaymentIntent{}))

	other := h.seedAccount(t, "100.00", enums.CurrencyCHF)
	_, err = h.svc.CreatePayment(ctx, paymentFor(other, "10.00", "dup-1"))
	assert.NoError(t, err, "the key is scoped per account")
}

func TestCreatePaymentRejections(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "50.00", enums.CurrencyCHF)
	ctx := context.Background()

	_, err := h.svc.CreatePayment(ctx, paymentFor(account, "50.01", "too-much"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, pkgerrors.CodeInsufficientFunds, pkgerrors.As(err).Code())

	foreign := paymentFor(account, "5.00", "foreign-owner")
	foreign.UserID = uuid.New()
	_, err = h.svc.CreatePayment(ctx, foreign)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	missing := paymentFor(account, "5.00", "missing-account")
	missing.AccountID = uuid.New()
	_, err = h.svc.CreatePayment(ctx, missing)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	mismatch := paymentFor(account, "5.00", "retry-me")
	mismatch.Currency = enums.CurrencyEUR
	_, err = h.svc.CreatePayment(ctx, mismatch)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	requireDecimal(t, "50.00", h.balance(t, account.ID))
	assert.Equal(t, int64(0), h.countRows(t, &models.PaymentIntent{}))
	assert.Equal(t, int64(0), h.countRows(t, &models.OutboxEvent{}))

	_, err = h.svc.CreatePayment(ctx, paymentFor(account, "50.00", "retry-me"))
	require.NoError(t, err, "a rejected key stays usable")
	requireDecimal(t, "0", h.balance(t, account.ID))
}

func TestCreatePaymentValidatesInput(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "50.00", enums.CurrencyCHF)

	cases := map[string]func(*CreatePaymentInput){
		"zero amount":        func(in *CreatePaymentInput) { in.Amount = decimal.Zero },
		"negative amount":    func(in *CreatePaymentInput) { in.Amount = decimal.RequireFromString("-1") },
		"three decimals":     func(in *CreatePaymentInput) { in.Amount = decimal.RequireFromString("1.005") },
		"lowercase currency": func(in *CreatePaymentInput) { in.Currency = "chf" },
		"blank payment id":   func(in *CreatePaymentInput) { in.PaymentID = "  " },
		"long payment id":    func(in *CreatePaymentInput) { in.PaymentID = string(make([]byte, 65)) },
		"missing user":       func(in *CreatePaymentInput) { in.UserID = uuid.Nil },
		"missing account":    func(in *CreatePaymentInput) { in.AccountID = uuid.Nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := paymentFor(account, "1.00", "valid")
			mutate(&input)
			_, err := h.svc.CreatePayment(context.Background(), input)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
		})
	}
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) (*models.OutboxEvent, error) {
	return nil, errors.New("outbox unavailable")
}

func TestCreatePaymentRollsBackWhenOutboxFails(t *testing.T) {
	h := newHarness(t, failingEmitter{})
	account := h.seedAccount(t, "100.00", enums.CurrencyCHF)

	_, err := h.svc.CreatePayment(context.Background(), paymentFor(account, "25.00", "rollback-1"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInternal, pkgerrors.As(err).Code())

	requireDecimal(t, "100.00", h.balance(t, account.ID))
	assert.Equal(t, int64(0), h.countRows(t, &models.PaymentIntent{}))
	assert.Equal(t, int64(0), h.countRows(t, &models.OutboxEvent{}))
}

func TestGetPayment(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "100.00", enums.CurrencyCHF)
	ctx := context.Background()

	created, err := h.svc.CreatePayment(ctx, paymentFor(account, "40.00", "lookup-1"))
	require.NoError(t, err)

	found, err := h.svc.GetPayment(ctx, account.UserID, account.ID, "lookup-1")
	require.NoError(t, err)
	assert.Equal(t, created.IntentID, found.IntentID)
	assert.Equal(t, enums.PaymentStatusCompleted, found.Status)
	requireDecimal(t, "40.00", found.Amount)

	_, err = h.svc.GetPayment(ctx, uuid.New(), account.ID, "lookup-1")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = h.svc.GetPayment(ctx, account.UserID, account.ID, "unknown")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = h.svc.GetPayment(ctx, account.UserID, account.ID, "")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestListPaymentsPagesNewestFirst(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "100.00", enums.CurrencyCHF)
	other := h.seedAccount(t, "100.00", enums.CurrencyCHF)
	ctx := context.Background()

	for _, id := range []string{"p-1", "p-2", "p-3", "p-4", "p-5"} {
		_, err := h.svc.CreatePayment(ctx, paymentFor(account, "1.00", id))
		require.NoError(t, err)
	}
	_, err := h.svc.CreatePayment(ctx, paymentFor(other, "1.00", "p-1"))
	require.NoError(t, err)

	seen := map[string]bool{}
	params := ListPaymentsParams{UserID: account.UserID, AccountID: account.ID}
	params.Limit = 2
	pages := 0
	for {
		page, err := h.svc.ListPayments(ctx, params)
		require.NoError(t, err)
		pages++
		for _, item := range page.Items {
			assert.Equal(t, account.ID, item.AccountID)
			assert.False(t, seen[item.PaymentID], "payment %s listed twice", item.PaymentID)
			seen[item.PaymentID] = true
		}
		if page.Cursor == "" {
			break
		}
		params.Cursor = page.Cursor
	}
	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 5)
}

func TestListPaymentsRejections(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "100.00", enums.CurrencyCHF)
	ctx := context.Background()

	_, err := h.svc.ListPayments(ctx, ListPaymentsParams{UserID: uuid.New(), AccountID: account.ID})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	params := ListPaymentsParams{UserID: account.UserID, AccountID: account.ID}
	params.Cursor = "not-a-cursor"
	_, err = h.svc.ListPayments(ctx, params)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	page, err := h.svc.ListPayments(ctx, ListPaymentsParams{UserID: account.UserID, AccountID: account.ID})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.Cursor)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
