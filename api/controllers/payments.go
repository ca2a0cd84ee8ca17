package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payments-core/api/middleware"
	"github.com/angelmondragon/payments-core/api/responses"
	"github.com/angelmondragon/payments-core/api/validators"
	"github.com/angelmondragon/payments-core/internal/payments"
	"github.com/angelmondragon/payments-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/payments-core/pkg/errors"
	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/pagination"
)

type createPaymentRequest struct {
	AccountID string          `json:"account_id" validate:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" validate:"money"`
	Currency  string          `json:"currency" validate:"required,currency"`
	PaymentID string          `json:"payment_id" validate:"required,max=64"`
}

type paymentResponse struct {
	PaymentID string    `json:"payment_id"`
	IntentID  string    `json:"intent_id"`
	AccountID string    `json:"account_id"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type paymentListResponse struct {
	Items  []paymentResponse `json:"items"`
	Cursor string            `json:"cursor"`
}

func newPaymentResponse(result *payments.PaymentResult) paymentResponse {
	return paymentResponse{
		PaymentID: result.PaymentID,
		IntentID:  result.IntentID.String(),
		AccountID: result.AccountID.String(),
		Amount:    result.Amount.StringFixed(2),
		Currency:  string(result.Currency),
		Status:    string(result.Status),
		CreatedAt: result.CreatedAt,
	}
}

// PaymentsCreate debits the caller's account once per payment id.
func PaymentsCreate(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req createPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		accountID, err := uuid.Parse(req.AccountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}
		currency, err := enums.ParseCurrency(req.Currency)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}

		if logg != nil {
			ctx = logg.WithAccountID(ctx, accountID.String())
			ctx = logg.WithPaymentID(ctx, req.PaymentID)
		}

		result, err := svc.CreatePayment(ctx, payments.CreatePaymentInput{
			UserID:    userID,
			AccountID: accountID,
			Amount:    req.Amount,
			Currency:  currency,
			PaymentID: strings.TrimSpace(req.PaymentID),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newPaymentResponse(result))
	}
}

// PaymentsGet returns a payment by the caller's payment id. Accounts the
// caller does not own look the same as missing ones.
func PaymentsGet(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}
		paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))

		result, err := svc.GetPayment(ctx, userID, accountID, paymentID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(result))
	}
}

// PaymentsList pages through an account's payments, newest first.
func PaymentsList(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListPayments(ctx, payments.ListPaymentsParams{
			UserID:    userID,
			AccountID: accountID,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := paymentListResponse{Items: make([]paymentResponse, len(page.Items)), Cursor: page.Cursor}
		for i := range page.Items {
			resp.Items[i] = newPaymentResponse(&page.Items[i])
		}
		responses.WriteSuccess(w, resp)
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user context")
	}
	return id, nil
}
