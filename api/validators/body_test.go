package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/payments-core/pkg/errors"
)

type samplePayload struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
	Currency  string `json:"currency" validate:"required,len=3,alpha"`
}

func request(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var dest samplePayload
	err := DecodeJSONBody(request(`{"account_id":"8f14e45f-ceea-4e7a-9f4b-7f1b0c5a2d11","currency":"CHF"}`), &dest)
	require.NoError(t, err)
	assert.Equal(t, "CHF", dest.Currency)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	var dest samplePayload
	err := DecodeJSONBody(request(`{"account_id":"8f14e45f-ceea-4e7a-9f4b-7f1b0c5a2d11","currency":"CHF","admin":true}`), &dest)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyRejectsTrailingObjects(t *testing.T) {
	var dest samplePayload
	err := DecodeJSONBody(request(`{"account_id":"8f14e45f-ceea-4e7a-9f4b-7f1b0c5a2d11","currency":"CHF"}{}`), &dest)
	require.Error(t, err)
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	var dest samplePayload
	err := DecodeJSONBody(request(`{"account_id":"nope","currency":"CH"}`), &dest)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid uuid", details["account_id"])
	assert.Equal(t, "must be exactly 3 characters", details["currency"])
}

type moneyPayload struct {
	Amount   decimal.Decimal `json:"amount" validate:"money"`
	Currency string          `json:"currency" validate:"required,currency"`
}

func TestDecodeJSONBodyLedgerTags(t *testing.T) {
	var ok moneyPayload
	require.NoError(t, DecodeJSONBody(request(`{"amount":"100.50","currency":"chf"}`), &ok))
	assert.Equal(t, "100.5", ok.Amount.String())

	cases := map[string]struct {
		body  string
		field string
		msg   string
	}{
		"zero amount":     {`{"amount":"0","currency":"CHF"}`, "amount", "must be a positive amount with at most 2 decimal places"},
		"negative amount": {`{"amount":"-1.00","currency":"CHF"}`, "amount", "must be a positive amount with at most 2 decimal places"},
		"sub cent amount": {`{"amount":"1.005","currency":"CHF"}`, "amount", "must be a positive amount with at most 2 decimal places"},
		"bad currency":    {`{"amount":"1.00","currency":"C1F"}`, "currency", "must be a three letter ISO 4217 code"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var dest moneyPayload
			err := DecodeJSONBody(request(tc.body), &dest)
			require.Error(t, err)
			details, ok := pkgerrors.As(err).Details().(map[string]string)
			require.True(t, ok)
			assert.Equal(t, tc.msg, details[tc.field])
		})
	}
}
