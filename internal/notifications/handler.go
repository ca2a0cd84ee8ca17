package notifications

import (
	"context"

	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/outbox/payloads"
)

// LogHandler records each notification as a structured log line.
type LogHandler struct {
	Logger *logger.Logger
}

func (h LogHandler) HandlePaymentCreated(ctx context.Context, event *payloads.PaymentCreatedEvent) error {
	ctx = h.Logger.WithFields(ctx, map[string]any{
		"intent_id": event.IntentID.String(),
		"amount":    event.Amount.StringFixed(2),
		"currency":  event.Currency,
		"status":    event.Status,
	})
	h.Logger.Info(ctx, "payment notification received")
	return nil
}
