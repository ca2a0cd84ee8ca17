package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/payments-core/pkg/enums"
	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/outbox"
	"github.com/angelmondragon/payments-core/pkg/outbox/payloads"
)

const paymentNotificationConsumer = "payment-notifications"

// Handler reacts to one decoded payment notification. Returning an error
// makes the message eligible for redelivery.
type Handler interface {
	HandlePaymentCreated(ctx context.Context, event *payloads.PaymentCreatedEvent) error
}

type decoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

type deduper interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error)
	Delete(ctx context.Context, consumer, key string) error
}

// inbound is the broker-neutral view of a delivered message.
type inbound struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Consumer reads payment notifications off a subscription. Delivery is
// at-least-once, so each payment is handled once per dedupe window.
type Consumer struct {
	subscription *pubsub.Subscriber
	decoders     decoder
	idempotency  deduper
	handler      Handler
	logg         *logger.Logger
}

func NewConsumer(subscription *pubsub.Subscriber, decoders decoder, manager deduper, handler Handler, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if decoders == nil {
		return nil, fmt.Errorf("payload decoders required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if handler == nil {
		return nil, fmt.Errorf("notification handler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		decoders:     decoders,
		idempotency:  manager,
		handler:      handler,
		logg:         logg,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		ok := c.process(ctx, inbound{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes})
		if !ok {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process reports whether the message should be acked. Messages that can
// never be decoded are acked so they do not cycle forever.
func (c *Consumer) process(ctx context.Context, msg inbound) bool {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
		"event_id":   msg.Attributes["event_id"],
	})

	if eventType != enums.EventPaymentCreated {
		c.logg.Debug(logCtx, "skipping unhandled event type")
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	version := envelope.Version
	if version == 0 {
		version = 1
	}

	decoded, err := c.decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		c.logg.Error(c.logg.WithField(logCtx, "version", version), "failed to decode payload", err)
		return true
	}
	event, ok := decoded.(*payloads.PaymentCreatedEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected payload type", fmt.Errorf("got %T", decoded))
		return true
	}

	logCtx = c.logg.WithAccountID(logCtx, event.AccountID.String())
	logCtx = c.logg.WithPaymentID(logCtx, event.PaymentID)
	key := dedupeKey(event)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, paymentNotificationConsumer, key)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if already {
		c.logg.Info(logCtx, "payment notification already processed")
		return true
	}

	if err := c.handler.HandlePaymentCreated(logCtx, event); err != nil {
		c.logg.Error(logCtx, "payment notification handling failed", err)
		if delErr := c.idempotency.Delete(ctx, paymentNotificationConsumer, key); delErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency key", delErr)
		}
		return false
	}
	return true
}

// dedupeKey scopes the caller's payment id to its account, matching the
// uniqueness the ledger enforces.
func dedupeKey(event *payloads.PaymentCreatedEvent) string {
	return event.AccountID.String() + ":" + event.PaymentID
}
