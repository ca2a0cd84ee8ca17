package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	"github.com/angelmondragon/payments-core/pkg/outbox"
	"github.com/angelmondragon/payments-core/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// Key returns the channel message key: the payload key when the payload has
// one, else the aggregate id.
func (r ResolvedEvent) Key(event models.OutboxEvent) string {
	if keyed, ok := r.Payload.(interface{ MessageKey() string }); ok {
		if key := keyed.MessageKey(); key != "" {
			return key
		}
	}
	return event.AggregateID.String()
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// PayloadError marks a row whose stored payload cannot be turned into a message.
type PayloadError struct {
	Err error
}

// Error implements error.
func (e PayloadError) Error() string {
	if e.Err == nil {
		return "malformed outbox payload"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e PayloadError) Unwrap() error {
	return e.Err
}

// NewPayloadError wraps err as a payload failure.
func NewPayloadError(err error) PayloadError {
	return PayloadError{Err: err}
}

// NewEventRegistry builds the registry publishing payment events to topic.
func NewEventRegistry(topic string) (*EventRegistry, error) {
	if topic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	reg.register(EventDescriptor{
		EventType:      enums.EventPaymentCreated,
		AggregateType:  enums.AggregatePayment,
		Topic:          topic,
		PayloadFactory: func() any { return &payloads.PaymentCreatedEvent{} },
	})
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// EventTypes lists every registered event type.
func (r *EventRegistry) EventTypes() []enums.OutboxEventType {
	types := make([]enums.OutboxEventType, 0, len(r.entries))
	for eventType := range r.entries {
		types = append(types, eventType)
	}
	return types
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewPayloadError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewPayloadError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewPayloadError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal([]byte(event.Payload), &envelope); err != nil {
		return nil, NewPayloadError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewPayloadError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewPayloadError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}
