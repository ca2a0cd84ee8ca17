package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventPaymentCreated OutboxEventType = "payment_created"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentCreated,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusProcessing,
	OutboxStatusSent,
	OutboxStatusFailed,
}

// PROCESSING -> PROCESSING is a reclaim after the lease expired. PENDING -> SENT
// is a late acknowledgement: a send from an expired lease succeeded after the
// newer attempt had already been returned to PENDING.
var outboxTransitions = map[OutboxStatus][]OutboxStatus{
	OutboxStatusPending:    {OutboxStatusProcessing, OutboxStatusSent},
	OutboxStatusProcessing: {OutboxStatusSent, OutboxStatusPending, OutboxStatusFailed, OutboxStatusProcessing},
}

// IsValid reports whether the value is a known outbox status.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal step.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	for _, candidate := range outboxTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// OutboxStatusesLeadingTo lists every status with a legal step into next, in
// declaration order. Repository updates use it as their status guard.
func OutboxStatusesLeadingTo(next OutboxStatus) []OutboxStatus {
	var from []OutboxStatus
	for _, candidate := range validOutboxStatuses {
		if candidate != next && candidate.CanTransitionTo(next) {
			from = append(from, candidate)
		}
	}
	return from
}

// ParseOutboxStatus converts raw input into OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	for _, candidate := range validOutboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox status %q", value)
}
