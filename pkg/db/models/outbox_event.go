package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payments-core/pkg/enums"
)

// OutboxEvent is a notification waiting to leave the database. Payload holds the
// JSON envelope as text so a row that fails to decode can still be stored and retried.
type OutboxEvent struct {
	ID                  uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	AggregateType       enums.OutboxAggregateType `gorm:"column:aggregate_type;type:varchar(32);not null"`
	AggregateID         uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	EventType           enums.OutboxEventType     `gorm:"column:event_type;type:varchar(64);not null;index:idx_outbox_events_claim,priority:1"`
	Status              enums.OutboxStatus        `gorm:"column:status;type:varchar(16);not null;index:idx_outbox_events_claim,priority:2"`
	Payload             string                    `gorm:"column:payload;type:text;not null"`
	AttemptCount        int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError           *string                   `gorm:"column:last_error"`
	CreatedAt           time.Time                 `gorm:"column:created_at;not null;index:idx_outbox_events_claim,priority:3"`
	ProcessingStartedAt *time.Time                `gorm:"column:processing_started_at"`
	ProcessedAt         *time.Time                `gorm:"column:processed_at"`
}
