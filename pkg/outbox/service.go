package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	"github.com/angelmondragon/payments-core/pkg/logger"
)

const defaultEnvelopeVersion = 1

type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit stores one PENDING row inside tx. The row only becomes visible to the
// publisher when tx commits.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (*models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if !event.EventType.IsValid() {
		return nil, fmt.Errorf("unsupported event type %q", event.EventType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, errors.New("aggregate id required")
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event.EventType, err)
	}
	if event.Version == 0 {
		event.Version = defaultEnvelopeVersion
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.repo.timestamp()
	}

	row := models.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Status:        enums.OutboxStatusPending,
		CreatedAt:     s.repo.timestamp(),
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    row.ID.String(),
		EventType:  string(event.EventType),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	row.Payload = string(encoded)

	if err := s.repo.Insert(tx, row); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID.String(),
			"aggregate_type": event.AggregateType,
		})
		s.logg.Debug(logCtx, "outbox event queued")
	}
	return &row, nil
}
