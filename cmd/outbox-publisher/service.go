package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payments-core/pkg/channel"
	"github.com/angelmondragon/payments-core/pkg/config"
	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/metrics"
	"github.com/angelmondragon/payments-core/pkg/outbox"
	"github.com/angelmondragon/payments-core/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 1000
	defaultPublishTimeout = 15 * time.Second
	defaultLeaseTimeout   = 60 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	failureReasonPayload = "payload"
	failureReasonPublish = "publish"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	ClaimBatch(ctx context.Context, eventType enums.OutboxEventType, batchSize int, leaseTimeout time.Duration) ([]models.OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailedOrRetry(ctx context.Context, id uuid.UUID, attemptCount, maxAttempts int, cause error) (bool, error)
}

type registryResolver interface {
	EventTypes() []enums.OutboxEventType
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	DB         pinger
	Sender     channel.Sender
	Repository outboxRepository
	Registry   registryResolver
	Metrics    *metrics.OutboxMetrics
}

// Service drains the outbox onto the notification channel. Each tick claims a
// batch and hands every event to the channel without waiting; outcomes are
// written back from one goroutine per event.
type Service struct {
	logg           *logger.Logger
	db             pinger
	sender         channel.Sender
	repo           outboxRepository
	registry       registryResolver
	metrics        *metrics.OutboxMetrics
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	leaseTimeout   time.Duration
	publishTimeout time.Duration
	inflight       sync.WaitGroup
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Sender == nil {
		return nil, errors.New("notification sender is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	lease := cfg.LeaseTimeout
	if lease <= 0 {
		lease = defaultLeaseTimeout
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}

	if publishTimeout >= lease {
		return nil, fmt.Errorf("publish timeout %s must be shorter than lease timeout %s", publishTimeout, lease)
	}

	return &Service{
		logg:           params.Logger,
		db:             params.DB,
		sender:         params.Sender,
		repo:           params.Repository,
		registry:       params.Registry,
		metrics:        params.Metrics,
		batchSize:      batch,
		maxAttempts:    maxAttempts,
		pollInterval:   time.Duration(pollMs) * time.Millisecond,
		leaseTimeout:   lease,
		publishTimeout: publishTimeout,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "notification channel", s.sender.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run polls until ctx is canceled, then waits for in-flight sends to resolve.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	defer s.inflight.Wait()

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		full, err := s.tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if full {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// tick claims one batch per registered event type and dispatches it. It
// reports whether any batch came back full.
func (s *Service) tick(ctx context.Context) (bool, error) {
	full := false
	for _, eventType := range s.registry.EventTypes() {
		events, err := s.repo.ClaimBatch(ctx, eventType, s.batchSize, s.leaseTimeout)
		if err != nil {
			return false, fmt.Errorf("claim %s batch: %w", eventType, err)
		}
		s.metrics.AddClaimed(string(eventType), len(events))
		if len(events) >= s.batchSize {
			full = true
		}
		for _, event := range events {
			s.dispatch(ctx, event)
		}
	}
	return full, nil
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		s.recordFailure(ctx, event, failureReasonPayload, err, s.eventFields(event, nil))
		return
	}

	fields := s.eventFields(event, resolved)
	msg := channel.Message{
		Key:  resolved.Key(event),
		Data: []byte(event.Payload),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"attempt":        strconv.Itoa(event.AttemptCount),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	start := time.Now()
	result := s.sender.SendAsync(ctx, msg)

	// Outcomes are written even while shutting down; the publish timeout bounds the wait.
	detached := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		awaitCtx, cancel := context.WithTimeout(detached, s.publishTimeout)
		defer cancel()

		id, err := result.Get(awaitCtx)
		if err != nil {
			s.recordFailure(detached, event, failureReasonPublish, err, fields)
			return
		}
		if err := s.repo.MarkSent(detached, event.ID); err != nil {
			s.logg.Error(s.logg.WithFields(detached, fields), "mark outbox event sent failed", err)
			return
		}
		s.metrics.IncSent(string(event.EventType), time.Since(start))
		logCtx := s.logg.WithFields(detached, fields)
		s.logg.Info(s.logg.WithField(logCtx, "message_id", id), "outbox event published")
	}()
}

// recordFailure spends one attempt. The attempt count is the one captured at
// claim time.
func (s *Service) recordFailure(ctx context.Context, event models.OutboxEvent, reason string, cause error, fields map[string]any) {
	terminal, err := s.repo.MarkFailedOrRetry(ctx, event.ID, event.AttemptCount, s.maxAttempts, cause)
	logCtx := s.logg.WithFields(ctx, fields)
	logCtx = s.logg.WithField(logCtx, "failure_reason", reason)
	if err != nil {
		s.logg.Error(logCtx, "record outbox failure failed", err)
		return
	}
	logCtx = s.logg.WithField(logCtx, "error", cause.Error())
	if terminal {
		s.metrics.IncFailed(string(event.EventType))
		s.logg.Warn(s.logg.WithField(logCtx, "terminal_reason", enums.OutboxDLQReasonMaxAttempts), "outbox event will not be retried")
		return
	}
	s.metrics.IncRetried(string(event.EventType), reason)
	s.logg.Warn(logCtx, "outbox publish failed")
}

func (s *Service) eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
		"max_attempts":   s.maxAttempts,
	}
	if resolved != nil {
		fields["payment_id"] = resolved.Key(event)
		fields["topic"] = resolved.Descriptor.Topic
		fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

var _ outboxRepository = (*outbox.Repository)(nil)
