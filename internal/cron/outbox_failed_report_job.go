package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	"github.com/angelmondragon/payments-core/pkg/logger"
	"github.com/angelmondragon/payments-core/pkg/metrics"
)

const defaultFailedReportLimit = 20

type outboxReportRepo interface {
	CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error)
	ListFailed(ctx context.Context, limit int) ([]models.OutboxEvent, error)
}

type OutboxFailedReportJobParams struct {
	Logger     *logger.Logger
	Repository outboxReportRepo
	Metrics    *metrics.OutboxMetrics
	Limit      int
}

// NewOutboxFailedReportJob refreshes the per-status gauges and logs the newest
// FAILED events so operators can replay them.
func NewOutboxFailedReportJob(params OutboxFailedReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultFailedReportLimit
	}
	return &outboxFailedReportJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
		limit:   limit,
	}, nil
}

type outboxFailedReportJob struct {
	logg    *logger.Logger
	repo    outboxReportRepo
	metrics *metrics.OutboxMetrics
	limit   int
}

func (j *outboxFailedReportJob) Name() string { return "outbox-failed-report" }

func (j *outboxFailedReportJob) Run(ctx context.Context) error {
	counts, err := j.repo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count outbox rows: %w", err)
	}
	gauges := make(map[string]int64, len(counts))
	for status, n := range counts {
		gauges[string(status)] = n
	}
	j.metrics.SetStatusCounts(gauges)

	failed := counts[enums.OutboxStatusFailed]
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending":    counts[enums.OutboxStatusPending],
		"processing": counts[enums.OutboxStatusProcessing],
		"sent":       counts[enums.OutboxStatusSent],
		"failed":     failed,
	})
	j.logg.Info(logCtx, "outbox status report")
	if failed == 0 {
		return nil
	}

	events, err := j.repo.ListFailed(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list failed outbox rows: %w", err)
	}
	for _, event := range events {
		fields := map[string]any{
			"outbox_id":     event.ID.String(),
			"event_type":    event.EventType,
			"aggregate_id":  event.AggregateID.String(),
			"attempt_count": event.AttemptCount,
			"created_at":    event.CreatedAt.Format(time.RFC3339),
		}
		if event.LastError != nil {
			fields["last_error"] = *event.LastError
		}
		j.logg.Warn(j.logg.WithFields(ctx, fields), "outbox event failed permanently")
	}
	return nil
}
