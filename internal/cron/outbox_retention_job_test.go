package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/payments-core/pkg/db"
	"github.com/angelmondragon/payments-core/pkg/db/dbtest"
	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
	"github.com/angelmondragon/payments-core/pkg/outbox"
)

func seedOutboxRow(t *testing.T, conn *gorm.DB, status enums.OutboxStatus, processedAt *time.Time) uuid.UUID {
	t.Helper()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		EventType:     enums.EventPaymentCreated,
		Status:        status,
		Payload:       `{"version":1,"data":{"paymentId":"p"}}`,
		AttemptCount:  1,
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ProcessedAt:   processedAt,
	}
	require.NoError(t, conn.Create(&event).Error)
	return event.ID
}

func TestOutboxRetentionJobDeletesOnlyOldSentRows(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-45 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)

	oldSent := seedOutboxRow(t, conn, enums.OutboxStatusSent, &old)
	recentSent := seedOutboxRow(t, conn, enums.OutboxStatusSent, &recent)
	oldFailed := seedOutboxRow(t, conn, enums.OutboxStatusFailed, &old)
	pending := seedOutboxRow(t, conn, enums.OutboxStatusPending, nil)

	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     quietLogger(),
		DB:         db.NewFromConn(conn),
		Repository: outbox.NewRepository(conn),
	})
	require.NoError(t, err)
	job := jobIface.(*outboxRetentionJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	var remaining []uuid.UUID
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Pluck("id", &remaining).Error)
	assert.ElementsMatch(t, []uuid.UUID{recentSent, oldFailed, pending}, remaining)
	assert.NotContains(t, remaining, oldSent)
}

type failingRetentionRepo struct{}

func (failingRetentionRepo) DeleteSentBefore(context.Context, *gorm.DB, time.Time) (int64, error) {
	return 0, errors.New("boom")
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     quietLogger(),
		DB:         passthroughTx{},
		Repository: failingRetentionRepo{},
	})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
	assert.Equal(t, "outbox-retention", job.Name())
}
