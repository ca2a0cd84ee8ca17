package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/payments-core/pkg/db/dbtest"
	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRepository(t *testing.T) (*Repository, *gorm.DB, *testClock) {
	t.Helper()
	conn := dbtest.Open(t)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewRepository(conn).WithClock(clock.Now), conn, clock
}

func seedEvent(t *testing.T, repo *Repository, conn *gorm.DB, createdAt time.Time) models.OutboxEvent {
	t.Helper()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		EventType:     enums.EventPaymentCreated,
		Status:        enums.OutboxStatusPending,
		Payload:       `{"version":1,"data":{"paymentId":"p"}}`,
		CreatedAt:     createdAt,
	}
	require.NoError(t, repo.Insert(conn, event))
	return event
}

func reload(t *testing.T, conn *gorm.DB, id uuid.UUID) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, conn.Where("id = ?", id).First(&row).Error)
	return row
}

func TestClaimBatchLeasesOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)

	second := seedEvent(t, repo, conn, clock.now.Add(-time.Minute))
	first := seedEvent(t, repo, conn, clock.now.Add(-2*time.Minute))
	third := seedEvent(t, repo, conn, clock.now.Add(-30*time.Second))

	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, second.ID, claimed[1].ID)
	for _, row := range claimed {
		assert.Equal(t, enums.OutboxStatusProcessing, row.Status)
		assert.Equal(t, 1, row.AttemptCount)
		require.NotNil(t, row.ProcessingStartedAt)
		assert.True(t, row.ProcessingStartedAt.Equal(clock.now))
	}

	stored := reload(t, conn, first.ID)
	assert.Equal(t, enums.OutboxStatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)

	rest, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, third.ID, rest[0].ID)

	none, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClaimBatchFiltersEventType(t *testing.T) {
	repo, conn, clock := newTestRepository(t)
	seedEvent(t, repo, conn, clock.now)

	claimed, err := repo.ClaimBatch(context.Background(), "payment_refunded", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = repo.ClaimBatch(context.Background(), enums.EventPaymentCreated, 0, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimBatchReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	event := seedEvent(t, repo, conn, clock.now)

	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	clock.Advance(30 * time.Second)
	claimed, err = repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "live lease must not be reclaimed")

	clock.Advance(2 * time.Minute)
	claimed, err = repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, event.ID, claimed[0].ID)
	assert.Equal(t, 2, claimed[0].AttemptCount)
	assert.True(t, claimed[0].ProcessingStartedAt.Equal(clock.now))
}

func TestMarkSentIsTerminalAndIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	event := seedEvent(t, repo, conn, clock.now)

	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.MarkSent(ctx, event.ID))
	sent := reload(t, conn, event.ID)
	assert.Equal(t, enums.OutboxStatusSent, sent.Status)
	assert.Nil(t, sent.ProcessingStartedAt)
	require.NotNil(t, sent.ProcessedAt)
	assert.True(t, sent.ProcessedAt.Equal(clock.now))

	clock.Advance(time.Hour)
	require.NoError(t, repo.MarkSent(ctx, event.ID))
	again := reload(t, conn, event.ID)
	assert.True(t, again.ProcessedAt.Equal(*sent.ProcessedAt), "second MarkSent must not touch the row")

	claimed, err = repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMarkFailedOrRetryReturnsToPending(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	event := seedEvent(t, repo, conn, clock.now)

	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	terminal, err := repo.MarkFailedOrRetry(ctx, event.ID, claimed[0].AttemptCount, 3, errors.New("broker unavailable"))
	require.NoError(t, err)
	assert.False(t, terminal)

	row := reload(t, conn, event.ID)
	assert.Equal(t, enums.OutboxStatusPending, row.Status)
	assert.Equal(t, 1, row.AttemptCount)
	assert.Nil(t, row.ProcessingStartedAt)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "*errors.errorString: broker unavailable", *row.LastError)

	claimed, err = repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].AttemptCount)
}

func TestMarkFailedOrRetryExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	event := seedEvent(t, repo, conn, clock.now)
	const maxAttempts = 2

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.Equal(t, attempt, claimed[0].AttemptCount)

		terminal, err := repo.MarkFailedOrRetry(ctx, event.ID, claimed[0].AttemptCount, maxAttempts, errors.New("dial amqp://svc:hunter2@mq:5672"))
		require.NoError(t, err)
		assert.Equal(t, attempt == maxAttempts, terminal)
	}

	row := reload(t, conn, event.ID)
	assert.Equal(t, enums.OutboxStatusFailed, row.Status)
	require.NotNil(t, row.ProcessedAt)
	assert.NotContains(t, *row.LastError, "hunter2")

	clock.Advance(24 * time.Hour)
	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "failed rows are never reclaimed")

	entry, err := repo.dlq.FindByEventID(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, entry.ErrorReason)
	assert.Equal(t, maxAttempts, entry.AttemptCount)
	assert.Equal(t, event.Payload, entry.Payload)

	failed, err := repo.ListFailed(ctx, 5)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, event.ID, failed[0].ID)
}

func TestMarkFailedOrRetryIgnoresStaleLease(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	event := seedEvent(t, repo, conn, clock.now)

	_, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	reclaimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	terminal, err := repo.MarkFailedOrRetry(ctx, event.ID, 1, 1, errors.New("late failure"))
	require.NoError(t, err)
	assert.False(t, terminal)
	row := reload(t, conn, event.ID)
	assert.Equal(t, enums.OutboxStatusProcessing, row.Status)
	assert.Nil(t, row.LastError)

	require.NoError(t, repo.MarkSent(ctx, event.ID))
	terminal, err = repo.MarkFailedOrRetry(ctx, event.ID, 2, 1, errors.New("after sent"))
	require.NoError(t, err)
	assert.False(t, terminal)
	assert.Equal(t, enums.OutboxStatusSent, reload(t, conn, event.ID).Status)
}

func TestCountByStatusAndRetention(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	old := seedEvent(t, repo, conn, clock.now)
	fresh := seedEvent(t, repo, conn, clock.now.Add(time.Second))
	seedEvent(t, repo, conn, clock.now.Add(2*time.Second))

	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.NoError(t, repo.MarkSent(ctx, old.ID))
	clock.Advance(48 * time.Hour)
	require.NoError(t, repo.MarkSent(ctx, fresh.ID))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[enums.OutboxStatusSent])
	assert.Equal(t, int64(1), counts[enums.OutboxStatusPending])
	assert.Equal(t, int64(0), counts[enums.OutboxStatusFailed])

	deleted, err := repo.DeleteSentBefore(ctx, nil, clock.now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, old.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.FindByID(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestMarkSentAcceptsLateAcknowledgement(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	event := seedEvent(t, repo, conn, clock.now)

	// attempt 1 stalls past its lease, attempt 2 fails and returns the row to PENDING
	_, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	reclaimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	_, err = repo.MarkFailedOrRetry(ctx, event.ID, reclaimed[0].AttemptCount, 5, errors.New("timeout"))
	require.NoError(t, err)
	require.Equal(t, enums.OutboxStatusPending, reload(t, conn, event.ID).Status)

	// attempt 1's send then succeeds
	require.NoError(t, repo.MarkSent(ctx, event.ID))
	assert.Equal(t, enums.OutboxStatusSent, reload(t, conn, event.ID).Status)

	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMarkSentLeavesFailedRowsAlone(t *testing.T) {
	ctx := context.Background()
	repo, conn, clock := newTestRepository(t)
	event := seedEvent(t, repo, conn, clock.now)

	claimed, err := repo.ClaimBatch(ctx, enums.EventPaymentCreated, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	terminal, err := repo.MarkFailedOrRetry(ctx, event.ID, claimed[0].AttemptCount, 1, errors.New("rejected"))
	require.NoError(t, err)
	require.True(t, terminal)

	require.NoError(t, repo.MarkSent(ctx, event.ID))
	row := reload(t, conn, event.ID)
	assert.Equal(t, enums.OutboxStatusFailed, row.Status)
	assert.True(t, row.Status.IsTerminal())
}

func TestNewRepositoryUsesApplicationClockOnSQLite(t *testing.T) {
	conn := dbtest.Open(t)
	assert.False(t, NewRepository(conn).dbClock)
}
