package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/payments-core/pkg/db/models"
	"github.com/angelmondragon/payments-core/pkg/enums"
)

// Repository owns every state transition of outbox_events. Writes outside of
// Insert run in their own transaction.
type Repository struct {
	db  *gorm.DB
	dlq *DLQRepository
	now func() time.Time
	// dbClock stamps and expires leases with the database's now() so that
	// publishers on hosts with skewed clocks agree on when a lease is stale.
	dbClock bool
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:      db,
		dlq:     NewDLQRepository(db),
		now:     time.Now,
		dbClock: db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres",
	}
}

// WithClock swaps the time source used for leases and processed timestamps.
// Leases then follow now instead of the database clock.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	clone := *r
	clone.now = now
	clone.dbClock = false
	return &clone
}

// leaseTime is the instant a claim is stamped with and measured against.
func (r *Repository) leaseTime(tx *gorm.DB) (time.Time, error) {
	if !r.dbClock {
		return r.timestamp(), nil
	}
	var now time.Time
	if err := tx.Raw("SELECT now()").Row().Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read database clock: %w", err)
	}
	return now.UTC().Truncate(time.Microsecond), nil
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Insert adds a row inside the caller's transaction.
func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = enums.OutboxStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.timestamp()
	}
	return tx.Create(&event).Error
}

// ClaimBatch leases up to batchSize claimable rows of eventType. A row is
// claimable when it is PENDING, or PROCESSING with a lease older than
// leaseTimeout. Rows locked by a concurrent claimer are skipped. Returned rows
// already carry the incremented attempt count and the new lease.
func (r *Repository) ClaimBatch(ctx context.Context, eventType enums.OutboxEventType, batchSize int, leaseTimeout time.Duration) ([]models.OutboxEvent, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	var claimed []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now, err := r.leaseTime(tx)
		if err != nil {
			return err
		}
		cutoff := now.Add(-leaseTimeout)

		var rows []models.OutboxEvent
		err = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("event_type = ?", eventType).
			Where("(status = ? OR (status = ? AND processing_started_at < ?))",
				enums.OutboxStatusPending, enums.OutboxStatusProcessing, cutoff).
			Order("created_at ASC").
			Order("id ASC").
			Limit(batchSize).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("select claimable events: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		err = tx.Model(&models.OutboxEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":                enums.OutboxStatusProcessing,
				"attempt_count":         gorm.Expr("attempt_count + 1"),
				"processing_started_at": now,
			}).Error
		if err != nil {
			return fmt.Errorf("lease claimed events: %w", err)
		}

		for i := range rows {
			rows[i].Status = enums.OutboxStatusProcessing
			rows[i].AttemptCount++
			leased := now
			rows[i].ProcessingStartedAt = &leased
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkSent resolves a row as delivered. Calling it again is a no-op.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND status IN ?", id, enums.OutboxStatusesLeadingTo(enums.OutboxStatusSent)).
		Updates(map[string]any{
			"status":                enums.OutboxStatusSent,
			"processed_at":          r.timestamp(),
			"processing_started_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox event sent: %w", err)
	}
	return nil
}

// MarkFailedOrRetry records a failed attempt. Once attemptCount reaches
// maxAttempts the row becomes FAILED and a DLQ entry is written in the same
// transaction; otherwise it returns to PENDING. The update only applies while
// the row is still PROCESSING under the lease identified by attemptCount, so a
// result arriving after another worker reclaimed the row changes nothing.
// terminal is true only when this call moved the row to FAILED.
func (r *Repository) MarkFailedOrRetry(ctx context.Context, id uuid.UUID, attemptCount, maxAttempts int, cause error) (terminal bool, err error) {
	if cause == nil {
		cause = errors.New("unknown publish failure")
	}
	message := FormatStoredError(cause)
	now := r.timestamp()
	failing := attemptCount >= maxAttempts
	next := enums.OutboxStatusPending
	if failing {
		next = enums.OutboxStatusFailed
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":                next,
			"processing_started_at": nil,
			"last_error":            message,
		}
		if failing {
			updates["processed_at"] = now
		}

		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND status IN ? AND attempt_count = ?", id, enums.OutboxStatusesLeadingTo(next), attemptCount).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("record failed attempt: %w", res.Error)
		}
		if res.RowsAffected == 0 || !failing {
			return nil
		}

		var row models.OutboxEvent
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return fmt.Errorf("load failed event: %w", err)
		}
		if !row.Status.IsTerminal() {
			return fmt.Errorf("outbox event %s is %s after failing, want a terminal status", id, row.Status)
		}
		entry := models.OutboxDLQ{
			EventID:       row.ID,
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			Payload:       row.Payload,
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &message,
			AttemptCount:  row.AttemptCount,
			FailedAt:      now,
		}
		if err := r.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq entry: %w", err)
		}
		terminal = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return terminal, nil
}

// DeleteSentBefore purges delivered rows processed before cutoff.
func (r *Repository) DeleteSentBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Where("status = ? AND processed_at < ?", enums.OutboxStatusSent, cutoff.UTC()).
		Delete(&models.OutboxEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete sent outbox events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type statusCount struct {
	Status enums.OutboxStatus
	Total  int64
}

// CountByStatus returns the number of rows per status. Every known status is
// present in the result, zero when absent.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count outbox events: %w", err)
	}
	counts := map[enums.OutboxStatus]int64{
		enums.OutboxStatusPending:    0,
		enums.OutboxStatusProcessing: 0,
		enums.OutboxStatusSent:       0,
		enums.OutboxStatusFailed:     0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// ListFailed returns the newest FAILED rows first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OutboxStatusFailed).
		Order("processed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list failed outbox events: %w", err)
	}
	return rows, nil
}

// FindByID loads a single row.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
