package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
)

// TargetRecordRepository persists campaign call targets.
type TargetRecordRepository struct {
	db *sqlx.DB
}

// NewTargetRecordRepository constructs the repository.
func NewTargetRecordRepository(db *sqlx.DB) *TargetRecordRepository {
	return &TargetRecordRepository{db: db}
}

// FetchPending returns pending targets in insertion order.
func (r *TargetRecordRepository) FetchPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.TargetRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, campaign_id, phone_number, status, attempt_count, last_attempt_at, last_error, created_at, updated_at
		FROM target_records
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("target records: select pending: %w", err)
	}
	defer rows.Close()

	var results []domain.TargetRecord
	for rows.Next() {
		var rec targetRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("target records: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("target records: rows err: %w", err)
	}

	return results, nil
}

// Claim transitions a record from pending to queued. The status guard
// makes the claim atomic: a concurrent claimer loses and gets false.
func (r *TargetRecordRepository) Claim(ctx context.Context, targetID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE target_records SET status = 'queued', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, targetID)
	if err != nil {
		return false, fmt.Errorf("target records: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("target records: rows affected: %w", err)
	}
	return n == 1, nil
}

// SetStatus updates a record status together with attempt bookkeeping.
func (r *TargetRecordRepository) SetStatus(ctx context.Context, targetID uuid.UUID, status domain.TargetStatus, meta repository.AttemptMeta) error {
	q := `UPDATE target_records SET
		status = $1,
		attempt_count = GREATEST(attempt_count, $2),
		last_attempt_at = COALESCE($3, last_attempt_at),
		last_error = $4,
		updated_at = NOW()
	 WHERE id = $5`

	res, err := r.db.ExecContext(ctx, q, status, meta.AttemptCount, meta.LastAttemptAt, meta.LastError, targetID)
	if err != nil {
		return fmt.Errorf("target records: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("target records: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountByStatus aggregates record counts per status for a campaign.
func (r *TargetRecordRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.TargetStatus]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM target_records
		WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("target records: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TargetStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("target records: scan count: %w", err)
		}
		counts[domain.TargetStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("target records: rows err: %w", err)
	}
	return counts, nil
}

// RevertStaleDialing returns records stuck in dialing to pending so the
// sweep can rescue attempts orphaned by a provider timeout or crash.
// The orphaned dial_attempts rows for those records are purged in the
// same transaction; otherwise a late provider event could resurrect a
// record the sweep already handed back to the queue.
func (r *TargetRecordRepository) RevertStaleDialing(ctx context.Context, olderThan time.Time) (int64, error) {
	var reverted int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE target_records SET status = 'pending', updated_at = NOW()
			WHERE status = 'dialing' AND updated_at < $1`, olderThan)
		if err != nil {
			return fmt.Errorf("revert stale dialing: %w", err)
		}
		reverted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if reverted == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM dial_attempts
			WHERE started_at < $1
			  AND target_id IN (SELECT id FROM target_records WHERE status = 'pending')`, olderThan); err != nil {
			return fmt.Errorf("purge orphaned attempts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("target records: %w", err)
	}
	return reverted, nil
}

type targetRecord struct {
	ID          uuid.UUID      `db:"id"`
	CampaignID  uuid.UUID      `db:"campaign_id"`
	PhoneNumber string         `db:"phone_number"`
	Status      string         `db:"status"`
	AttemptCnt  int            `db:"attempt_count"`
	LastAttempt sql.NullTime   `db:"last_attempt_at"`
	LastError   sql.NullString `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r targetRecord) toDomain() domain.TargetRecord {
	record := domain.TargetRecord{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		PhoneNumber:  r.PhoneNumber,
		Status:       domain.TargetStatus(r.Status),
		AttemptCount: r.AttemptCnt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastAttempt.Valid {
		t := r.LastAttempt.Time
		record.LastAttemptAt = &t
	}
	if r.LastError.Valid {
		s := r.LastError.String
		record.LastError = &s
	}
	return record
}
