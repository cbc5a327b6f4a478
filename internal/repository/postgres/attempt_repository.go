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

// DialAttemptRepository persists in-flight dial attempts.
type DialAttemptRepository struct {
	db *sqlx.DB
}

// NewDialAttemptRepository constructs the repository.
func NewDialAttemptRepository(db *sqlx.DB) *DialAttemptRepository {
	return &DialAttemptRepository{db: db}
}

// Create inserts a new in-flight attempt.
func (r *DialAttemptRepository) Create(ctx context.Context, attempt *domain.DialAttempt) error {
	q := `INSERT INTO dial_attempts (
		id, target_id, campaign_id, organization_id, agent_id, phone_number,
		call_control_id, call_session_id, attempt_num, held, started_at
	) VALUES (
		:id, :target_id, :campaign_id, :organization_id, :agent_id, :phone_number,
		:call_control_id, :call_session_id, :attempt_num, :held, :started_at
	)`

	params := map[string]any{
		"id":              attempt.ID,
		"target_id":       attempt.TargetID,
		"campaign_id":     attempt.CampaignID,
		"organization_id": attempt.OrganizationID,
		"agent_id":        attempt.AgentID,
		"phone_number":    attempt.PhoneNumber,
		"call_control_id": attempt.CallControlID,
		"call_session_id": attempt.CallSessionID,
		"attempt_num":     attempt.AttemptNum,
		"held":            attempt.Held,
		"started_at":      attempt.StartedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("dial attempts: insert: %w", err)
	}
	return nil
}

// GetByCallControlID looks up the live attempt for a provider event.
func (r *DialAttemptRepository) GetByCallControlID(ctx context.Context, callControlID string) (*domain.DialAttempt, error) {
	q := `SELECT id, target_id, campaign_id, organization_id, agent_id, phone_number,
	       call_control_id, call_session_id, attempt_num, held, started_at
	  FROM dial_attempts WHERE call_control_id = $1`

	row := r.db.QueryRowxContext(ctx, q, callControlID)
	var rec attemptRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("dial attempts: get by call control id: %w", err)
	}

	attempt := rec.toDomain()
	return &attempt, nil
}

// AssignAgent binds an agent to an attempt that was dialed ahead of
// agent availability. Assignment clears the held flag.
func (r *DialAttemptRepository) AssignAgent(ctx context.Context, attemptID, agentID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE dial_attempts SET agent_id = $1, held = FALSE WHERE id = $2`, agentID, attemptID)
	if err != nil {
		return fmt.Errorf("dial attempts: assign agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dial attempts: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Hold flags an answered attempt as waiting for the next idle agent.
func (r *DialAttemptRepository) Hold(ctx context.Context, attemptID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE dial_attempts SET held = TRUE WHERE id = $1`, attemptID)
	if err != nil {
		return fmt.Errorf("dial attempts: hold: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dial attempts: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// NextHeld returns the oldest held attempt still lacking an agent.
func (r *DialAttemptRepository) NextHeld(ctx context.Context, campaignID uuid.UUID) (*domain.DialAttempt, error) {
	q := `SELECT id, target_id, campaign_id, organization_id, agent_id, phone_number,
	       call_control_id, call_session_id, attempt_num, held, started_at
	  FROM dial_attempts
	 WHERE campaign_id = $1 AND held = TRUE AND agent_id IS NULL
	 ORDER BY started_at ASC LIMIT 1`

	row := r.db.QueryRowxContext(ctx, q, campaignID)
	var rec attemptRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("dial attempts: next held: %w", err)
	}

	attempt := rec.toDomain()
	return &attempt, nil
}

// Resolve removes the attempt from the live table once its terminal
// event has been handled.
func (r *DialAttemptRepository) Resolve(ctx context.Context, attemptID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dial_attempts WHERE id = $1`, attemptID)
	if err != nil {
		return fmt.Errorf("dial attempts: resolve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dial attempts: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type attemptRecord struct {
	ID             uuid.UUID     `db:"id"`
	TargetID       uuid.UUID     `db:"target_id"`
	CampaignID     uuid.UUID     `db:"campaign_id"`
	OrganizationID uuid.UUID     `db:"organization_id"`
	AgentID        uuid.NullUUID `db:"agent_id"`
	PhoneNumber    string        `db:"phone_number"`
	CallControlID  string        `db:"call_control_id"`
	CallSessionID  string        `db:"call_session_id"`
	AttemptNum     int           `db:"attempt_num"`
	Held           bool          `db:"held"`
	StartedAt      time.Time     `db:"started_at"`
}

func (r attemptRecord) toDomain() domain.DialAttempt {
	attempt := domain.DialAttempt{
		ID:             r.ID,
		TargetID:       r.TargetID,
		CampaignID:     r.CampaignID,
		OrganizationID: r.OrganizationID,
		PhoneNumber:    r.PhoneNumber,
		CallControlID:  r.CallControlID,
		CallSessionID:  r.CallSessionID,
		AttemptNum:     r.AttemptNum,
		Held:           r.Held,
		StartedAt:      r.StartedAt,
	}
	if r.AgentID.Valid {
		id := r.AgentID.UUID
		attempt.AgentID = &id
	}
	return attempt
}
