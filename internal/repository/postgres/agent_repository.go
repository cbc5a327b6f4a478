package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/repository"
)

// AgentRepository tracks agent availability in PostgreSQL.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs the repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// ListIdle returns agents currently idle for the campaign.
func (r *AgentRepository) ListIdle(ctx context.Context, campaignID uuid.UUID) ([]domain.Agent, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, campaign_id, extension, state, updated_at
		FROM agents WHERE campaign_id = $1 AND state = 'idle' ORDER BY updated_at ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("agents: list idle: %w", err)
	}
	defer rows.Close()

	var results []domain.Agent
	for rows.Next() {
		var rec agentRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("agents: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agents: rows err: %w", err)
	}
	return results, nil
}

// Reserve flips an agent from idle to on_call. The state guard makes
// the reservation atomic; a losing racer gets false, not an error.
func (r *AgentRepository) Reserve(ctx context.Context, agentID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE agents SET state = 'on_call', updated_at = NOW()
		WHERE id = $1 AND state = 'idle'`, agentID)
	if err != nil {
		return false, fmt.Errorf("agents: reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("agents: rows affected: %w", err)
	}
	return n == 1, nil
}

// Release returns an on-call agent to the idle pool.
func (r *AgentRepository) Release(ctx context.Context, agentID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE agents SET state = 'idle', updated_at = NOW()
		WHERE id = $1 AND state = 'on_call'`, agentID)
	if err != nil {
		return fmt.Errorf("agents: release: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("agents: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetOffline removes the agent from dialer rotation.
func (r *AgentRepository) SetOffline(ctx context.Context, agentID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE agents SET state = 'offline', updated_at = NOW()
		WHERE id = $1`, agentID); err != nil {
		return fmt.Errorf("agents: set offline: %w", err)
	}
	return nil
}

type agentRecord struct {
	ID         uuid.UUID `db:"id"`
	CampaignID uuid.UUID `db:"campaign_id"`
	Extension  string    `db:"extension"`
	State      string    `db:"state"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r agentRecord) toDomain() domain.Agent {
	return domain.Agent{
		ID:         r.ID,
		CampaignID: r.CampaignID,
		Extension:  r.Extension,
		State:      domain.AgentState(r.State),
		UpdatedAt:  r.UpdatedAt,
	}
}
