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

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// GetForOrganization fetches a campaign scoped to its owning organization.
func (r *CampaignRepository) GetForOrganization(ctx context.Context, id, organizationID uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT id, organization_id, name, caller_id, time_zone, status,
	       dial_ratio, max_concurrent_dials,
	       created_at, updated_at, started_at, stopped_at
	  FROM campaigns WHERE id = $1 AND organization_id = $2`

	row := r.db.QueryRowxContext(ctx, q, id, organizationID)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()

	windows, err := r.listCallingHours(ctx, id)
	if err != nil {
		return nil, err
	}
	campaign.CallingHours = windows

	return &campaign, nil
}

// UpdateStatus transitions the campaign status. The started/stopped
// timestamps follow the status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	q := `UPDATE campaigns SET
		status = $1,
		updated_at = NOW(),
		started_at = CASE WHEN $1 = 'active' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		stopped_at = CASE WHEN $1 IN ('stopped', 'completed') THEN NOW() ELSE stopped_at END
	 WHERE id = $2`

	res, err := r.db.ExecContext(ctx, q, status, id)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *CampaignRepository) listCallingHours(ctx context.Context, campaignID uuid.UUID) ([]domain.CallingWindow, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT day_of_week, start_minute, end_minute
		FROM campaign_calling_hours WHERE campaign_id = $1 ORDER BY day_of_week, start_minute`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list calling hours: %w", err)
	}
	defer rows.Close()

	var windows []domain.CallingWindow
	for rows.Next() {
		var day, start, end int
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, fmt.Errorf("campaign repo: scan calling hours: %w", err)
		}
		windows = append(windows, domain.CallingWindow{
			DayOfWeek: time.Weekday(day),
			Start:     time.Date(0, 1, 1, start/60, start%60, 0, 0, time.UTC),
			End:       time.Date(0, 1, 1, end/60, end%60, 0, 0, time.UTC),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: calling hours rows err: %w", err)
	}
	return windows, nil
}

type campaignRecord struct {
	ID                 uuid.UUID      `db:"id"`
	OrganizationID     uuid.UUID      `db:"organization_id"`
	Name               string         `db:"name"`
	CallerID           sql.NullString `db:"caller_id"`
	TimeZone           string         `db:"time_zone"`
	Status             string         `db:"status"`
	DialRatio          float64        `db:"dial_ratio"`
	MaxConcurrentDials int            `db:"max_concurrent_dials"`
	CreatedAt          sql.NullTime   `db:"created_at"`
	UpdatedAt          sql.NullTime   `db:"updated_at"`
	StartedAt          sql.NullTime   `db:"started_at"`
	StoppedAt          sql.NullTime   `db:"stopped_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		CallerID:       r.CallerID.String,
		TimeZone:       r.TimeZone,
		Status:         domain.CampaignStatus(r.Status),
		Pacing: domain.PacingConfig{
			DialRatio:          r.DialRatio,
			MaxConcurrentDials: r.MaxConcurrentDials,
		},
	}
	if r.CreatedAt.Valid {
		campaign.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		campaign.UpdatedAt = r.UpdatedAt.Time
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		campaign.StartedAt = &t
	}
	if r.StoppedAt.Valid {
		t := r.StoppedAt.Time
		campaign.StoppedAt = &t
	}
	return campaign
}
