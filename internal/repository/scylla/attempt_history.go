package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
)

// AttemptHistoryStore keeps resolved dial attempts in Scylla, bucketed
// by day for bounded partitions.
type AttemptHistoryStore struct {
	session *gocql.Session
}

// NewAttemptHistoryStore creates a new store.
func NewAttemptHistoryStore(session *gocql.Session) *AttemptHistoryStore {
	return &AttemptHistoryStore{session: session}
}

// Append writes a resolved attempt.
func (s *AttemptHistoryStore) Append(ctx context.Context, record domain.AttemptHistory) error {
	bucket := bucketDate(record.ResolvedAt)

	var agentID *string
	if record.AgentID != nil {
		v := record.AgentID.String()
		agentID = &v
	}

	if err := s.session.Query(`INSERT INTO attempts_by_campaign (campaign_id, bucket, attempt_id, target_id, agent_id, phone_number, call_control_id, attempt_num, outcome, started_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), bucket, record.ID.String(), record.TargetID.String(), agentID,
		record.PhoneNumber, record.CallControlID, record.AttemptNum, record.Outcome,
		record.StartedAt, record.ResolvedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt history: insert: %w", err)
	}

	return nil
}

// ListByCampaign lists resolved attempts for a campaign with pagination.
func (s *AttemptHistoryStore) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.AttemptHistory, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT attempt_id, target_id, agent_id, phone_number, call_control_id, attempt_num, outcome, started_at, resolved_at
		FROM attempts_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	records := make([]domain.AttemptHistory, 0, limit)

	var (
		attemptIDStr  string
		targetIDStr   string
		agentIDStr    *string
		phone         string
		callControlID string
		attemptNum    int
		outcome       string
		started       time.Time
		resolved      time.Time
	)

	for iter.Scan(&attemptIDStr, &targetIDStr, &agentIDStr, &phone, &callControlID, &attemptNum, &outcome, &started, &resolved) {
		attemptID, err := uuid.Parse(attemptIDStr)
		if err != nil {
			continue
		}
		targetID, err := uuid.Parse(targetIDStr)
		if err != nil {
			continue
		}

		record := domain.AttemptHistory{
			ID:            attemptID,
			TargetID:      targetID,
			CampaignID:    campaignID,
			PhoneNumber:   phone,
			CallControlID: callControlID,
			AttemptNum:    attemptNum,
			Outcome:       outcome,
			StartedAt:     started,
			ResolvedAt:    resolved,
		}
		if agentIDStr != nil {
			if agentID, err := uuid.Parse(*agentIDStr); err == nil {
				record.AgentID = &agentID
			}
		}
		records = append(records, record)
		agentIDStr = nil
	}

	next := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt history: list: %w", err)
	}

	return records, next, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
