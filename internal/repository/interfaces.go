package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository reads and transitions dialing campaigns. Campaign
// creation and editing happen outside the engine.
type CampaignRepository interface {
	GetForOrganization(ctx context.Context, id, organizationID uuid.UUID) (*domain.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
}

// TargetRecordRepository is the durable call record store. Claim is an
// atomic pending-to-queued transition so that concurrent queue starts
// never double-dispatch the same record.
type TargetRecordRepository interface {
	FetchPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.TargetRecord, error)
	Claim(ctx context.Context, targetID uuid.UUID) (bool, error)
	SetStatus(ctx context.Context, targetID uuid.UUID, status domain.TargetStatus, meta AttemptMeta) error
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[domain.TargetStatus]int64, error)
	RevertStaleDialing(ctx context.Context, olderThan time.Time) (int64, error)
}

// AgentRepository tracks agent availability. Reserve succeeds only when
// the agent is still idle, so two concurrent dispatches never pair the
// same agent with two different targets.
type AgentRepository interface {
	ListIdle(ctx context.Context, campaignID uuid.UUID) ([]domain.Agent, error)
	Reserve(ctx context.Context, agentID uuid.UUID) (bool, error)
	Release(ctx context.Context, agentID uuid.UUID) error
	SetOffline(ctx context.Context, agentID uuid.UUID) error
}

// DialAttemptRepository persists in-flight dial attempts, keyed by the
// provider call-control id for async event lookups. Hold flags an
// answered attempt as waiting for an agent; NextHeld returns the
// oldest such attempt so a freed agent can pick it up.
type DialAttemptRepository interface {
	Create(ctx context.Context, attempt *domain.DialAttempt) error
	GetByCallControlID(ctx context.Context, callControlID string) (*domain.DialAttempt, error)
	AssignAgent(ctx context.Context, attemptID, agentID uuid.UUID) error
	Hold(ctx context.Context, attemptID uuid.UUID) error
	NextHeld(ctx context.Context, campaignID uuid.UUID) (*domain.DialAttempt, error)
	Resolve(ctx context.Context, attemptID uuid.UUID) error
}

// DNCRepository answers do-not-call lookups for the compliance gate.
type DNCRepository interface {
	Contains(ctx context.Context, phoneNumber string) (bool, error)
}

// AttemptHistoryStore keeps resolved dial attempts for observability.
type AttemptHistoryStore interface {
	Append(ctx context.Context, record domain.AttemptHistory) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.AttemptHistory, []byte, error)
}

// AttemptMeta carries per-attempt bookkeeping written alongside a
// target status transition.
type AttemptMeta struct {
	AttemptCount  int
	LastAttemptAt *time.Time
	LastError     *string
}
