package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
)

// Audit event types emitted by the dialer engine.
const (
	AuditQueueStarted  = "queue_started"
	AuditQueuePaused   = "queue_paused"
	AuditQueueStopped  = "queue_stopped"
	AuditAMDDetected   = "amd_detected"
	AuditCallInitiated = "call_initiated"
	AuditCallAnswered  = "call_answered"
	AuditCallEnded     = "call_ended"
)

// AuditEvent is the structured notification written to the audit sink
// on every engine state transition.
type AuditEvent struct {
	ID             uuid.UUID      `json:"id"`
	Type           string         `json:"type"`
	CampaignID     uuid.UUID      `json:"campaign_id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	ActorID        uuid.UUID      `json:"actor_id"`
	TargetID       uuid.UUID      `json:"target_id,omitempty"`
	CallControlID  string         `json:"call_control_id,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Telephony event types delivered by the call-control provider.
const (
	EventAnswered = "answered"
	EventAMD      = "amd"
	EventEnded    = "ended"
)

// TelephonyEventMessage is an asynchronous provider event re-published
// onto the events topic by the webhook (or the mock provider) and
// consumed by the event worker. Events arrive out of order and may be
// duplicated; handlers must absorb both.
type TelephonyEventMessage struct {
	Type          string           `json:"type"`
	CallControlID string           `json:"call_control_id"`
	CallSessionID string           `json:"call_session_id"`
	Detection     domain.AMDResult `json:"detection,omitempty"`
	Outcome       string           `json:"outcome,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
