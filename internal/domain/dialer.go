package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a dialing campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusStopped   CampaignStatus = "stopped"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// TargetStatus enumerates lifecycle stages for a single call target.
// A record moves forward through these states and never returns to
// pending once dialed, except through the stale-dial sweep.
type TargetStatus string

const (
	TargetStatusPending   TargetStatus = "pending"
	TargetStatusQueued    TargetStatus = "queued"
	TargetStatusDialing   TargetStatus = "dialing"
	TargetStatusAnswered  TargetStatus = "answered"
	TargetStatusMachine   TargetStatus = "machine"
	TargetStatusNoAnswer  TargetStatus = "no_answer"
	TargetStatusFailed    TargetStatus = "failed"
	TargetStatusCompleted TargetStatus = "completed"
)

// AgentState enumerates agent availability states.
type AgentState string

const (
	AgentStateIdle    AgentState = "idle"
	AgentStateOnCall  AgentState = "on_call"
	AgentStateOffline AgentState = "offline"
)

// AMDResult is the provider's answering-machine-detection verdict.
type AMDResult string

const (
	AMDHuman   AMDResult = "human"
	AMDMachine AMDResult = "machine"
	AMDNotSure AMDResult = "not_sure"
)

// Campaign models a predictive dialing campaign.
type Campaign struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	CallerID       string
	TimeZone       string
	Status         CampaignStatus
	Pacing         PacingConfig
	CallingHours   []CallingWindow
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	StoppedAt      *time.Time
}

// PacingConfig controls how aggressively the dialer overdials
// relative to idle agents.
type PacingConfig struct {
	DialRatio          float64
	MaxConcurrentDials int
}

// CallingWindow captures an allowed calling window per day of week,
// evaluated in the campaign time zone.
type CallingWindow struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// TargetRecord is a dialable phone number within a campaign.
type TargetRecord struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	PhoneNumber   string
	Status        TargetStatus
	AttemptCount  int
	LastAttemptAt *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Agent is a human operator assigned to a campaign. An agent is
// on_call for at most one call at a time.
type Agent struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	Extension  string
	State      AgentState
	UpdatedAt  time.Time
}

// DialAttempt binds a target record to a live provider call session.
// It exists from dispatch until the terminal event for the call is
// received, after which it is resolved into history. A held attempt is
// an answered call waiting for the next idle agent.
type DialAttempt struct {
	ID             uuid.UUID
	TargetID       uuid.UUID
	CampaignID     uuid.UUID
	OrganizationID uuid.UUID
	AgentID        *uuid.UUID
	PhoneNumber    string
	CallControlID  string
	CallSessionID  string
	AttemptNum     int
	Held           bool
	StartedAt      time.Time
}

// AttemptHistory is the durable record of a resolved dial attempt.
type AttemptHistory struct {
	ID            uuid.UUID
	TargetID      uuid.UUID
	CampaignID    uuid.UUID
	AgentID       *uuid.UUID
	PhoneNumber   string
	CallControlID string
	AttemptNum    int
	Outcome       string
	StartedAt     time.Time
	ResolvedAt    time.Time
}

// Decision is the outcome of a pre-dial compliance check. It is
// computed fresh for every attempt and never persisted.
type Decision struct {
	Allowed   bool
	Reason    string
	BlockedBy string
}
