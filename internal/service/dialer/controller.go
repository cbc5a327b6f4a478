package dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository"
	"github.com/acme/predictive-dialer/internal/service/compliance"
	"github.com/acme/predictive-dialer/internal/telephony"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
	"github.com/acme/predictive-dialer/pkg/logger"
)

// ComplianceGate is consulted once per dial attempt, before the call
// reaches the telephony gateway.
type ComplianceGate interface {
	Check(ctx context.Context, target *domain.TargetRecord, cc compliance.CallContext) (domain.Decision, error)
}

// AuditSink receives structured events for every engine state transition.
type AuditSink interface {
	Publish(ctx context.Context, event queue.AuditEvent) error
}

// SlotLimiter enforces the per-campaign concurrent-dial ceiling across
// worker instances.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID) error
}

// OverflowPolicy decides what happens to an answered call when no agent
// is idle.
type OverflowPolicy string

const (
	// OverflowHold keeps the call waiting for the next agent to free up.
	OverflowHold OverflowPolicy = "hold"
	// OverflowVoicemail diverts the call to a recorded message.
	OverflowVoicemail OverflowPolicy = "voicemail"
)

// Config carries controller defaults; campaigns may override pacing.
type Config struct {
	Pacing          PacingPolicy
	DialTimeout     time.Duration
	DefaultCallerID string
	Overflow        OverflowPolicy
}

// StartResult is the operator-facing outcome of a queue start.
type StartResult struct {
	Started bool `json:"started"`
	Queued  int  `json:"queued"`
}

// Controller owns the per-campaign dialing state machine: it pops
// pending targets, gates them through compliance, pairs them with idle
// agents, and dispatches dial requests. All queue state lives in the
// stores, so any number of controller instances can run concurrently.
type Controller struct {
	campaigns repository.CampaignRepository
	targets   repository.TargetRecordRepository
	agents    repository.AgentRepository
	attempts  repository.DialAttemptRepository
	history   repository.AttemptHistoryStore
	gate      ComplianceGate
	gateway   telephony.Gateway
	audit     AuditSink
	slots     SlotLimiter
	cfg       Config
	logger    *logger.Logger
}

// NewController wires the controller with its collaborators.
func NewController(
	campaigns repository.CampaignRepository,
	targets repository.TargetRecordRepository,
	agents repository.AgentRepository,
	attempts repository.DialAttemptRepository,
	history repository.AttemptHistoryStore,
	gate ComplianceGate,
	gateway telephony.Gateway,
	audit AuditSink,
	slots SlotLimiter,
	cfg Config,
	lg *logger.Logger,
) *Controller {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowHold
	}
	return &Controller{
		campaigns: campaigns,
		targets:   targets,
		agents:    agents,
		attempts:  attempts,
		history:   history,
		gate:      gate,
		gateway:   gateway,
		audit:     audit,
		slots:     slots,
		cfg:       cfg,
		logger:    lg,
	}
}

// StartQueue starts (or resumes) dialing for a campaign. It re-derives
// queue state from the stores, so a resume after pause behaves exactly
// like a cold start. Per-target failures never abort the loop; only an
// invalid campaign/organization reference is a hard error.
func (c *Controller) StartQueue(ctx context.Context, campaignID, organizationID, actorID uuid.UUID) (StartResult, error) {
	if campaignID == uuid.Nil || organizationID == uuid.Nil {
		return StartResult{}, fmt.Errorf("%w: campaign and organization ids are required", apperrors.ErrValidation)
	}

	tracer := otel.Tracer("dialer.controller")
	ctx, span := tracer.Start(ctx, "dialer.start_queue", trace.WithAttributes(
		attribute.String("campaign.id", campaignID.String()),
		attribute.String("organization.id", organizationID.String()),
	))
	defer span.End()

	campaign, err := c.campaigns.GetForOrganization(ctx, campaignID, organizationID)
	if err != nil {
		span.RecordError(err)
		return StartResult{}, fmt.Errorf("dialer: lookup campaign: %w", err)
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return StartResult{}, fmt.Errorf("%w: cannot start completed campaign", apperrors.ErrValidation)
	}

	pending, err := c.targets.FetchPending(ctx, campaignID, 0)
	if err != nil {
		span.RecordError(err)
		return StartResult{}, fmt.Errorf("dialer: fetch pending targets: %w", err)
	}
	queued := len(pending)
	span.SetAttributes(attribute.Int("targets.pending", queued))
	if queued == 0 {
		return StartResult{Started: false, Queued: 0}, nil
	}

	idle, err := c.agents.ListIdle(ctx, campaignID)
	if err != nil {
		span.RecordError(err)
		return StartResult{}, fmt.Errorf("dialer: list idle agents: %w", err)
	}
	if len(idle) == 0 {
		c.logger.Info("dialer: no idle agents, nothing dialed",
			zap.String("campaign_id", campaignID.String()),
			zap.Int("pending", queued))
		return StartResult{Started: false, Queued: queued}, nil
	}

	if err := c.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignStatusActive); err != nil {
		span.RecordError(err)
		return StartResult{}, fmt.Errorf("dialer: activate campaign: %w", err)
	}

	reserved := c.reserveAgents(ctx, idle, queued)
	if len(reserved) == 0 {
		// every reservation lost to a concurrent dispatcher
		return StartResult{Started: false, Queued: queued}, nil
	}

	budget := c.pacingFor(campaign).Budget(len(reserved), queued)
	span.SetAttributes(attribute.Int("agents.reserved", len(reserved)), attribute.Int("dial.budget", budget))

	issued := c.dispatch(ctx, campaign, pending, reserved, budget)

	// agents reserved beyond the attempts actually issued go back to idle
	for i := issued; i < len(reserved); i++ {
		if err := c.agents.Release(ctx, reserved[i].ID); err != nil {
			c.logger.Warn("dialer: release unused agent", zap.Error(err), zap.String("agent_id", reserved[i].ID.String()))
		}
	}

	// audited even when compliance blocks every candidate: the campaign
	// still transitioned to active
	c.publishAudit(ctx, queue.AuditEvent{
		Type:           queue.AuditQueueStarted,
		CampaignID:     campaign.ID,
		OrganizationID: campaign.OrganizationID,
		ActorID:        actorID,
		Detail:         map[string]any{"queued": queued, "dials_issued": issued},
	})

	c.logger.Info("dialer: queue start finished",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("queued", queued),
		zap.Int("issued", issued))

	return StartResult{Started: issued > 0, Queued: queued}, nil
}

// PauseQueue stops new dispatch for a campaign. In-flight dial attempts
// resolve naturally. Pausing an already-paused campaign is a no-op.
func (c *Controller) PauseQueue(ctx context.Context, campaignID, organizationID, actorID uuid.UUID) error {
	campaign, err := c.campaigns.GetForOrganization(ctx, campaignID, organizationID)
	if err != nil {
		return fmt.Errorf("dialer: lookup campaign: %w", err)
	}
	if campaign.Status == domain.CampaignStatusPaused {
		return nil
	}

	if err := c.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignStatusPaused); err != nil {
		return fmt.Errorf("dialer: pause campaign: %w", err)
	}

	c.publishAudit(ctx, queue.AuditEvent{
		Type:           queue.AuditQueuePaused,
		CampaignID:     campaign.ID,
		OrganizationID: campaign.OrganizationID,
		ActorID:        actorID,
	})
	return nil
}

// StopQueue terminally stops a campaign. Like pause, in-flight attempts
// are left to resolve.
func (c *Controller) StopQueue(ctx context.Context, campaignID, organizationID, actorID uuid.UUID) error {
	campaign, err := c.campaigns.GetForOrganization(ctx, campaignID, organizationID)
	if err != nil {
		return fmt.Errorf("dialer: lookup campaign: %w", err)
	}
	if campaign.Status == domain.CampaignStatusStopped {
		return nil
	}

	if err := c.campaigns.UpdateStatus(ctx, campaignID, domain.CampaignStatusStopped); err != nil {
		return fmt.Errorf("dialer: stop campaign: %w", err)
	}

	c.publishAudit(ctx, queue.AuditEvent{
		Type:           queue.AuditQueueStopped,
		CampaignID:     campaign.ID,
		OrganizationID: campaign.OrganizationID,
		ActorID:        actorID,
	})
	return nil
}

// QueueStatus reports the campaign lifecycle state together with
// per-status target counts for the operator dashboard.
type QueueStatus struct {
	CampaignID uuid.UUID                     `json:"campaign_id"`
	Status     domain.CampaignStatus         `json:"status"`
	Targets    map[domain.TargetStatus]int64 `json:"targets"`
}

// Status returns the current dialer state for a campaign.
func (c *Controller) Status(ctx context.Context, campaignID, organizationID uuid.UUID) (*QueueStatus, error) {
	campaign, err := c.campaigns.GetForOrganization(ctx, campaignID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("dialer: lookup campaign: %w", err)
	}
	counts, err := c.targets.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("dialer: count targets: %w", err)
	}
	return &QueueStatus{CampaignID: campaign.ID, Status: campaign.Status, Targets: counts}, nil
}

func (c *Controller) reserveAgents(ctx context.Context, idle []domain.Agent, queued int) []domain.Agent {
	want := len(idle)
	if queued < want {
		want = queued
	}

	reserved := make([]domain.Agent, 0, want)
	for _, agent := range idle {
		if len(reserved) >= want {
			break
		}
		ok, err := c.agents.Reserve(ctx, agent.ID)
		if err != nil {
			c.logger.Warn("dialer: reserve agent", zap.Error(err), zap.String("agent_id", agent.ID.String()))
			continue
		}
		if !ok {
			// lost the race to another dispatcher
			continue
		}
		reserved = append(reserved, agent)
	}
	return reserved
}

func (c *Controller) dispatch(ctx context.Context, campaign *domain.Campaign, pending []domain.TargetRecord, reserved []domain.Agent, budget int) int {
	cc := compliance.CallContext{
		Now:      time.Now().UTC(),
		TimeZone: campaign.TimeZone,
		Windows:  campaign.CallingHours,
	}

	issued := 0
	for i := range pending {
		if issued >= budget {
			break
		}
		target := pending[i]

		claimed, err := c.targets.Claim(ctx, target.ID)
		if err != nil {
			c.logger.Warn("dialer: claim target", zap.Error(err), zap.String("target_id", target.ID.String()))
			continue
		}
		if !claimed {
			// another worker dispatched it
			continue
		}

		decision, err := c.gate.Check(ctx, &target, cc)
		if err != nil {
			c.logger.Error("dialer: compliance check", zap.Error(err), zap.String("target_id", target.ID.String()))
			c.failTarget(ctx, target, "compliance check failed")
			continue
		}
		if !decision.Allowed {
			c.logger.Info("dialer: target blocked",
				zap.String("target_id", target.ID.String()),
				zap.String("blocked_by", decision.BlockedBy))
			c.failTarget(ctx, target, decision.BlockedBy)
			continue
		}

		limit := c.pacingFor(campaign).MaxConcurrentDials
		ok, err := c.slots.Acquire(ctx, campaign.ID, limit)
		if err != nil {
			c.logger.Error("dialer: acquire dial slot", zap.Error(err))
			c.revertTarget(ctx, target)
			break
		}
		if !ok {
			// concurrent-dial ceiling reached
			c.revertTarget(ctx, target)
			break
		}

		session, err := c.placeCall(ctx, campaign, target)
		if err != nil {
			c.logger.Warn("dialer: place call failed",
				zap.Error(err),
				zap.String("target_id", target.ID.String()),
				zap.String("phone", target.PhoneNumber))
			if rerr := c.slots.Release(ctx, campaign.ID); rerr != nil {
				c.logger.Warn("dialer: release dial slot", zap.Error(rerr))
			}
			c.failTarget(ctx, target, "provider error: "+err.Error())
			continue
		}

		now := time.Now().UTC()
		meta := repository.AttemptMeta{AttemptCount: target.AttemptCount + 1, LastAttemptAt: &now}
		if err := c.targets.SetStatus(ctx, target.ID, domain.TargetStatusDialing, meta); err != nil {
			c.logger.Error("dialer: mark dialing", zap.Error(err), zap.String("target_id", target.ID.String()))
		}

		var agentID *uuid.UUID
		if issued < len(reserved) {
			id := reserved[issued].ID
			agentID = &id
		}

		attempt := &domain.DialAttempt{
			ID:             uuid.New(),
			TargetID:       target.ID,
			CampaignID:     campaign.ID,
			OrganizationID: campaign.OrganizationID,
			AgentID:        agentID,
			PhoneNumber:    target.PhoneNumber,
			CallControlID:  session.CallControlID,
			CallSessionID:  session.CallSessionID,
			AttemptNum:     target.AttemptCount + 1,
			StartedAt:      now,
		}
		if err := c.attempts.Create(ctx, attempt); err != nil {
			c.logger.Error("dialer: persist dial attempt", zap.Error(err), zap.String("target_id", target.ID.String()))
		}

		c.publishAudit(ctx, queue.AuditEvent{
			Type:           queue.AuditCallInitiated,
			CampaignID:     campaign.ID,
			OrganizationID: campaign.OrganizationID,
			TargetID:       target.ID,
			CallControlID:  session.CallControlID,
		})

		issued++
	}
	return issued
}

func (c *Controller) placeCall(ctx context.Context, campaign *domain.Campaign, target domain.TargetRecord) (telephony.Session, error) {
	from := campaign.CallerID
	if from == "" {
		from = c.cfg.DefaultCallerID
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	return c.gateway.PlaceCall(callCtx, from, target.PhoneNumber)
}

func (c *Controller) pacingFor(campaign *domain.Campaign) PacingPolicy {
	pacing := c.cfg.Pacing
	if campaign.Pacing.DialRatio > 0 {
		pacing.DialRatio = campaign.Pacing.DialRatio
	}
	if campaign.Pacing.MaxConcurrentDials > 0 {
		pacing.MaxConcurrentDials = campaign.Pacing.MaxConcurrentDials
	}
	return pacing
}

func (c *Controller) failTarget(ctx context.Context, target domain.TargetRecord, reason string) {
	now := time.Now().UTC()
	meta := repository.AttemptMeta{
		AttemptCount:  target.AttemptCount,
		LastAttemptAt: &now,
		LastError:     &reason,
	}
	if err := c.targets.SetStatus(ctx, target.ID, domain.TargetStatusFailed, meta); err != nil {
		c.logger.Error("dialer: mark target failed", zap.Error(err), zap.String("target_id", target.ID.String()))
	}
}

func (c *Controller) revertTarget(ctx context.Context, target domain.TargetRecord) {
	meta := repository.AttemptMeta{AttemptCount: target.AttemptCount}
	if err := c.targets.SetStatus(ctx, target.ID, domain.TargetStatusPending, meta); err != nil {
		c.logger.Error("dialer: revert target", zap.Error(err), zap.String("target_id", target.ID.String()))
	}
}

func (c *Controller) publishAudit(ctx context.Context, event queue.AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := c.audit.Publish(ctx, event); err != nil {
		c.logger.Warn("dialer: publish audit event", zap.Error(err), zap.String("type", event.Type))
	}
}
