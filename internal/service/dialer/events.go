package dialer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

// HandleAnswered records that the callee picked up. The agent bridge is
// deferred until the AMD verdict arrives. Unknown call-control ids are
// absorbed: the attempt may already be resolved by an earlier terminal
// event.
func (c *Controller) HandleAnswered(ctx context.Context, callControlID string) {
	attempt, err := c.attempts.GetByCallControlID(ctx, callControlID)
	if err != nil {
		c.absorbLookup(callControlID, "answered", err)
		return
	}

	now := time.Now().UTC()
	meta := repository.AttemptMeta{AttemptCount: attempt.AttemptNum, LastAttemptAt: &now}
	if err := c.targets.SetStatus(ctx, attempt.TargetID, domain.TargetStatusAnswered, meta); err != nil {
		c.logger.Error("dialer: mark target answered", zap.Error(err), zap.String("call_control_id", callControlID))
	}

	c.publishAudit(ctx, queue.AuditEvent{
		Type:           queue.AuditCallAnswered,
		CampaignID:     attempt.CampaignID,
		OrganizationID: attempt.OrganizationID,
		TargetID:       attempt.TargetID,
		CallControlID:  callControlID,
	})
}

// HandleAMD reacts to the provider's answering-machine verdict. Human
// and not_sure verdicts route the call toward an agent; machine verdicts
// terminate the call without ever touching the agent pool.
func (c *Controller) HandleAMD(ctx context.Context, callControlID string, detection domain.AMDResult) {
	attempt, err := c.attempts.GetByCallControlID(ctx, callControlID)
	if err != nil {
		c.absorbLookup(callControlID, "amd", err)
		return
	}

	c.publishAudit(ctx, queue.AuditEvent{
		Type:           queue.AuditAMDDetected,
		CampaignID:     attempt.CampaignID,
		OrganizationID: attempt.OrganizationID,
		TargetID:       attempt.TargetID,
		CallControlID:  callControlID,
		Detail:         map[string]any{"detection": string(detection)},
	})

	switch detection {
	case domain.AMDMachine:
		c.handleMachine(ctx, attempt)
	case domain.AMDHuman, domain.AMDNotSure:
		c.connectToAgent(ctx, attempt)
	default:
		// malformed verdict: never route it toward an agent
		c.logger.Warn("dialer: unknown amd detection, ignoring",
			zap.String("call_control_id", callControlID),
			zap.String("detection", string(detection)))
	}
}

// HandleEnded resolves the attempt for a terminated call: the dial slot
// is freed, the agent (if any) returns to idle, and the outcome lands on
// the target record and in attempt history. Duplicate or late events
// find no attempt and are absorbed.
func (c *Controller) HandleEnded(ctx context.Context, callControlID, outcome string) {
	attempt, err := c.attempts.GetByCallControlID(ctx, callControlID)
	if err != nil {
		c.absorbLookup(callControlID, "ended", err)
		return
	}

	status := targetStatusForOutcome(outcome)
	now := time.Now().UTC()
	meta := repository.AttemptMeta{AttemptCount: attempt.AttemptNum, LastAttemptAt: &now}
	if status == domain.TargetStatusFailed {
		reason := "call ended: " + outcome
		meta.LastError = &reason
	}
	if err := c.targets.SetStatus(ctx, attempt.TargetID, status, meta); err != nil {
		c.logger.Error("dialer: record call outcome", zap.Error(err), zap.String("call_control_id", callControlID))
	}

	c.resolveAttempt(ctx, attempt, outcome)

	c.publishAudit(ctx, queue.AuditEvent{
		Type:           queue.AuditCallEnded,
		CampaignID:     attempt.CampaignID,
		OrganizationID: attempt.OrganizationID,
		TargetID:       attempt.TargetID,
		CallControlID:  callControlID,
		Detail:         map[string]any{"outcome": outcome},
	})
}

// handleMachine hangs up (or diverts to voicemail) and resolves the
// attempt immediately so the slot and agent free up without waiting for
// the ended event. The later ended event then finds no attempt and is
// absorbed as a duplicate.
func (c *Controller) handleMachine(ctx context.Context, attempt *domain.DialAttempt) {
	if err := c.gateway.Hangup(ctx, attempt.CallControlID); err != nil {
		c.logger.Warn("dialer: hangup machine-answered call",
			zap.Error(err),
			zap.String("call_control_id", attempt.CallControlID))
	}

	now := time.Now().UTC()
	meta := repository.AttemptMeta{AttemptCount: attempt.AttemptNum, LastAttemptAt: &now}
	if err := c.targets.SetStatus(ctx, attempt.TargetID, domain.TargetStatusMachine, meta); err != nil {
		c.logger.Error("dialer: mark target machine", zap.Error(err), zap.String("target_id", attempt.TargetID.String()))
	}

	c.resolveAttempt(ctx, attempt, "machine")
}

// connectToAgent bridges the live call to its reserved agent, or pulls a
// fresh idle agent when the attempt was an overdial. With no agent
// available the overflow policy decides between holding the call and
// sending it to voicemail.
func (c *Controller) connectToAgent(ctx context.Context, attempt *domain.DialAttempt) {
	agentID := attempt.AgentID
	if agentID == nil {
		id, ok := c.claimIdleAgent(ctx, attempt.CampaignID)
		if !ok {
			c.handleOverflow(ctx, attempt)
			return
		}
		agentID = &id
		if err := c.attempts.AssignAgent(ctx, attempt.ID, id); err != nil {
			c.logger.Error("dialer: assign agent to attempt", zap.Error(err), zap.String("attempt_id", attempt.ID.String()))
		}
	}

	if err := c.gateway.Bridge(ctx, attempt.CallControlID, *agentID); err != nil {
		c.logger.Error("dialer: bridge call to agent",
			zap.Error(err),
			zap.String("call_control_id", attempt.CallControlID),
			zap.String("agent_id", agentID.String()))
	}
}

func (c *Controller) claimIdleAgent(ctx context.Context, campaignID uuid.UUID) (uuid.UUID, bool) {
	idle, err := c.agents.ListIdle(ctx, campaignID)
	if err != nil {
		c.logger.Error("dialer: list idle agents for overdial", zap.Error(err))
		return uuid.Nil, false
	}
	for _, agent := range idle {
		ok, err := c.agents.Reserve(ctx, agent.ID)
		if err != nil {
			c.logger.Warn("dialer: reserve agent for overdial", zap.Error(err), zap.String("agent_id", agent.ID.String()))
			continue
		}
		if ok {
			return agent.ID, true
		}
	}
	return uuid.Nil, false
}

func (c *Controller) handleOverflow(ctx context.Context, attempt *domain.DialAttempt) {
	c.logger.Info("dialer: no idle agent for answered call",
		zap.String("call_control_id", attempt.CallControlID),
		zap.String("policy", string(c.cfg.Overflow)))

	if c.cfg.Overflow == OverflowVoicemail {
		if err := c.gateway.Hangup(ctx, attempt.CallControlID); err != nil {
			c.logger.Warn("dialer: divert overflow call", zap.Error(err), zap.String("call_control_id", attempt.CallControlID))
		}
		now := time.Now().UTC()
		meta := repository.AttemptMeta{AttemptCount: attempt.AttemptNum, LastAttemptAt: &now}
		if err := c.targets.SetStatus(ctx, attempt.TargetID, domain.TargetStatusNoAnswer, meta); err != nil {
			c.logger.Error("dialer: mark overflow target", zap.Error(err), zap.String("target_id", attempt.TargetID.String()))
		}
		c.resolveAttempt(ctx, attempt, "overflow_voicemail")
		return
	}

	// hold: the call stays up; flag the attempt so the next agent
	// release bridges it
	if err := c.attempts.Hold(ctx, attempt.ID); err != nil {
		c.logger.Error("dialer: hold answered call", zap.Error(err), zap.String("attempt_id", attempt.ID.String()))
	}
}

// bridgeNextHeld connects the oldest held call once an agent has
// returned to idle. Losing the agent to a concurrent dispatch leaves
// the attempt held for the next release.
func (c *Controller) bridgeNextHeld(ctx context.Context, campaignID uuid.UUID) {
	held, err := c.attempts.NextHeld(ctx, campaignID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			c.logger.Error("dialer: lookup held attempt", zap.Error(err), zap.String("campaign_id", campaignID.String()))
		}
		return
	}
	c.connectToAgent(ctx, held)
}

// resolveAttempt removes the in-flight attempt, frees its dial slot and
// agent, and appends the durable history row.
func (c *Controller) resolveAttempt(ctx context.Context, attempt *domain.DialAttempt, outcome string) {
	if err := c.attempts.Resolve(ctx, attempt.ID); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			c.logger.Error("dialer: resolve attempt", zap.Error(err), zap.String("attempt_id", attempt.ID.String()))
		}
		// already resolved by a competing event
		return
	}

	if err := c.slots.Release(ctx, attempt.CampaignID); err != nil {
		c.logger.Warn("dialer: release dial slot", zap.Error(err), zap.String("campaign_id", attempt.CampaignID.String()))
	}

	if attempt.AgentID != nil {
		if err := c.agents.Release(ctx, *attempt.AgentID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			c.logger.Warn("dialer: release agent", zap.Error(err), zap.String("agent_id", attempt.AgentID.String()))
		}
		c.bridgeNextHeld(ctx, attempt.CampaignID)
	}

	record := domain.AttemptHistory{
		ID:            attempt.ID,
		TargetID:      attempt.TargetID,
		CampaignID:    attempt.CampaignID,
		AgentID:       attempt.AgentID,
		PhoneNumber:   attempt.PhoneNumber,
		CallControlID: attempt.CallControlID,
		AttemptNum:    attempt.AttemptNum,
		Outcome:       outcome,
		StartedAt:     attempt.StartedAt,
		ResolvedAt:    time.Now().UTC(),
	}
	if err := c.history.Append(ctx, record); err != nil {
		c.logger.Warn("dialer: append attempt history", zap.Error(err), zap.String("attempt_id", attempt.ID.String()))
	}
}

func (c *Controller) absorbLookup(callControlID, event string, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		// duplicate or out-of-order event for an already-resolved call
		c.logger.Debug("dialer: event for unknown call",
			zap.String("event", event),
			zap.String("call_control_id", callControlID))
		return
	}
	c.logger.Error("dialer: lookup attempt for event",
		zap.Error(err),
		zap.String("event", event),
		zap.String("call_control_id", callControlID))
}

func targetStatusForOutcome(outcome string) domain.TargetStatus {
	switch outcome {
	case "completed":
		return domain.TargetStatusCompleted
	case "no_answer", "busy":
		return domain.TargetStatusNoAnswer
	case "machine":
		return domain.TargetStatusMachine
	default:
		return domain.TargetStatusFailed
	}
}
