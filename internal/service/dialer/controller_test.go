package dialer

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/service/compliance"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

type fixture struct {
	campaign  *domain.Campaign
	campaigns *fakeCampaignRepo
	targets   *fakeTargetRepo
	agents    *fakeAgentRepo
	attempts  *fakeAttemptRepo
	history   *fakeHistoryStore
	gateway   *fakeGateway
	audit     *fakeAudit
	slots     *fakeSlots
}

func newFixture(pendingTargets, idleAgents int) *fixture {
	campaign := &domain.Campaign{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Name:           "q3-renewals",
		CallerID:       "+15555550000",
		TimeZone:       "UTC",
		Status:         domain.CampaignStatusDraft,
	}

	var targets []*domain.TargetRecord
	for i := 0; i < pendingTargets; i++ {
		targets = append(targets, &domain.TargetRecord{
			ID:          uuid.New(),
			CampaignID:  campaign.ID,
			PhoneNumber: "+1555555" + uuid.New().String()[:4],
			Status:      domain.TargetStatusPending,
		})
	}

	var agents []*domain.Agent
	for i := 0; i < idleAgents; i++ {
		agents = append(agents, &domain.Agent{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			State:      domain.AgentStateIdle,
		})
	}

	return &fixture{
		campaign:  campaign,
		campaigns: newFakeCampaignRepo(campaign),
		targets:   newFakeTargetRepo(targets...),
		agents:    newFakeAgentRepo(agents...),
		attempts:  newFakeAttemptRepo(),
		history:   &fakeHistoryStore{},
		gateway:   &fakeGateway{},
		audit:     &fakeAudit{},
		slots:     newFakeSlots(),
	}
}

func (f *fixture) controller(gate ComplianceGate, cfg Config) *Controller {
	if cfg.Pacing.DialRatio == 0 {
		cfg.Pacing.DialRatio = 1.0
	}
	if cfg.Pacing.MaxConcurrentDials == 0 {
		cfg.Pacing.MaxConcurrentDials = 100
	}
	return NewController(
		f.campaigns, f.targets, f.agents, f.attempts, f.history,
		gate, f.gateway, f.audit, f.slots, cfg, testLogger(),
	)
}

func TestStartQueueDialsPendingTargets(t *testing.T) {
	f := newFixture(3, 3)
	ctrl := f.controller(allowAllGate{}, Config{})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Started {
		t.Fatal("expected queue to start")
	}
	if res.Queued != 3 {
		t.Fatalf("expected 3 queued, got %d", res.Queued)
	}
	if got := f.gateway.placedCount(); got != 3 {
		t.Fatalf("expected 3 placed calls, got %d", got)
	}
	if got := f.attempts.count(); got != 3 {
		t.Fatalf("expected 3 in-flight attempts, got %d", got)
	}
	if got := len(f.audit.byType(queue.AuditQueueStarted)); got != 1 {
		t.Fatalf("expected one queue_started event, got %d", got)
	}
	if got := len(f.audit.byType(queue.AuditCallInitiated)); got != 3 {
		t.Fatalf("expected 3 call_initiated events, got %d", got)
	}
}

func TestStartQueueRequiresValidIdentifiers(t *testing.T) {
	f := newFixture(1, 1)
	ctrl := f.controller(allowAllGate{}, Config{})

	if _, err := ctrl.StartQueue(context.Background(), uuid.Nil, f.campaign.OrganizationID, uuid.New()); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for nil campaign id, got %v", err)
	}
	if _, err := ctrl.StartQueue(context.Background(), f.campaign.ID, uuid.Nil, uuid.New()); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for nil organization id, got %v", err)
	}
}

func TestStartQueueUnknownCampaignFails(t *testing.T) {
	f := newFixture(1, 1)
	ctrl := f.controller(allowAllGate{}, Config{})

	if _, err := ctrl.StartQueue(context.Background(), uuid.New(), f.campaign.OrganizationID, uuid.New()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartQueueWrongOrganizationFails(t *testing.T) {
	f := newFixture(1, 1)
	ctrl := f.controller(allowAllGate{}, Config{})

	if _, err := ctrl.StartQueue(context.Background(), f.campaign.ID, uuid.New(), uuid.New()); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for foreign organization, got %v", err)
	}
	if got := f.gateway.placedCount(); got != 0 {
		t.Fatalf("expected no dials, got %d", got)
	}
}

func TestStartQueueEmptyCampaign(t *testing.T) {
	f := newFixture(0, 2)
	ctrl := f.controller(allowAllGate{}, Config{})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Started || res.Queued != 0 {
		t.Fatalf("expected {false, 0}, got %+v", res)
	}
}

func TestStartQueueNoIdleAgents(t *testing.T) {
	f := newFixture(5, 0)
	ctrl := f.controller(allowAllGate{}, Config{})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Started {
		t.Fatal("expected no dials without idle agents")
	}
	if res.Queued != 5 {
		t.Fatalf("expected 5 queued, got %d", res.Queued)
	}
	if got := f.gateway.placedCount(); got != 0 {
		t.Fatalf("expected 0 placed calls, got %d", got)
	}
}

func TestStartQueueBlockedTargetSkippedWithoutDial(t *testing.T) {
	f := newFixture(2, 2)
	blockedPhone := f.targets.targets[f.targets.order[0]].PhoneNumber
	gate := blockingGate{blocked: map[string]string{blockedPhone: compliance.BlockedByDoNotCall}}
	ctrl := f.controller(gate, Config{})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Started {
		t.Fatal("expected the clean target to dial")
	}
	if got := f.gateway.placedCount(); got != 1 {
		t.Fatalf("expected 1 placed call, got %d", got)
	}

	blocked := f.targets.get(f.targets.order[0])
	if blocked.Status != domain.TargetStatusFailed {
		t.Fatalf("expected blocked target failed, got %s", blocked.Status)
	}
	if blocked.LastError == nil || *blocked.LastError != compliance.BlockedByDoNotCall {
		t.Fatalf("expected last error %q, got %v", compliance.BlockedByDoNotCall, blocked.LastError)
	}
}

func TestStartQueueAllBlockedStillAuditsStart(t *testing.T) {
	f := newFixture(2, 1)
	blocked := map[string]string{
		f.targets.targets[f.targets.order[0]].PhoneNumber: compliance.BlockedByDoNotCall,
		f.targets.targets[f.targets.order[1]].PhoneNumber: compliance.BlockedByDoNotCall,
	}
	ctrl := f.controller(blockingGate{blocked: blocked}, Config{})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Started {
		t.Fatal("expected no dials with every target blocked")
	}
	if f.campaign.Status != domain.CampaignStatusActive {
		t.Fatalf("expected campaign active, got %s", f.campaign.Status)
	}

	events := f.audit.byType(queue.AuditQueueStarted)
	if len(events) != 1 {
		t.Fatalf("expected one queue_started event, got %d", len(events))
	}
	if got := events[0].Detail["dials_issued"]; got != 0 {
		t.Fatalf("expected dials_issued 0, got %v", got)
	}
}

func TestStartQueueProviderFailureMarksTargetAndContinues(t *testing.T) {
	f := newFixture(2, 2)
	badPhone := f.targets.targets[f.targets.order[0]].PhoneNumber
	f.gateway.failFor = map[string]error{badPhone: context.DeadlineExceeded}
	ctrl := f.controller(allowAllGate{}, Config{})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Started {
		t.Fatal("expected the second target to dial despite the first failing")
	}

	failed := f.targets.get(f.targets.order[0])
	if failed.Status != domain.TargetStatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
	// the failed dial must not leak its slot
	if got := f.slots.inUse(f.campaign.ID); got != 1 {
		t.Fatalf("expected 1 slot in use, got %d", got)
	}
}

func TestStartQueueRespectsConcurrentDialCeiling(t *testing.T) {
	f := newFixture(5, 5)
	ctrl := f.controller(allowAllGate{}, Config{Pacing: PacingPolicy{DialRatio: 1.0, MaxConcurrentDials: 2}})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Started {
		t.Fatal("expected queue to start")
	}
	if got := f.gateway.placedCount(); got != 2 {
		t.Fatalf("expected 2 placed calls at ceiling, got %d", got)
	}
	// agents reserved beyond the budget must return to idle
	idle, _ := f.agents.ListIdle(context.Background(), f.campaign.ID)
	if len(idle) != 3 {
		t.Fatalf("expected 3 agents back to idle, got %d", len(idle))
	}
}

func TestStartQueueOverdialsWithRatio(t *testing.T) {
	f := newFixture(6, 2)
	ctrl := f.controller(allowAllGate{}, Config{Pacing: PacingPolicy{DialRatio: 2.0, MaxConcurrentDials: 100}})

	_, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.gateway.placedCount(); got != 4 {
		t.Fatalf("expected 4 placed calls with ratio 2.0 and 2 agents, got %d", got)
	}

	// two attempts carry a reserved agent, the overdials carry none
	withAgent := 0
	f.attempts.mu.Lock()
	for _, a := range f.attempts.attempts {
		if a.AgentID != nil {
			withAgent++
		}
	}
	f.attempts.mu.Unlock()
	if withAgent != 2 {
		t.Fatalf("expected 2 attempts with reserved agents, got %d", withAgent)
	}
}

func TestStartQueueOneDialPerAgentAtRatioOne(t *testing.T) {
	f := newFixture(5, 2)
	ctrl := f.controller(allowAllGate{}, Config{Pacing: PacingPolicy{DialRatio: 1.0, MaxConcurrentDials: 100}})

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Started || res.Queued != 5 {
		t.Fatalf("expected {true, 5}, got %+v", res)
	}
	if got := f.gateway.placedCount(); got != 2 {
		t.Fatalf("expected 2 dial attempts for 2 agents, got %d", got)
	}

	counts, _ := f.targets.CountByStatus(context.Background(), f.campaign.ID)
	if counts[domain.TargetStatusPending] != 3 {
		t.Fatalf("expected 3 records still pending, got %d", counts[domain.TargetStatusPending])
	}
	if f.campaign.Status != domain.CampaignStatusActive {
		t.Fatalf("expected campaign active, got %s", f.campaign.Status)
	}
}

func TestConcurrentStartsDialExactlyOnce(t *testing.T) {
	f := newFixture(2, 1)
	ctrl := f.controller(allowAllGate{}, Config{})

	var wg sync.WaitGroup
	results := make([]StartResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New())
			if err != nil {
				t.Errorf("start %d failed: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if got := f.gateway.placedCount(); got != 1 {
		t.Fatalf("expected exactly 1 dial across concurrent starts, got %d", got)
	}
	started := 0
	for _, r := range results {
		if r.Started {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("expected exactly one start to report started, got %d", started)
	}
}

func TestPauseQueueIdempotent(t *testing.T) {
	f := newFixture(1, 1)
	ctrl := f.controller(allowAllGate{}, Config{})
	actor := uuid.New()

	if err := ctrl.PauseQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, actor); err != nil {
		t.Fatalf("first pause failed: %v", err)
	}
	if err := ctrl.PauseQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, actor); err != nil {
		t.Fatalf("second pause failed: %v", err)
	}
	if got := len(f.audit.byType(queue.AuditQueuePaused)); got != 1 {
		t.Fatalf("expected one queue_paused event, got %d", got)
	}
	if f.campaign.Status != domain.CampaignStatusPaused {
		t.Fatalf("expected paused, got %s", f.campaign.Status)
	}
}

func TestStopQueueIdempotent(t *testing.T) {
	f := newFixture(1, 1)
	ctrl := f.controller(allowAllGate{}, Config{})
	actor := uuid.New()

	if err := ctrl.StopQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, actor); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if err := ctrl.StopQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, actor); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if got := len(f.audit.byType(queue.AuditQueueStopped)); got != 1 {
		t.Fatalf("expected one queue_stopped event, got %d", got)
	}
}

func TestPauseThenResumePicksUpRemainingTargets(t *testing.T) {
	f := newFixture(4, 1)
	ctrl := f.controller(allowAllGate{}, Config{})
	actor := uuid.New()

	res, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, actor)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !res.Started {
		t.Fatal("expected first start to dial")
	}

	if err := ctrl.PauseQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, actor); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	// the in-flight call resolves, freeing the agent and slot
	cc := f.firstAttemptCallControlID(t)
	ctrl.HandleEnded(context.Background(), cc, "completed")

	res, err = ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, actor)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if !res.Started {
		t.Fatal("expected resume to dial remaining targets")
	}
	if res.Queued != 3 {
		t.Fatalf("expected 3 remaining, got %d", res.Queued)
	}
	if f.campaign.Status != domain.CampaignStatusActive {
		t.Fatalf("expected active after resume, got %s", f.campaign.Status)
	}
}

func TestStatusReportsTargetCounts(t *testing.T) {
	f := newFixture(3, 1)
	ctrl := f.controller(allowAllGate{}, Config{})

	if _, err := ctrl.StartQueue(context.Background(), f.campaign.ID, f.campaign.OrganizationID, uuid.New()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status, err := ctrl.Status(context.Background(), f.campaign.ID, f.campaign.OrganizationID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != domain.CampaignStatusActive {
		t.Fatalf("expected active, got %s", status.Status)
	}
	if status.Targets[domain.TargetStatusDialing] != 1 {
		t.Fatalf("expected 1 dialing target, got %d", status.Targets[domain.TargetStatusDialing])
	}
	if status.Targets[domain.TargetStatusPending] != 2 {
		t.Fatalf("expected 2 pending targets, got %d", status.Targets[domain.TargetStatusPending])
	}
}

func (f *fixture) firstAttemptCallControlID(t *testing.T) string {
	t.Helper()
	f.attempts.mu.Lock()
	defer f.attempts.mu.Unlock()
	for _, a := range f.attempts.attempts {
		return a.CallControlID
	}
	t.Fatal("no in-flight attempt")
	return ""
}
