package dialer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository"
	"github.com/acme/predictive-dialer/internal/service/compliance"
	"github.com/acme/predictive-dialer/internal/telephony"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
	"github.com/acme/predictive-dialer/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
}

func newFakeCampaignRepo(campaigns ...*domain.Campaign) *fakeCampaignRepo {
	repo := &fakeCampaignRepo{campaigns: make(map[uuid.UUID]*domain.Campaign)}
	for _, c := range campaigns {
		repo.campaigns[c.ID] = c
	}
	return repo
}

func (r *fakeCampaignRepo) GetForOrganization(_ context.Context, id, organizationID uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.OrganizationID != organizationID {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.Status = status
	return nil
}

type fakeTargetRepo struct {
	mu      sync.Mutex
	targets map[uuid.UUID]*domain.TargetRecord
	order   []uuid.UUID
}

func newFakeTargetRepo(targets ...*domain.TargetRecord) *fakeTargetRepo {
	repo := &fakeTargetRepo{targets: make(map[uuid.UUID]*domain.TargetRecord)}
	for _, t := range targets {
		repo.targets[t.ID] = t
		repo.order = append(repo.order, t.ID)
	}
	return repo
}

func (r *fakeTargetRepo) FetchPending(_ context.Context, campaignID uuid.UUID, limit int) ([]domain.TargetRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TargetRecord
	for _, id := range r.order {
		t := r.targets[id]
		if t.CampaignID == campaignID && t.Status == domain.TargetStatusPending {
			out = append(out, *t)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeTargetRepo) Claim(_ context.Context, targetID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok || t.Status != domain.TargetStatusPending {
		return false, nil
	}
	t.Status = domain.TargetStatusQueued
	return true, nil
}

func (r *fakeTargetRepo) SetStatus(_ context.Context, targetID uuid.UUID, status domain.TargetStatus, meta repository.AttemptMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return apperrors.ErrNotFound
	}
	t.Status = status
	t.AttemptCount = meta.AttemptCount
	t.LastAttemptAt = meta.LastAttemptAt
	t.LastError = meta.LastError
	return nil
}

func (r *fakeTargetRepo) CountByStatus(_ context.Context, campaignID uuid.UUID) (map[domain.TargetStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.TargetStatus]int64)
	for _, t := range r.targets {
		if t.CampaignID == campaignID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (r *fakeTargetRepo) RevertStaleDialing(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.targets {
		if t.Status == domain.TargetStatusDialing && t.UpdatedAt.Before(olderThan) {
			t.Status = domain.TargetStatusPending
			n++
		}
	}
	return n, nil
}

func (r *fakeTargetRepo) get(id uuid.UUID) domain.TargetRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.targets[id]
}

type fakeAgentRepo struct {
	mu     sync.Mutex
	agents map[uuid.UUID]*domain.Agent
	order  []uuid.UUID
}

func newFakeAgentRepo(agents ...*domain.Agent) *fakeAgentRepo {
	repo := &fakeAgentRepo{agents: make(map[uuid.UUID]*domain.Agent)}
	for _, a := range agents {
		repo.agents[a.ID] = a
		repo.order = append(repo.order, a.ID)
	}
	return repo
}

func (r *fakeAgentRepo) ListIdle(_ context.Context, campaignID uuid.UUID) ([]domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Agent
	for _, id := range r.order {
		a := r.agents[id]
		if a.CampaignID == campaignID && a.State == domain.AgentStateIdle {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeAgentRepo) Reserve(_ context.Context, agentID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.State != domain.AgentStateIdle {
		return false, nil
	}
	a.State = domain.AgentStateOnCall
	return true, nil
}

func (r *fakeAgentRepo) Release(_ context.Context, agentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.State != domain.AgentStateOnCall {
		return apperrors.ErrNotFound
	}
	a.State = domain.AgentStateIdle
	return nil
}

func (r *fakeAgentRepo) SetOffline(_ context.Context, agentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return apperrors.ErrNotFound
	}
	a.State = domain.AgentStateOffline
	return nil
}

func (r *fakeAgentRepo) state(id uuid.UUID) domain.AgentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[id].State
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*domain.DialAttempt
	order    []uuid.UUID
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{attempts: make(map[uuid.UUID]*domain.DialAttempt)}
}

func (r *fakeAttemptRepo) Create(_ context.Context, attempt *domain.DialAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *attempt
	r.attempts[attempt.ID] = &cp
	r.order = append(r.order, attempt.ID)
	return nil
}

func (r *fakeAttemptRepo) GetByCallControlID(_ context.Context, callControlID string) (*domain.DialAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.CallControlID == callControlID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeAttemptRepo) AssignAgent(_ context.Context, attemptID, agentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return apperrors.ErrNotFound
	}
	id := agentID
	a.AgentID = &id
	a.Held = false
	return nil
}

func (r *fakeAttemptRepo) Hold(_ context.Context, attemptID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return apperrors.ErrNotFound
	}
	a.Held = true
	return nil
}

func (r *fakeAttemptRepo) NextHeld(_ context.Context, campaignID uuid.UUID) (*domain.DialAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		a, ok := r.attempts[id]
		if !ok {
			continue
		}
		if a.CampaignID == campaignID && a.Held && a.AgentID == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeAttemptRepo) Resolve(_ context.Context, attemptID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[attemptID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.attempts, attemptID)
	return nil
}

func (r *fakeAttemptRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	records []domain.AttemptHistory
}

func (s *fakeHistoryStore) Append(_ context.Context, record domain.AttemptHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *fakeHistoryStore) ListByCampaign(_ context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.AttemptHistory, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AttemptHistory
	for _, r := range s.records {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out, nil, nil
}

type allowAllGate struct{}

func (allowAllGate) Check(context.Context, *domain.TargetRecord, compliance.CallContext) (domain.Decision, error) {
	return domain.Decision{Allowed: true}, nil
}

type blockingGate struct {
	blocked map[string]string
}

func (g blockingGate) Check(_ context.Context, target *domain.TargetRecord, _ compliance.CallContext) (domain.Decision, error) {
	if by, ok := g.blocked[target.PhoneNumber]; ok {
		return domain.Decision{Allowed: false, BlockedBy: by}, nil
	}
	return domain.Decision{Allowed: true}, nil
}

type fakeGateway struct {
	mu      sync.Mutex
	placed  []string
	bridged []string
	hungUp  []string
	failFor map[string]error
}

func (g *fakeGateway) PlaceCall(_ context.Context, fromNumber, toNumber string) (telephony.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failFor[toNumber]; ok {
		return telephony.Session{}, err
	}
	g.placed = append(g.placed, toNumber)
	return telephony.Session{
		CallControlID: "cc_" + uuid.New().String(),
		CallSessionID: "cs_" + uuid.New().String(),
	}, nil
}

func (g *fakeGateway) Bridge(_ context.Context, callControlID string, agentID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bridged = append(g.bridged, callControlID)
	return nil
}

func (g *fakeGateway) Hangup(_ context.Context, callControlID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hungUp = append(g.hungUp, callControlID)
	return nil
}

func (g *fakeGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *fakeGateway) bridgedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bridged)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []queue.AuditEvent
}

func (a *fakeAudit) Publish(_ context.Context, event queue.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) byType(eventType string) []queue.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []queue.AuditEvent
	for _, e := range a.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeSlots struct {
	mu   sync.Mutex
	held map[uuid.UUID]int
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{held: make(map[uuid.UUID]int)}
}

func (s *fakeSlots) Acquire(_ context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && s.held[campaignID] >= limit {
		return false, nil
	}
	s.held[campaignID]++
	return true, nil
}

func (s *fakeSlots) Release(_ context.Context, campaignID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[campaignID] > 0 {
		s.held[campaignID]--
	}
	return nil
}

func (s *fakeSlots) inUse(campaignID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[campaignID]
}
