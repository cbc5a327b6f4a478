package mock

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/telephony"
)

// EventSink receives the asynchronous events a real provider would
// deliver via webhooks.
type EventSink interface {
	PublishEvent(ctx context.Context, msg queue.TelephonyEventMessage) error
}

// Provider simulates a call-control provider. Placed calls produce
// answered/AMD/ended events on the sink after randomized delays.
type Provider struct {
	sink        EventSink
	answerRate  float64
	machineRate float64
	timeout     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider constructs a mock provider with deterministic randomness.
func NewProvider(cfg config.CallBridgeConfig, sink EventSink) *Provider {
	seed := time.Now().UnixNano()
	return &Provider{
		sink:        sink,
		answerRate:  0.7,
		machineRate: 0.3,
		timeout:     cfg.RequestTimeout,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// PlaceCall accepts the dial and schedules simulated events.
func (p *Provider) PlaceCall(ctx context.Context, fromNumber, toNumber string) (telephony.Session, error) {
	if toNumber == "" {
		return telephony.Session{}, fmt.Errorf("mock provider: empty destination")
	}

	session := telephony.Session{
		CallControlID: "cc_" + p.randomHex(12),
		CallSessionID: "cs_" + p.randomHex(12),
	}

	go p.simulate(session)

	return session, nil
}

// Bridge pretends to connect the call to an agent.
func (p *Provider) Bridge(ctx context.Context, callControlID string, agentID uuid.UUID) error {
	if callControlID == "" {
		return fmt.Errorf("mock provider: empty call control id")
	}
	return nil
}

// Hangup pretends to terminate the call.
func (p *Provider) Hangup(ctx context.Context, callControlID string) error {
	if callControlID == "" {
		return fmt.Errorf("mock provider: empty call control id")
	}
	return nil
}

func (p *Provider) simulate(session telephony.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ringFor := time.Duration(1+p.randomInt(4)) * time.Second
	time.Sleep(ringFor)

	if p.randomFloat() > p.answerRate {
		p.emit(ctx, queue.TelephonyEventMessage{
			Type:          queue.EventEnded,
			CallControlID: session.CallControlID,
			CallSessionID: session.CallSessionID,
			Outcome:       "no_answer",
			OccurredAt:    time.Now().UTC(),
		})
		return
	}

	p.emit(ctx, queue.TelephonyEventMessage{
		Type:          queue.EventAnswered,
		CallControlID: session.CallControlID,
		CallSessionID: session.CallSessionID,
		OccurredAt:    time.Now().UTC(),
	})

	detection := domain.AMDHuman
	if p.randomFloat() < p.machineRate {
		detection = domain.AMDMachine
	}

	p.emit(ctx, queue.TelephonyEventMessage{
		Type:          queue.EventAMD,
		CallControlID: session.CallControlID,
		CallSessionID: session.CallSessionID,
		Detection:     detection,
		OccurredAt:    time.Now().UTC(),
	})

	talkFor := time.Duration(1+p.randomInt(8)) * time.Second
	time.Sleep(talkFor)

	outcome := "completed"
	if detection == domain.AMDMachine {
		outcome = "machine"
	}

	p.emit(ctx, queue.TelephonyEventMessage{
		Type:          queue.EventEnded,
		CallControlID: session.CallControlID,
		CallSessionID: session.CallSessionID,
		Outcome:       outcome,
		OccurredAt:    time.Now().UTC(),
	})
}

func (p *Provider) emit(ctx context.Context, msg queue.TelephonyEventMessage) {
	_ = p.sink.PublishEvent(ctx, msg)
}

func (p *Provider) randomHex(n int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, (n+1)/2)
	p.rng.Read(buf)
	return hex.EncodeToString(buf)[:n]
}

func (p *Provider) randomInt(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

func (p *Provider) randomFloat() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}
