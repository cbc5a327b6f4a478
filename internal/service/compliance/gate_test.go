package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acme/predictive-dialer/internal/domain"
)

type staticDNC struct {
	numbers map[string]bool
	err     error
}

func (d staticDNC) Contains(_ context.Context, phone string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.numbers[phone], nil
}

func mondayWindow(startHour, endHour int) []domain.CallingWindow {
	return []domain.CallingWindow{
		{
			DayOfWeek: time.Monday,
			Start:     time.Date(0, 1, 1, startHour, 0, 0, 0, time.UTC),
			End:       time.Date(0, 1, 1, endHour, 0, 0, 0, time.UTC),
		},
	}
}

func TestCheckAllowsCleanTarget(t *testing.T) {
	gate := NewGate(staticDNC{}, true, 5)
	target := &domain.TargetRecord{PhoneNumber: "+15555550100"}
	cc := CallContext{
		Now:      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		TimeZone: "UTC",
		Windows:  mondayWindow(9, 17),
	}

	decision, err := gate.Check(context.Background(), target, cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected allowed, got blocked by %q", decision.BlockedBy)
	}
}

func TestCheckBlocksDoNotCall(t *testing.T) {
	gate := NewGate(staticDNC{numbers: map[string]bool{"+15555550100": true}}, true, 5)
	target := &domain.TargetRecord{PhoneNumber: "+15555550100"}
	cc := CallContext{Now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), TimeZone: "UTC"}

	decision, err := gate.Check(context.Background(), target, cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected listed number to be blocked")
	}
	if decision.BlockedBy != BlockedByDoNotCall {
		t.Fatalf("expected blocked_by %q, got %q", BlockedByDoNotCall, decision.BlockedBy)
	}
}

func TestCheckBlocksOutsideCallingWindow(t *testing.T) {
	gate := NewGate(staticDNC{}, true, 5)
	target := &domain.TargetRecord{PhoneNumber: "+15555550100"}
	cc := CallContext{
		Now:      time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC),
		TimeZone: "UTC",
		Windows:  mondayWindow(9, 17),
	}

	decision, err := gate.Check(context.Background(), target, cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected evening call to be blocked")
	}
	if decision.BlockedBy != BlockedByCallingWindow {
		t.Fatalf("expected blocked_by %q, got %q", BlockedByCallingWindow, decision.BlockedBy)
	}
}

func TestCheckBlocksExhaustedAttempts(t *testing.T) {
	gate := NewGate(staticDNC{}, true, 3)
	target := &domain.TargetRecord{PhoneNumber: "+15555550100", AttemptCount: 3}
	cc := CallContext{Now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), TimeZone: "UTC"}

	decision, err := gate.Check(context.Background(), target, cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected exhausted target to be blocked")
	}
	if decision.BlockedBy != BlockedByMaxAttempts {
		t.Fatalf("expected blocked_by %q, got %q", BlockedByMaxAttempts, decision.BlockedBy)
	}
}

func TestCheckPropagatesDNCLookupError(t *testing.T) {
	gate := NewGate(staticDNC{err: errors.New("store down")}, true, 5)
	target := &domain.TargetRecord{PhoneNumber: "+15555550100"}
	cc := CallContext{Now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), TimeZone: "UTC"}

	if _, err := gate.Check(context.Background(), target, cc); err == nil {
		t.Fatal("expected lookup error to propagate")
	}
}

func TestWithinCallingWindow(t *testing.T) {
	windows := mondayWindow(9, 17)

	mondayMorning := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !withinCallingWindow(mondayMorning, "UTC", windows) {
		t.Fatalf("expected %v to be within the calling window", mondayMorning)
	}

	mondayNight := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	if withinCallingWindow(mondayNight, "UTC", windows) {
		t.Fatalf("expected %v to be outside the calling window", mondayNight)
	}

	tuesdayMorning := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if withinCallingWindow(tuesdayMorning, "UTC", windows) {
		t.Fatalf("expected %v to be outside the calling window (wrong day)", tuesdayMorning)
	}
}

func TestWithinCallingWindowSpanningMidnight(t *testing.T) {
	windows := []domain.CallingWindow{
		{
			DayOfWeek: time.Monday,
			Start:     time.Date(0, 1, 1, 22, 0, 0, 0, time.UTC),
			End:       time.Date(0, 1, 1, 2, 0, 0, 0, time.UTC),
		},
	}

	night := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	if !withinCallingWindow(night, "UTC", windows) {
		t.Fatalf("expected %v to be within the cross-midnight window", night)
	}

	earlyMorning := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
	if !withinCallingWindow(earlyMorning, "UTC", windows) {
		t.Fatalf("expected %v to be within the cross-midnight window", earlyMorning)
	}
}

func TestWithinCallingWindowEmptyAllowsAll(t *testing.T) {
	anytime := time.Date(2024, 1, 6, 3, 0, 0, 0, time.UTC)
	if !withinCallingWindow(anytime, "UTC", nil) {
		t.Fatal("expected empty window set to allow calls")
	}
}
