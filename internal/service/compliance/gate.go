package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/acme/predictive-dialer/internal/domain"
)

// Rule identifiers reported in Decision.BlockedBy.
const (
	BlockedByDoNotCall     = "do_not_call"
	BlockedByCallingWindow = "calling_window"
	BlockedByMaxAttempts   = "max_attempts"
)

// DNCList answers do-not-call lookups.
type DNCList interface {
	Contains(ctx context.Context, phoneNumber string) (bool, error)
}

// CallContext carries the per-attempt context the gate evaluates
// against. It is rebuilt for every dial attempt; consent state and the
// clock both move between calls, so decisions are never cached.
type CallContext struct {
	Now      time.Time
	TimeZone string
	Windows  []domain.CallingWindow
}

// Gate performs the pre-dial compliance check. A blocked target must
// never reach the telephony gateway.
type Gate struct {
	dnc         DNCList
	dncEnabled  bool
	maxAttempts int
}

// NewGate constructs the gate. maxAttempts <= 0 disables the
// attempt-count rule; a nil dnc list disables the do-not-call rule.
func NewGate(dnc DNCList, dncEnabled bool, maxAttempts int) *Gate {
	return &Gate{dnc: dnc, dncEnabled: dncEnabled, maxAttempts: maxAttempts}
}

// Check evaluates every rule for one dial attempt. The first rule that
// fires names itself in BlockedBy.
func (g *Gate) Check(ctx context.Context, target *domain.TargetRecord, cc CallContext) (domain.Decision, error) {
	if g.maxAttempts > 0 && target.AttemptCount >= g.maxAttempts {
		return domain.Decision{
			Reason:    fmt.Sprintf("attempt limit of %d reached", g.maxAttempts),
			BlockedBy: BlockedByMaxAttempts,
		}, nil
	}

	if !withinCallingWindow(cc.Now, cc.TimeZone, cc.Windows) {
		return domain.Decision{
			Reason:    "outside permitted calling window",
			BlockedBy: BlockedByCallingWindow,
		}, nil
	}

	if g.dncEnabled && g.dnc != nil {
		listed, err := g.dnc.Contains(ctx, target.PhoneNumber)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("compliance gate: dnc lookup: %w", err)
		}
		if listed {
			return domain.Decision{
				Reason:    "number is on the do-not-call list",
				BlockedBy: BlockedByDoNotCall,
			}, nil
		}
	}

	return domain.Decision{Allowed: true}, nil
}

// withinCallingWindow evaluates the campaign calling windows in the
// campaign time zone. An empty window set allows calls at any time;
// windows may span midnight.
func withinCallingWindow(now time.Time, timeZone string, windows []domain.CallingWindow) bool {
	if len(windows) == 0 {
		return true
	}

	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		loc = time.UTC
	}

	local := now.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	for _, window := range windows {
		start := window.Start.Hour()*60 + window.Start.Minute()
		end := window.End.Hour()*60 + window.End.Minute()

		if end <= start {
			// window spans midnight
			nextDay := (int(window.DayOfWeek) + 1) % 7
			if window.DayOfWeek == weekday && minuteOfDay >= start {
				return true
			}
			if time.Weekday(nextDay) == weekday && minuteOfDay < end {
				return true
			}
			continue
		}

		if window.DayOfWeek != weekday {
			continue
		}

		if minuteOfDay >= start && minuteOfDay < end {
			return true
		}
	}

	return false
}
