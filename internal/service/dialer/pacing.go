package dialer

import "math"

// PacingPolicy controls how many dials a dispatch cycle issues relative
// to the agents it reserved. A ratio above 1 overdials on the
// expectation that some calls go unanswered or hit voicemail.
type PacingPolicy struct {
	DialRatio          float64
	MaxConcurrentDials int
}

// Budget returns the number of dial attempts one dispatch cycle may
// issue. Always at least one dial per reserved agent, never more than
// the pending queue depth or the concurrent-dial ceiling.
func (p PacingPolicy) Budget(reservedAgents, queued int) int {
	if reservedAgents <= 0 || queued <= 0 {
		return 0
	}

	ratio := p.DialRatio
	if ratio < 1 {
		ratio = 1
	}

	budget := int(math.Floor(float64(reservedAgents) * ratio))
	if budget < reservedAgents {
		budget = reservedAgents
	}
	if p.MaxConcurrentDials > 0 && budget > p.MaxConcurrentDials {
		budget = p.MaxConcurrentDials
	}
	if budget > queued {
		budget = queued
	}
	return budget
}
