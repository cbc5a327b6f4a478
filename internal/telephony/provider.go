package telephony

import (
	"context"

	"github.com/google/uuid"
)

// Session identifies a live call at the provider.
type Session struct {
	CallControlID string
	CallSessionID string
}

// Gateway abstracts the call-control provider. PlaceCall is the only
// synchronous operation; answer, AMD, and hangup outcomes arrive later
// as asynchronous events keyed by the call-control id.
type Gateway interface {
	PlaceCall(ctx context.Context, fromNumber, toNumber string) (Session, error)
	Bridge(ctx context.Context, callControlID string, agentID uuid.UUID) error
	Hangup(ctx context.Context, callControlID string) error
}
