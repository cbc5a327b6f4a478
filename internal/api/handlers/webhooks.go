package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/predictive-dialer/internal/domain"
	"github.com/acme/predictive-dialer/internal/queue"
)

type telephonyWebhookRequest struct {
	EventType     string `json:"event_type"`
	CallControlID string `json:"call_control_id"`
	CallSessionID string `json:"call_session_id"`
	Detection     string `json:"detection"`
	Outcome       string `json:"outcome"`
	OccurredAt    string `json:"occurred_at"`
}

// telephonyWebhook accepts provider callbacks and republishes them onto
// the events topic. The event worker applies them, so a burst of
// webhooks never blocks the provider's delivery loop.
func (h *HandlerSet) telephonyWebhook(ctx *fiber.Ctx) error {
	var req telephonyWebhookRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	switch req.EventType {
	case queue.EventAnswered, queue.EventAMD, queue.EventEnded:
	default:
		return fiber.NewError(http.StatusBadRequest, "unknown event type")
	}
	if req.CallControlID == "" {
		return fiber.NewError(http.StatusBadRequest, "missing call_control_id")
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		if ts, err := time.Parse(time.RFC3339, req.OccurredAt); err == nil {
			occurredAt = ts
		}
	}

	msg := queue.TelephonyEventMessage{
		Type:          req.EventType,
		CallControlID: req.CallControlID,
		CallSessionID: req.CallSessionID,
		Detection:     domain.AMDResult(req.Detection),
		Outcome:       req.Outcome,
		OccurredAt:    occurredAt,
	}

	if err := h.container.Publishers().Events.PublishEvent(ctx.Context(), msg); err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusAccepted)
}
