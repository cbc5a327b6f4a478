package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
)

type queueActionRequest struct {
	OrganizationID string `json:"organization_id"`
	ActorID        string `json:"actor_id"`
}

type startQueueResponse struct {
	Started bool `json:"started"`
	Queued  int  `json:"queued"`
}

type queueStatusResponse struct {
	CampaignID uuid.UUID             `json:"campaign_id"`
	Status     domain.CampaignStatus `json:"status"`
	Targets    map[string]int64      `json:"targets"`
}

type attemptResponse struct {
	ID            uuid.UUID  `json:"id"`
	TargetID      uuid.UUID  `json:"target_id"`
	AgentID       *uuid.UUID `json:"agent_id,omitempty"`
	PhoneNumber   string     `json:"phone_number"`
	CallControlID string     `json:"call_control_id"`
	AttemptNum    int        `json:"attempt_num"`
	Outcome       string     `json:"outcome"`
	StartedAt     time.Time  `json:"started_at"`
	ResolvedAt    time.Time  `json:"resolved_at"`
}

type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
	NextPage string            `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) startQueue(ctx *fiber.Ctx) error {
	campaignID, organizationID, actorID, err := h.queueActionParams(ctx)
	if err != nil {
		return err
	}

	result, err := h.controller.StartQueue(ctx.Context(), campaignID, organizationID, actorID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(startQueueResponse{
		Started: result.Started,
		Queued:  result.Queued,
	})
}

func (h *HandlerSet) pauseQueue(ctx *fiber.Ctx) error {
	campaignID, organizationID, actorID, err := h.queueActionParams(ctx)
	if err != nil {
		return err
	}

	if err := h.controller.PauseQueue(ctx.Context(), campaignID, organizationID, actorID); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) stopQueue(ctx *fiber.Ctx) error {
	campaignID, organizationID, actorID, err := h.queueActionParams(ctx)
	if err != nil {
		return err
	}

	if err := h.controller.StopQueue(ctx.Context(), campaignID, organizationID, actorID); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) queueStatus(ctx *fiber.Ctx) error {
	campaignID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	organizationID, err := parseUUID(ctx.Get("X-Organization-ID"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid organization id")
	}

	status, err := h.controller.Status(ctx.Context(), campaignID, organizationID)
	if err != nil {
		return translateError(err)
	}

	resp := queueStatusResponse{
		CampaignID: status.CampaignID,
		Status:     status.Status,
		Targets:    make(map[string]int64, len(status.Targets)),
	}
	for s, n := range status.Targets {
		resp.Targets[string(s)] = n
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	campaignID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	paging, err := decodePageToken(ctx.Query("page_token", ""))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	records, next, err := h.container.Repositories().History.ListByCampaign(ctx.Context(), campaignID, limit, paging)
	if err != nil {
		return translateError(err)
	}

	resp := listAttemptsResponse{Attempts: make([]attemptResponse, 0, len(records))}
	for _, r := range records {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			ID:            r.ID,
			TargetID:      r.TargetID,
			AgentID:       r.AgentID,
			PhoneNumber:   r.PhoneNumber,
			CallControlID: r.CallControlID,
			AttemptNum:    r.AttemptNum,
			Outcome:       r.Outcome,
			StartedAt:     r.StartedAt,
			ResolvedAt:    r.ResolvedAt,
		})
	}
	resp.NextPage = encodePageToken(next)

	return ctx.Status(http.StatusOK).JSON(resp)
}

// queueActionParams pulls the campaign id from the path and the
// organization/actor ids from the body, falling back to headers.
func (h *HandlerSet) queueActionParams(ctx *fiber.Ctx) (campaignID, organizationID, actorID uuid.UUID, err error) {
	campaignID, err = parseUUID(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req queueActionRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return uuid.Nil, uuid.Nil, uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.OrganizationID == "" {
		req.OrganizationID = ctx.Get("X-Organization-ID")
	}
	if req.ActorID == "" {
		req.ActorID = ctx.Get("X-Actor-ID")
	}

	organizationID, err = parseUUID(req.OrganizationID)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid organization id")
	}
	if req.ActorID != "" {
		actorID, err = parseUUID(req.ActorID)
		if err != nil {
			return uuid.Nil, uuid.Nil, uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid actor id")
		}
	}

	return campaignID, organizationID, actorID, nil
}

func decodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	return base64.URLEncoding.DecodeString(token)
}

func encodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.URLEncoding.EncodeToString(state)
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
