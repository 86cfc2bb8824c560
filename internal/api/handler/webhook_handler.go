package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadflow/leadflow-backend/internal/api/dto"
	"github.com/leadflow/leadflow-backend/internal/worker"
)

// WebhookHandler ingests email-provider engagement events. Opens and
// clicks are applied to the lead synchronously; replies, bounces, and
// unsubscribes are also published so the worker can interrupt any
// running sequences.
type WebhookHandler struct {
	logger *slog.Logger
	leads  LeadStore
	events EventPublisher
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger: deps.Logger,
		leads:  deps.Leads,
		events: deps.Events,
	}
}

// HandleEmailEvent handles POST /api/v1/webhooks/email-events
func (h *WebhookHandler) HandleEmailEvent(c *gin.Context) {
	var req dto.WebhookEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	switch req.Event {
	case "opened":
		if err := h.leads.RecordOpen(ctx, req.LeadID); err != nil {
			respondError(c, h.logger, err)
			return
		}
	case "clicked":
		if err := h.leads.RecordClick(ctx, req.LeadID); err != nil {
			respondError(c, h.logger, err)
			return
		}
	case "replied":
		if err := h.leads.RecordResponse(ctx, req.LeadID, occurredAt); err != nil {
			respondError(c, h.logger, err)
			return
		}
		if !h.publish(c, req.LeadID, req.Event) {
			return
		}
	case "bounced":
		if !h.publish(c, req.LeadID, req.Event) {
			return
		}
	case "unsubscribed":
		if err := h.leads.MarkUnsubscribed(ctx, req.LeadID); err != nil {
			respondError(c, h.logger, err)
			return
		}
		if !h.publish(c, req.LeadID, req.Event) {
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event: " + req.Event})
		return
	}

	h.logger.Info("Engagement event ingested",
		slog.String("lead_id", req.LeadID),
		slog.String("event", req.Event),
	)
	c.JSON(http.StatusAccepted, gin.H{"lead_id": req.LeadID, "event": req.Event})
}

func (h *WebhookHandler) publish(c *gin.Context, leadID, event string) bool {
	body, err := json.Marshal(worker.EngagementMessage{LeadID: leadID, Event: event})
	if err != nil {
		respondError(c, h.logger, err)
		return false
	}
	if err := h.events.Publish(c.Request.Context(), body); err != nil {
		respondError(c, h.logger, err)
		return false
	}
	return true
}
