package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadflow/leadflow-backend/internal/api/dto"
	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
	"github.com/leadflow/leadflow-backend/internal/sequence/engine"
	"github.com/leadflow/leadflow-backend/internal/sequence/storage"
)

// SequenceHandler serves definition CRUD and enrollment lifecycle
// endpoints.
type SequenceHandler struct {
	logger    *slog.Logger
	sequences SequenceStore
	engine    SequenceEngine
}

// NewSequenceHandler creates a SequenceHandler.
func NewSequenceHandler(deps *Dependencies) *SequenceHandler {
	return &SequenceHandler{
		logger:    deps.Logger,
		sequences: deps.Sequences,
		engine:    deps.Engine,
	}
}

func validateSteps(steps []dto.StepRequest) string {
	if len(steps) == 0 {
		return "steps must not be empty"
	}
	for _, s := range steps {
		if s.DelayDays < 0 {
			return "delay_days must not be negative"
		}
		if s.Condition != "" && !domain.Condition(s.Condition).Valid() {
			return "unknown condition: " + s.Condition
		}
	}
	return ""
}

// CreateSequence handles POST /api/v1/sequences
func (h *SequenceHandler) CreateSequence(c *gin.Context) {
	var req dto.SequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if msg := validateSteps(req.Steps); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	def := &domain.Definition{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    isActive,
		Steps:       req.DomainSteps(),
	}
	if err := h.sequences.CreateDefinition(c.Request.Context(), def); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Sequence created",
		slog.String("sequence_id", def.ID),
		slog.String("name", def.Name),
		slog.Int("steps", len(def.Steps)),
	)
	c.JSON(http.StatusCreated, dto.FromDefinition(def))
}

// ListSequences handles GET /api/v1/sequences
func (h *SequenceHandler) ListSequences(c *gin.Context) {
	defs, err := h.sequences.ListDefinitions(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := make([]dto.SequenceResponse, len(defs))
	for i := range defs {
		resp[i] = dto.FromDefinition(&defs[i])
	}
	c.JSON(http.StatusOK, gin.H{"sequences": resp})
}

// GetSequence handles GET /api/v1/sequences/:sequence_id
func (h *SequenceHandler) GetSequence(c *gin.Context) {
	def, err := h.sequences.GetDefinition(c.Request.Context(), c.Param("sequence_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDefinition(def))
}

// UpdateSequence handles PUT /api/v1/sequences/:sequence_id
func (h *SequenceHandler) UpdateSequence(c *gin.Context) {
	var req dto.SequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if msg := validateSteps(req.Steps); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	def, err := h.sequences.GetDefinition(c.Request.Context(), c.Param("sequence_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	def.Name = req.Name
	def.Description = req.Description
	if req.IsActive != nil {
		def.IsActive = *req.IsActive
	}
	def.Steps = req.DomainSteps()

	if err := h.sequences.UpdateDefinition(c.Request.Context(), def); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Sequence updated", slog.String("sequence_id", def.ID))
	c.JSON(http.StatusOK, dto.FromDefinition(def))
}

// DeleteSequence handles DELETE /api/v1/sequences/:sequence_id
func (h *SequenceHandler) DeleteSequence(c *gin.Context) {
	sequenceID := c.Param("sequence_id")
	if err := h.sequences.DeleteDefinition(c.Request.Context(), sequenceID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Sequence deleted", slog.String("sequence_id", sequenceID))
	c.JSON(http.StatusOK, gin.H{"sequence_id": sequenceID, "deleted": true})
}

// Enroll handles POST /api/v1/sequences/:sequence_id/enroll
func (h *SequenceHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	enrollment, err := h.engine.Enroll(c.Request.Context(), c.Param("sequence_id"), req.LeadID, engine.EnrollOptions{
		StartImmediately: req.StartImmediately,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromEnrollment(enrollment))
}

// BulkEnroll handles POST /api/v1/sequences/:sequence_id/enroll/bulk
func (h *SequenceHandler) BulkEnroll(c *gin.Context) {
	var req dto.BulkEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.LeadIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lead_ids must not be empty"})
		return
	}

	sequenceID := c.Param("sequence_id")
	resp := dto.BulkEnrollResponse{Failed: make(map[string]string)}
	for _, leadID := range req.LeadIDs {
		enrollment, err := h.engine.Enroll(c.Request.Context(), sequenceID, leadID, engine.EnrollOptions{
			StartImmediately: req.StartImmediately,
		})
		if err != nil {
			resp.Failed[leadID] = err.Error()
			continue
		}
		resp.Enrolled = append(resp.Enrolled, dto.FromEnrollment(enrollment))
	}
	if len(resp.Failed) == 0 {
		resp.Failed = nil
	}

	h.logger.Info("Bulk enroll finished",
		slog.String("sequence_id", sequenceID),
		slog.Int("enrolled", len(resp.Enrolled)),
		slog.Int("failed", len(resp.Failed)),
	)
	c.JSON(http.StatusOK, resp)
}

// ListEnrollments handles GET /api/v1/enrollments
func (h *SequenceHandler) ListEnrollments(c *gin.Context) {
	filter := storage.EnrollmentFilter{
		SequenceID: c.Query("sequence_id"),
		LeadID:     c.Query("lead_id"),
		Status:     domain.EnrollmentStatus(c.Query("status")),
	}

	enrollments, err := h.sequences.ListEnrollments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": dto.FromEnrollments(enrollments)})
}

// GetEnrollment handles GET /api/v1/enrollments/:enrollment_id
func (h *SequenceHandler) GetEnrollment(c *gin.Context) {
	enrollment, err := h.sequences.GetEnrollment(c.Request.Context(), c.Param("enrollment_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromEnrollment(enrollment))
}

// PauseEnrollment handles POST /api/v1/enrollments/:enrollment_id/pause
func (h *SequenceHandler) PauseEnrollment(c *gin.Context) {
	var req dto.PauseEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = domain.StopReasonManual
	}

	enrollmentID := c.Param("enrollment_id")
	if err := h.engine.Pause(c.Request.Context(), enrollmentID, reason); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollment_id": enrollmentID, "status": string(domain.EnrollmentPaused)})
}

// ResumeEnrollment handles POST /api/v1/enrollments/:enrollment_id/resume
func (h *SequenceHandler) ResumeEnrollment(c *gin.Context) {
	enrollmentID := c.Param("enrollment_id")
	if err := h.engine.Resume(c.Request.Context(), enrollmentID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollment_id": enrollmentID, "status": string(domain.EnrollmentActive)})
}

// CancelEnrollment handles POST /api/v1/enrollments/:enrollment_id/cancel
func (h *SequenceHandler) CancelEnrollment(c *gin.Context) {
	enrollmentID := c.Param("enrollment_id")
	if err := h.engine.Cancel(c.Request.Context(), enrollmentID, domain.StopReasonManual); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollment_id": enrollmentID, "status": string(domain.EnrollmentCancelled)})
}
