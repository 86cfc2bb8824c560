// Package handler implements the HTTP control surface over the job
// queue and the sequence engine.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadflow/leadflow-backend/internal/crm"
	qdomain "github.com/leadflow/leadflow-backend/internal/queue/domain"
	qstorage "github.com/leadflow/leadflow-backend/internal/queue/storage"
	sdomain "github.com/leadflow/leadflow-backend/internal/sequence/domain"
	"github.com/leadflow/leadflow-backend/internal/sequence/engine"
	sstorage "github.com/leadflow/leadflow-backend/internal/sequence/storage"
	"github.com/leadflow/leadflow-backend/internal/worker"
)

// JobStore is the queue storage surface the handlers consume.
type JobStore interface {
	Enqueue(ctx context.Context, jobType qdomain.Type, payload []byte, opts qstorage.EnqueueOptions) (*qdomain.Job, error)
	GetByID(ctx context.Context, jobID string) (*qdomain.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string) error
	List(ctx context.Context, filter qstorage.Filter) ([]qdomain.Job, int, error)
	Stats(ctx context.Context) (*qdomain.QueueStats, error)
	Clear(ctx context.Context, status qdomain.Status) (int64, error)
	ListDeadLetters(ctx context.Context, showResolved bool) ([]qdomain.DeadLetterItem, error)
	ResolveDeadLetter(ctx context.Context, dlqID, notes string) error
	RetryFromDeadLetter(ctx context.Context, dlqID string) (*qdomain.Job, error)
}

// SequenceStore is the definition/enrollment read surface.
type SequenceStore interface {
	CreateDefinition(ctx context.Context, def *sdomain.Definition) error
	GetDefinition(ctx context.Context, sequenceID string) (*sdomain.Definition, error)
	ListDefinitions(ctx context.Context) ([]sdomain.Definition, error)
	UpdateDefinition(ctx context.Context, def *sdomain.Definition) error
	DeleteDefinition(ctx context.Context, sequenceID string) error
	GetEnrollment(ctx context.Context, enrollmentID string) (*sdomain.Enrollment, error)
	ListEnrollments(ctx context.Context, filter sstorage.EnrollmentFilter) ([]sdomain.Enrollment, error)
}

// SequenceEngine is the enrollment lifecycle surface.
type SequenceEngine interface {
	Enroll(ctx context.Context, sequenceID, leadID string, opts engine.EnrollOptions) (*sdomain.Enrollment, error)
	Pause(ctx context.Context, enrollmentID, reason string) error
	Resume(ctx context.Context, enrollmentID string) error
	Cancel(ctx context.Context, enrollmentID, reason string) error
}

// LeadStore records engagement counters from webhook events.
type LeadStore interface {
	RecordOpen(ctx context.Context, leadID string) error
	RecordClick(ctx context.Context, leadID string) error
	RecordResponse(ctx context.Context, leadID string, at time.Time) error
	MarkUnsubscribed(ctx context.Context, leadID string) error
}

// ActivityReader lists audit-trail entries per entity.
type ActivityReader interface {
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]crm.Activity, error)
}

// EventPublisher pushes engagement events to the worker.
type EventPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Ticker runs one worker pass on demand.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) worker.TickReport
}

// HealthChecker reports backing-store health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger     *slog.Logger
	Jobs       JobStore
	Sequences  SequenceStore
	Engine     SequenceEngine
	Leads      LeadStore
	Activities ActivityReader
	Events     EventPublisher
	Ticker     Ticker
	Health     HealthChecker
	AppName    string
}

// respondError maps domain sentinel errors onto HTTP statuses.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, qdomain.ErrJobNotFound),
		errors.Is(err, qdomain.ErrDeadLetterNotFound),
		errors.Is(err, sdomain.ErrSequenceNotFound),
		errors.Is(err, sdomain.ErrEnrollmentNotFound),
		errors.Is(err, crm.ErrLeadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, qdomain.ErrInvalidTransition),
		errors.Is(err, qdomain.ErrDeadLetterResolved),
		errors.Is(err, sdomain.ErrInvalidTransition),
		errors.Is(err, sdomain.ErrAlreadyEnrolled):
		status = http.StatusConflict
	case errors.Is(err, qdomain.ErrUnknownType),
		errors.Is(err, qdomain.ErrInvalidPayload),
		errors.Is(err, sdomain.ErrSequenceInactive),
		errors.Is(err, sdomain.ErrSequenceEmpty),
		errors.Is(err, sdomain.ErrLeadUnsubscribed),
		errors.Is(err, sdomain.ErrNoRecipientAddress):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
