package router

import (
	"github.com/gin-gonic/gin"

	"github.com/leadflow/leadflow-backend/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)
	sequenceHandler := handler.NewSequenceHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)
	systemHandler := handler.NewSystemHandler(deps)

	r.GET("/health", systemHandler.Health)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.EnqueueJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/stats", jobHandler.GetStats)
			jobs.POST("/clear", jobHandler.ClearJobs)
			jobs.POST("/bulk/retry", jobHandler.BulkRetryJobs)
			jobs.POST("/bulk/cancel", jobHandler.BulkCancelJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		dlq := v1.Group("/dlq")
		{
			dlq.GET("", jobHandler.ListDeadLetters)
			dlq.POST("/:dlq_id/resolve", jobHandler.ResolveDeadLetter)
			dlq.POST("/:dlq_id/retry", jobHandler.RetryDeadLetter)
		}

		sequences := v1.Group("/sequences")
		{
			sequences.POST("", sequenceHandler.CreateSequence)
			sequences.GET("", sequenceHandler.ListSequences)
			sequences.GET("/:sequence_id", sequenceHandler.GetSequence)
			sequences.PUT("/:sequence_id", sequenceHandler.UpdateSequence)
			sequences.DELETE("/:sequence_id", sequenceHandler.DeleteSequence)
			sequences.POST("/:sequence_id/enroll", sequenceHandler.Enroll)
			sequences.POST("/:sequence_id/enroll/bulk", sequenceHandler.BulkEnroll)
		}

		enrollments := v1.Group("/enrollments")
		{
			enrollments.GET("", sequenceHandler.ListEnrollments)
			enrollments.GET("/:enrollment_id", sequenceHandler.GetEnrollment)
			enrollments.POST("/:enrollment_id/pause", sequenceHandler.PauseEnrollment)
			enrollments.POST("/:enrollment_id/resume", sequenceHandler.ResumeEnrollment)
			enrollments.POST("/:enrollment_id/cancel", sequenceHandler.CancelEnrollment)
		}

		v1.POST("/webhooks/email-events", webhookHandler.HandleEmailEvent)
		v1.POST("/worker/tick", systemHandler.TriggerTick)
	}

	return r
}
