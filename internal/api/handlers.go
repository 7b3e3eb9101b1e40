package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/leadflow/internal/dedup"
	"github.com/jonesrussell/leadflow/internal/dlq"
	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/leads"
	"github.com/jonesrussell/leadflow/internal/logger"
	"github.com/jonesrussell/leadflow/internal/pipeline"
	"github.com/jonesrussell/leadflow/internal/telemetry"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	defaultDLQListLimit  = 100
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers provides HTTP handlers for the API
type Handlers struct {
	pipeline  *pipeline.Pipeline
	leads     *leads.Service
	deadQueue *dlq.Queue
	archive   *dlq.Archive
	dedup     *dedup.Tracker
	dbPing    Pinger
	redisPing Pinger
	telemetry *telemetry.Provider
	logger    logger.Logger
	version   string
}

// NewHandlers creates a new handlers instance. The archive, the dedup tracker
// and the pingers may be nil, in which case the corresponding step is skipped.
func NewHandlers(
	p *pipeline.Pipeline,
	leadService *leads.Service,
	deadQueue *dlq.Queue,
	archive *dlq.Archive,
	dedupTracker *dedup.Tracker,
	dbPing, redisPing Pinger,
	tel *telemetry.Provider,
	log logger.Logger,
	version string,
) *Handlers {
	return &Handlers{
		pipeline:  p,
		leads:     leadService,
		deadQueue: deadQueue,
		archive:   archive,
		dedup:     dedupTracker,
		dbPing:    dbPing,
		redisPing: redisPing,
		telemetry: tel,
		logger:    log,
		version:   version,
	}
}

// IngestLead handles POST /webhooks/lead. The payload is queued for
// background processing and the correlation id comes back immediately.
func (h *Handlers) IngestLead(c *gin.Context) {
	var payload domain.LeadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	if payload.Email == "" || payload.Company == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and company are required"})
		return
	}
	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = time.Now()
	}

	requestedID := c.GetHeader("X-Correlation-ID")

	// Providers redeliver on timeout; a repeated correlation id means this
	// payload is already queued or done
	if h.dedup != nil && requestedID != "" {
		if !h.dedup.FirstDelivery(c.Request.Context(), requestedID) {
			resp := gin.H{
				"correlation_id": requestedID,
				"duplicate":      true,
			}
			if job, ok := h.pipeline.GetStatus(requestedID); ok {
				resp["status"] = job.Status
			}
			c.JSON(http.StatusAccepted, resp)
			return
		}
	}

	correlationID := h.pipeline.Queue(payload, requestedID)

	c.JSON(http.StatusAccepted, gin.H{
		"correlation_id": correlationID,
		"status":         domain.JobStatusPending,
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *Handlers) GetJob(c *gin.Context) {
	job, ok := h.pipeline.GetStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *Handlers) ListJobs(c *gin.Context) {
	jobs := h.pipeline.ListStatuses()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetLead handles GET /api/v1/leads/:id
func (h *Handlers) GetLead(c *gin.Context) {
	lead, err := h.leads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

type claimRequest struct {
	UserID   string            `json:"user_id"`
	UserName string            `json:"user_name"`
	Status   domain.LeadStatus `json:"status"`
}

// ClaimLead handles POST /api/v1/leads/:id/claim. An ownership conflict is
// reported as 409 with the current owner's name, not as a server error.
func (h *Handlers) ClaimLead(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.leads.Claim(c.Request.Context(), c.Param("id"), req.UserID, req.UserName, req.Status)
	if err != nil {
		h.telemetry.Metrics.ClaimAttempts.WithLabelValues("error").Inc()
		h.renderLeadError(c, err)
		return
	}

	if result.AlreadyClaimed {
		h.telemetry.Metrics.ClaimAttempts.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, result)
		return
	}

	h.telemetry.Metrics.ClaimAttempts.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, result)
}

type updateStatusRequest struct {
	UserID  string            `json:"user_id"`
	Status  domain.LeadStatus `json:"status"`
	Version int64             `json:"version"`
}

// UpdateLeadStatus handles PATCH /api/v1/leads/:id/status
func (h *Handlers) UpdateLeadStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	lead, err := h.leads.UpdateStatus(c.Request.Context(), c.Param("id"), req.UserID, req.Status, req.Version)
	if err != nil {
		h.renderLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

// renderLeadError maps domain errors onto HTTP statuses
func (h *Handlers) renderLeadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "lead not found"})
	case errors.Is(err, domain.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrClaimConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("lead operation failed",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ListDeadLetters handles GET /api/v1/dlq
func (h *Handlers) ListDeadLetters(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultDLQListLimit)))
	if err != nil || limit < 0 {
		limit = defaultDLQListLimit
	}

	var events []domain.DeadLetterEvent
	if eventType := c.Query("type"); eventType != "" {
		events = h.deadQueue.GetByType(domain.EventType(eventType))
	} else {
		events = h.deadQueue.GetAll(limit)
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// DeadLetterStats handles GET /api/v1/dlq/stats
func (h *Handlers) DeadLetterStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deadQueue.GetStats())
}

// RetryableDeadLetters handles GET /api/v1/dlq/retryable
func (h *Handlers) RetryableDeadLetters(c *gin.Context) {
	events := h.deadQueue.GetRetryableEvents()
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// ExportDeadLetters handles GET /api/v1/dlq/export
func (h *Handlers) ExportDeadLetters(c *gin.Context) {
	events := h.deadQueue.Export()
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// ImportDeadLetters handles POST /api/v1/dlq/import. Events whose ids are
// already present are skipped.
func (h *Handlers) ImportDeadLetters(c *gin.Context) {
	var req struct {
		Events []domain.DeadLetterEvent `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	inserted := h.deadQueue.Import(req.Events)
	h.logger.Info("dead-letter events imported",
		logger.Int("received", len(req.Events)),
		logger.Int("imported", inserted))

	c.JSON(http.StatusOK, gin.H{
		"received": len(req.Events),
		"imported": inserted,
	})
}

// DeleteDeadLetter handles DELETE /api/v1/dlq/:id. The archived copy goes
// too, otherwise the next restart would restore the event.
func (h *Handlers) DeleteDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if !h.deadQueue.Remove(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if h.archive != nil {
		if err := h.archive.Delete(c.Request.Context(), id); err != nil {
			h.logger.Warn("failed to delete event from archive",
				logger.String("dead_letter_id", id),
				logger.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ClearDeadLetters handles DELETE /api/v1/dlq
func (h *Handlers) ClearDeadLetters(c *gin.Context) {
	cleared := h.deadQueue.Clear()
	if h.archive != nil {
		if err := h.archive.Clear(c.Request.Context()); err != nil {
			h.logger.Warn("failed to clear dead-letter archive", logger.Error(err))
		}
	}
	h.logger.Info("dead-letter queue cleared", logger.Int("cleared", cleared))
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// ListBreakers handles GET /api/v1/breakers
func (h *Handlers) ListBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.pipeline.BreakerStats()})
}

// ResetBreaker handles POST /api/v1/breakers/:name/reset
func (h *Handlers) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if !h.pipeline.ResetBreaker(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown breaker"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": name})
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := healthStatusHealthy
	checks := gin.H{}

	if h.dbPing != nil {
		if err := h.dbPing.Ping(ctx); err != nil {
			status = healthStatusDegraded
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}
	if h.redisPing != nil {
		if err := h.redisPing.Ping(ctx); err != nil {
			status = healthStatusDegraded
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}
	if !h.deadQueue.HealthCheck() {
		status = healthStatusDegraded
		checks["dlq"] = "degraded"
	} else {
		checks["dlq"] = "ok"
	}

	code := http.StatusOK
	if status != healthStatusHealthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": "leadflow",
		"version": h.version,
		"checks":  checks,
	})
}
