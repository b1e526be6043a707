package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hireloop/proctord/internal/events"
	"github.com/hireloop/proctord/internal/idgen"
	"github.com/hireloop/proctord/internal/logging"
	"github.com/hireloop/proctord/internal/pagination"
	"github.com/hireloop/proctord/internal/session"
	"github.com/hireloop/proctord/internal/validation"
)

// -----------------------------------------------------------------------------
// Health & info
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := "not configured"
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			dbStatus = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			dbStatus = "connected"
		}
	}

	c.JSON(code, gin.H{
		"status":   status,
		"database": dbStatus,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "proctord",
		"description": "Assessment proctoring pipeline: event ingestion, risk scoring, session integrity",
		"endpoints": gin.H{
			"websocket":    "/ws/proctoring",
			"sessions":     "/v1/sessions",
			"applications": "/v1/applications",
			"health":       "/health",
			"metrics":      "/metrics",
		},
	})
}

func (s *Server) gatewayStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.Stats())
}

// -----------------------------------------------------------------------------
// Applications
// -----------------------------------------------------------------------------

func (s *Server) createApplication(c *gin.Context) {
	app := &session.Application{
		ID:     idgen.WithPrefix("app_"),
		Status: session.ApplicationPending,
	}

	if err := s.sessions.CreateApplication(c.Request.Context(), app); err != nil {
		logging.L(c.Request.Context()).Error("failed to create application", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create application",
		})
		return
	}

	c.JSON(http.StatusCreated, app)
}

func (s *Server) getApplication(c *gin.Context) {
	id := c.Param("id")
	if !validation.IsValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Application ID is not valid",
		})
		return
	}

	app, err := s.sessions.GetApplication(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrApplicationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Application not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get application", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get application",
		})
		return
	}

	c.JSON(http.StatusOK, app)
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

type startSessionRequest struct {
	ApplicationID string `json:"applicationId" binding:"required"`
}

func (s *Server) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "applicationId is required",
		})
		return
	}

	if !validation.IsValidID(req.ApplicationID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Application ID is not valid",
		})
		return
	}

	ctx := c.Request.Context()

	if _, err := s.sessions.GetApplication(ctx, req.ApplicationID); err != nil {
		if errors.Is(err, session.ErrApplicationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Application not found",
			})
			return
		}
		logging.L(ctx).Error("failed to look up application", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to start session",
		})
		return
	}

	sess := &session.Session{
		ID:            idgen.WithPrefix("sess_"),
		ApplicationID: req.ApplicationID,
		Status:        session.StatusInProgress,
		StartTime:     time.Now().UTC(),
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		logging.L(ctx).Error("failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to start session",
		})
		return
	}

	logging.L(ctx).Info("session started",
		"session_id", sess.ID,
		"application_id", sess.ApplicationID,
	)

	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) completeSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	applied, err := s.sessions.Complete(ctx, sess.ID, time.Now().UTC())
	if err != nil {
		logging.L(ctx).Error("failed to complete session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to complete session",
		})
		return
	}

	// Completing an already-terminal session is a no-op; report the
	// session as it stands rather than erroring.
	if !applied {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "session_ended",
			"message": "Session has already ended",
			"status":  sess.Status,
		})
		return
	}

	updated, err := s.sessions.Get(ctx, sess.ID)
	if err != nil {
		logging.L(ctx).Error("failed to reload session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to complete session",
		})
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (s *Server) getIntegrity(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	report, err := s.scorer.Compute(c.Request.Context(), sess.ID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to compute integrity score", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute integrity score",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) listBatches(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be between 1 and 200",
			})
			return
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is not valid",
		})
		return
	}

	batches, err := s.batches.ListBySession(c.Request.Context(), sess.ID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list batches", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list batches",
		})
		return
	}

	// Batches come back ordered by received_at; resume after the cursor.
	if cursor != nil {
		for len(batches) > 0 {
			b := batches[0]
			if b.ReceivedAt.After(cursor.CreatedAt) ||
				(b.ReceivedAt.Equal(cursor.CreatedAt) && b.ID > cursor.ID) {
				break
			}
			batches = batches[1:]
		}
	}

	page, next, hasMore := pagination.ComputePage(batches, limit, func(b *events.Batch) (time.Time, string) {
		return b.ReceivedAt, b.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"sessionId":  sess.ID,
		"count":      len(page),
		"batches":    page,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// lookupSession resolves the :id path param or writes the error response.
func (s *Server) lookupSession(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	if !validation.IsValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Session ID is not valid",
		})
		return nil, false
	}

	sess, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return nil, false
		}
		logging.L(c.Request.Context()).Error("failed to get session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get session",
		})
		return nil, false
	}

	return sess, true
}
