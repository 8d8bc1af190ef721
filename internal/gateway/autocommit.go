package gateway

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/autocommit"
)

// POST /auto-commit/trigger queues a debounced commit.
func (s *server) handleAutoCommitTrigger(c *gin.Context) {
	var req struct {
		SessionID  string  `json:"session_id"`
		TaskID     *string `json:"task_id"`
		DebounceMs *int64  `json:"debounce_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.SessionID == "" {
		badRequest(c, "Missing required field: session_id")
		return
	}
	job, err := s.AutoCommit.Queue(c.Request.Context(), req.SessionID, req.TaskID, req.DebounceMs)
	if errors.Is(err, autocommit.ErrInvalidDebounce) {
		badRequest(c, "debounce_ms must not be negative")
		return
	}
	if err != nil {
		internalError(c, "queue auto-commit", err)
		return
	}
	log.Printf("gateway: auto-commit queued: job %d for session %s", job.ID, req.SessionID)
	c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.ID, "execute_at": job.ExecuteAt})
}

// GET /auto-commit/status?session_id=
func (s *server) handleAutoCommitStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		badRequest(c, "Missing required query param: session_id")
		return
	}
	st, err := s.AutoCommit.Status(c.Request.Context(), sessionID)
	if err != nil {
		internalError(c, "get auto-commit status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// POST /auto-commit/configure
func (s *server) handleAutoCommitConfigure(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
		autocommit.ConfigUpdate
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.SessionID == "" {
		badRequest(c, "Missing required field: session_id")
		return
	}
	cfg, err := s.AutoCommit.UpdateConfig(c.Request.Context(), req.SessionID, req.ConfigUpdate)
	if errors.Is(err, autocommit.ErrInvalidDebounce) {
		badRequest(c, "debounce_ms must not be negative")
		return
	}
	if err != nil {
		internalError(c, "configure auto-commit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}

// POST /auto-commit/execute commits immediately, skipping the queue.
// Refusals are reported with 200 and success=false.
func (s *server) handleAutoCommitExecute(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.SessionID == "" {
		badRequest(c, "Missing required field: session_id")
		return
	}
	res, err := s.AutoCommit.Execute(c.Request.Context(), req.SessionID)
	if err != nil {
		internalError(c, "execute auto-commit", err)
		return
	}
	if res.Success {
		log.Printf("gateway: auto-commit %s for %s", res.CommitHash, req.SessionID)
	} else {
		log.Printf("gateway: auto-commit refused for %s: %s", req.SessionID, res.Error)
	}
	c.JSON(http.StatusOK, res)
}
