package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/coordination"
	"github.com/zulandar/switchyard/internal/models"
)

// POST /coordination/check
func (s *server) handleCoordinationCheck(c *gin.Context) {
	var req coordination.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	res, err := s.Locks.CheckOperation(c.Request.Context(), req)
	if errors.Is(err, coordination.ErrInvalid) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		internalError(c, "check operation", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type lockRequest struct {
	SessionID string `json:"session_id"`
	LockType  string `json:"lock_type"`
	Target    string `json:"target"`
	Mode      string `json:"mode"`
}

// POST /coordination/locks acquires a lock. The lock type is derived from
// the target when omitted; the mode defaults to exclusive.
func (s *server) handleLockAcquire(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.LockType == "" {
		req.LockType = coordination.LockTypeFor(req.Target)
	}
	res, err := s.Locks.Acquire(c.Request.Context(), req.SessionID, req.LockType, req.Target, req.Mode)
	switch {
	case errors.Is(err, coordination.ErrInvalid):
		badRequest(c, err.Error())
		return
	case errors.Is(err, coordination.ErrSessionNotFound):
		notFound(c, "Session not found")
		return
	case err != nil:
		internalError(c, "acquire lock", err)
		return
	}
	if !res.Allowed {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DELETE /coordination/locks?session_id=&lock_type=&target= releases one
// lock, or every lock of the session when no target is given.
func (s *server) handleLockRelease(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		badRequest(c, "Missing required query param: session_id")
		return
	}
	ctx := c.Request.Context()

	target := c.Query("target")
	if target == "" {
		n, err := s.Locks.ReleaseAll(ctx, sessionID)
		if err != nil {
			internalError(c, "release locks", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "released": n})
		return
	}

	lockType := c.Query("lock_type")
	if lockType == "" {
		lockType = coordination.LockTypeFor(target)
	}
	ok, err := s.Locks.Release(ctx, sessionID, lockType, target)
	if err != nil {
		internalError(c, "release lock", err)
		return
	}
	released := 0
	if ok {
		released = 1
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "released": released})
}

// GET /coordination/locks?session_id= lists a session's locks;
// ?target=&lock_type= lists every holder of one target.
func (s *server) handleLockList(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		locks []models.CoordinationLock
		err   error
	)
	switch sessionID, target := c.Query("session_id"), c.Query("target"); {
	case sessionID != "":
		locks, err = s.Locks.SessionLocks(ctx, sessionID)
	case target != "":
		lockType := c.Query("lock_type")
		if lockType == "" {
			lockType = coordination.LockTypeFor(target)
		}
		locks, err = s.Locks.TargetLocks(ctx, lockType, target)
	default:
		badRequest(c, "Missing required query param: session_id or target")
		return
	}
	if err != nil {
		internalError(c, "list locks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks, "count": len(locks)})
}
