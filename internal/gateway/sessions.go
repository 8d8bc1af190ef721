package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/ratelimit"
	"github.com/zulandar/switchyard/internal/session"
)

// POST /sessions
func (s *server) handleSessionCreate(c *gin.Context) {
	var in session.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if in.ClientID == "" {
		in.ClientID = clientID(c)
	}
	sess, err := s.Sessions.Create(c.Request.Context(), in)
	if errors.Is(err, session.ErrInvalid) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		internalError(c, "create session", err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GET /sessions?client_id=&project=&status=
func (s *server) handleSessionList(c *gin.Context) {
	sessions, err := s.Sessions.List(c.Request.Context(), session.Filter{
		ClientID: c.Query("client_id"),
		Project:  c.Query("project"),
		Status:   c.Query("status"),
	})
	if err != nil {
		internalError(c, "list sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GET /sessions/:id
func (s *server) handleSessionGet(c *gin.Context) {
	sess, err := s.Sessions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		notFound(c, "Session not found")
		return
	}
	if err != nil {
		internalError(c, "get session", err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// PATCH /sessions/:id
func (s *server) handleSessionUpdate(c *gin.Context) {
	var in session.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	sess, err := s.Sessions.Update(c.Request.Context(), c.Param("id"), in)
	switch {
	case errors.Is(err, session.ErrNotFound):
		notFound(c, "Session not found")
	case errors.Is(err, session.ErrInvalid):
		badRequest(c, err.Error())
	case err != nil:
		internalError(c, "update session", err)
	default:
		c.JSON(http.StatusOK, sess)
	}
}

// POST /sessions/:id/touch
func (s *server) handleSessionTouch(c *gin.Context) {
	err := s.Sessions.Touch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		notFound(c, "Session not found")
		return
	}
	if err != nil {
		internalError(c, "touch session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DELETE /sessions/:id removes a session. When it was the client's last
// session, the client's concurrency leases are released as well.
func (s *server) handleSessionDelete(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.Sessions.Get(ctx, c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		notFound(c, "Session not found")
		return
	}
	if err != nil {
		internalError(c, "delete session", err)
		return
	}
	err = s.Sessions.Delete(ctx, sess.ID)
	if errors.Is(err, session.ErrNotFound) {
		notFound(c, "Session not found")
		return
	}
	if err != nil {
		internalError(c, "delete session", err)
		return
	}

	locks, err := s.Locks.ReleaseAll(ctx, sess.ID)
	if err != nil {
		// The scheduler's orphan sweep retries.
		log.Printf("gateway: release locks for %s: %v", sess.ID, err)
	}
	released := s.releaseClientLeases(ctx, sess.ClientID)
	c.JSON(http.StatusOK, gin.H{"success": true, "released_leases": released, "released_locks": locks})
}

func (s *server) releaseClientLeases(ctx context.Context, client string) int64 {
	remaining, err := s.Sessions.List(ctx, session.Filter{ClientID: client})
	if err != nil {
		log.Printf("gateway: list sessions for %s: %v", client, err)
		return 0
	}
	if len(remaining) > 0 {
		return 0
	}
	var total int64
	for _, svc := range s.Config.Services {
		if ratelimit.Type(svc.RateLimit.Type) != ratelimit.TypeConcurrency {
			continue
		}
		n, err := s.Limiter.ReleaseHolder(ctx, svc.Name, client)
		if err != nil {
			log.Printf("gateway: release %s leases of %s: %v", svc.Name, client, err)
			continue
		}
		total += n
	}
	return total
}
