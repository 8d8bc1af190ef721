package gateway

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/activity"
	"github.com/zulandar/switchyard/internal/session"
)

// POST /activity/log
func (s *server) handleLogActivity(c *gin.Context) {
	var in activity.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if in.SessionID == "" || in.FilePath == "" || in.Operation == "" {
		badRequest(c, "Missing required fields: session_id, file_path, operation")
		return
	}
	if !activity.IsValidOperation(in.Operation) {
		badRequest(c, "Invalid operation. Must be one of: "+strings.Join(activity.ValidOperations, ", "))
		return
	}

	ctx := c.Request.Context()
	id, err := s.Activity.Log(ctx, in)
	if err != nil {
		internalError(c, "log activity", err)
		return
	}
	if err := s.Sessions.Touch(ctx, in.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		log.Printf("gateway: touch session %s: %v", in.SessionID, err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// GET /activity/query?file=&session=&exclude_session=&since=&uncommitted=&limit=
func (s *server) handleQueryActivity(c *gin.Context) {
	since, ok := queryInt(c, "since", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", activity.DefaultLimit)
	if !ok {
		return
	}
	records, err := s.Activity.Query(c.Request.Context(), activity.Query{
		FilePath:        c.Query("file"),
		SessionID:       c.Query("session"),
		ExcludeSession:  c.Query("exclude_session"),
		Since:           time.Duration(since) * time.Second,
		UncommittedOnly: c.Query("uncommitted") == "true",
		CommittedOnly:   c.Query("committed") == "true",
		Limit:           limit,
	})
	if err != nil {
		internalError(c, "query activity", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": records, "count": len(records)})
}

// GET /activity/file?file=&exclude_session=&since=
func (s *server) handleFileActivity(c *gin.Context) {
	file := c.Query("file")
	if file == "" {
		badRequest(c, "Missing required query param: file")
		return
	}
	since, ok := queryInt(c, "since", int(activity.DefaultFileWindow/time.Second))
	if !ok {
		return
	}
	records, err := s.Activity.FileActivity(c.Request.Context(), file, c.Query("exclude_session"), time.Duration(since)*time.Second)
	if err != nil {
		internalError(c, "get file activity", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_activity": len(records) > 0, "activity": records})
}

// POST /activity/commit
func (s *server) handleMarkCommitted(c *gin.Context) {
	var req struct {
		SessionID  string `json:"session_id"`
		CommitHash string `json:"commit_hash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.SessionID == "" || req.CommitHash == "" {
		badRequest(c, "Missing required fields: session_id, commit_hash")
		return
	}
	count, err := s.Activity.MarkCommitted(c.Request.Context(), req.SessionID, req.CommitHash)
	if err != nil {
		internalError(c, "mark committed", err)
		return
	}
	log.Printf("gateway: marked %d activities committed for %s", count, req.SessionID)
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

// POST /cleanup
func (s *server) handleCleanup(c *gin.Context) {
	res, err := s.Activity.RunCleanup(c.Request.Context())
	if err != nil {
		internalError(c, "run cleanup", err)
		return
	}
	log.Printf("gateway: cleanup removed %d old, %d orphaned", res.OldRecords, res.OrphanedRecords)
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"old_records":      res.OldRecords,
		"orphaned_records": res.OrphanedRecords,
	})
}
