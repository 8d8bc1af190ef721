package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// cwdFor picks the repository directory for PR lookups: the explicit cwd
// query param, else the session's working directory.
func (s *server) cwdFor(ctx context.Context, c *gin.Context, sessionID string) string {
	if cwd := c.Query("cwd"); cwd != "" {
		return cwd
	}
	if sessionID == "" {
		return ""
	}
	if sess, err := s.Sessions.Get(ctx, sessionID); err == nil {
		return sess.Cwd
	}
	return ""
}

// GET /pr-watch/status?session_id=&cwd=
func (s *server) handlePRWatchStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		badRequest(c, "Missing required query param: session_id")
		return
	}
	ctx := c.Request.Context()
	st, err := s.PRWatch.WatchStatus(ctx, sessionID, s.cwdFor(ctx, c, sessionID))
	if err != nil {
		internalError(c, "get PR watch status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GET /pr-watch/prs?cwd=
func (s *server) handlePRWatchList(c *gin.Context) {
	prs := s.PRWatch.FetchOpenPRs(c.Request.Context(), c.Query("cwd"))
	c.JSON(http.StatusOK, gin.H{"prs": prs, "count": len(prs)})
}

// POST /pr-watch/refresh?cwd=
func (s *server) handlePRWatchRefresh(c *gin.Context) {
	prs := s.PRWatch.Refresh(c.Request.Context(), c.Query("cwd"))
	c.JSON(http.StatusOK, gin.H{"success": true, "prs_count": len(prs)})
}

// GET /pr-watch/overlaps?cwd= reports, per active session, the open PRs
// touching its uncommitted files. Without cwd each session's own working
// directory is used.
func (s *server) handlePRWatchOverlaps(c *gin.Context) {
	overlaps, err := s.PRWatch.AllSessionOverlaps(c.Request.Context(), c.Query("cwd"))
	if err != nil {
		internalError(c, "compute PR overlaps", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": overlaps, "count": len(overlaps)})
}
