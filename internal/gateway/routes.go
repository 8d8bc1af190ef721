package gateway

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all gateway routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	router.GET("/health", s.handleHealth)

	api := router.Group("/", requireToken(s.Config.Server.Tokens))

	// Tool execution.
	api.GET("/services", s.handleServices)
	api.POST("/exec", s.handleExec)

	// Kill switches and rate limits.
	api.GET("/kill-switch", s.handleKillSwitchList)
	api.POST("/kill-switch/activate", s.handleKillSwitchActivate)
	api.POST("/kill-switch/deactivate", s.handleKillSwitchDeactivate)
	api.GET("/rate-limit/status", s.handleRateLimitStatus)
	api.POST("/rate-limit/renew", s.handleRateLimitRenew)

	// Sessions.
	api.POST("/sessions", s.handleSessionCreate)
	api.GET("/sessions", s.handleSessionList)
	api.GET("/sessions/:id", s.handleSessionGet)
	api.PATCH("/sessions/:id", s.handleSessionUpdate)
	api.POST("/sessions/:id/touch", s.handleSessionTouch)
	api.DELETE("/sessions/:id", s.handleSessionDelete)

	// Activity and coordination status.
	api.POST("/activity/log", s.handleLogActivity)
	api.GET("/activity/query", s.handleQueryActivity)
	api.GET("/activity/file", s.handleFileActivity)
	api.POST("/activity/commit", s.handleMarkCommitted)
	api.GET("/status", s.handleStatus)
	api.POST("/cleanup", s.handleCleanup)

	// Coordination locks.
	api.POST("/coordination/check", s.handleCoordinationCheck)
	api.GET("/coordination/locks", s.handleLockList)
	api.POST("/coordination/locks", s.handleLockAcquire)
	api.DELETE("/coordination/locks", s.handleLockRelease)

	// Auto-commit.
	api.POST("/auto-commit/trigger", s.handleAutoCommitTrigger)
	api.GET("/auto-commit/status", s.handleAutoCommitStatus)
	api.POST("/auto-commit/configure", s.handleAutoCommitConfigure)
	api.POST("/auto-commit/execute", s.handleAutoCommitExecute)

	// PR watch.
	api.GET("/pr-watch/status", s.handlePRWatchStatus)
	api.GET("/pr-watch/prs", s.handlePRWatchList)
	api.GET("/pr-watch/overlaps", s.handlePRWatchOverlaps)
	api.POST("/pr-watch/refresh", s.handlePRWatchRefresh)

	api.GET("/usage", s.handleUsage)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}

// internalError logs err with its operation and answers with a generic 500.
func internalError(c *gin.Context, op string, err error) {
	log.Printf("gateway: %s %s: %s: %v", c.Request.Method, c.Request.URL.Path, op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op})
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "Invalid query param: "+key)
		return 0, false
	}
	return n, true
}
