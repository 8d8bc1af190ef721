package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/killswitch"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/ratelimit"
	"github.com/zulandar/switchyard/internal/usage"
)

// GET /kill-switch
func (s *server) handleKillSwitchList(c *gin.Context) {
	switches, err := s.KillSwitches.List(c.Request.Context())
	if err != nil {
		internalError(c, "list kill switches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kill_switches": switches})
}

type killSwitchRequest struct {
	Service string `json:"service"`
	Reason  string `json:"reason"`
}

// notifyTimeout bounds an operator notification sent after the response.
const notifyTimeout = 10 * time.Second

// notifyAsync delivers ev off the request path so a slow or rate-limited
// sink never holds up the response.
func (s *server) notifyAsync(ev notify.Event) {
	if s.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		// Notifier already logs sink failures.
		_ = s.Notifier.Notify(ctx, ev)
	}()
}

// POST /kill-switch/activate
func (s *server) handleKillSwitchActivate(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.Service == "" {
		badRequest(c, "Missing required field: service")
		return
	}
	ctx := c.Request.Context()
	if err := s.KillSwitches.Activate(ctx, req.Service, req.Reason); err != nil {
		internalError(c, "activate kill switch", err)
		return
	}

	target := req.Service
	if target == killswitch.Global {
		target = "all services"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "service": req.Service})
	s.notifyAsync(notify.Event{
		Title:    "Kill switch activated",
		Body:     target + " disabled by " + clientID(c),
		Severity: notify.SeverityError,
		Fields:   []notify.Field{{Name: "Reason", Value: req.Reason}},
	})
}

// POST /kill-switch/deactivate
func (s *server) handleKillSwitchDeactivate(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.Service == "" {
		badRequest(c, "Missing required field: service")
		return
	}
	ctx := c.Request.Context()
	if err := s.KillSwitches.Deactivate(ctx, req.Service); err != nil {
		internalError(c, "deactivate kill switch", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "service": req.Service})
	s.notifyAsync(notify.Event{
		Title:    "Kill switch cleared",
		Body:     req.Service + " re-enabled by " + clientID(c),
		Severity: notify.SeveritySuccess,
	})
}

// GET /rate-limit/status?service=
func (s *server) handleRateLimitStatus(c *gin.Context) {
	name := c.Query("service")
	if name == "" {
		badRequest(c, "Missing required query param: service")
		return
	}
	svc, ok := s.Config.Service(name)
	if !ok {
		notFound(c, "Unknown service")
		return
	}
	st, err := s.Limiter.Status(c.Request.Context(), name, limiterConfig(svc))
	if err != nil {
		internalError(c, "get rate limit status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": name, "status": st})
}

// POST /rate-limit/renew
func (s *server) handleRateLimitRenew(c *gin.Context) {
	var req struct {
		LeaseToken string `json:"lease_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.LeaseToken == "" {
		badRequest(c, "Missing required field: lease_token")
		return
	}
	lease, err := s.Limiter.Renew(c.Request.Context(), req.LeaseToken)
	if errors.Is(err, ratelimit.ErrLeaseNotFound) {
		notFound(c, "Lease not found or expired")
		return
	}
	if err != nil {
		internalError(c, "renew lease", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "expires_at": lease.ExpiresAt})
}

// GET /usage?service=&client_id=&since=&limit=
func (s *server) handleUsage(c *gin.Context) {
	since, ok := queryInt(c, "since", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", usage.DefaultLimit)
	if !ok {
		return
	}
	f := usage.Filter{
		Service:  c.Query("service"),
		ClientID: c.Query("client_id"),
		Since:    time.Duration(since) * time.Second,
		Limit:    limit,
	}
	ctx := c.Request.Context()
	rows, err := s.Usage.List(ctx, f)
	if err != nil {
		internalError(c, "list usage", err)
		return
	}
	totals, err := s.Usage.Totals(ctx, f)
	if err != nil {
		internalError(c, "list usage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": rows, "count": len(rows), "totals": totals})
}
