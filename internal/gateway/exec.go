package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/gitexec"
	"github.com/zulandar/switchyard/internal/ratelimit"
	"github.com/zulandar/switchyard/internal/usage"
)

type serviceView struct {
	Name      string                 `json:"name"`
	Command   string                 `json:"command,omitempty"`
	Enabled   bool                   `json:"enabled"`
	RateLimit config.RateLimitConfig `json:"rate_limit"`
	Approval  *config.ApprovalConfig `json:"approval,omitempty"`
}

func (s *server) serviceViews(detail bool) []serviceView {
	views := make([]serviceView, 0, len(s.Config.Services))
	for _, svc := range s.Config.Services {
		v := serviceView{Name: svc.Name, Enabled: svc.IsEnabled(), RateLimit: svc.RateLimit}
		if detail {
			v.Command = svc.Command
			rules := svc.Approval
			v.Approval = &rules
		}
		views = append(views, v)
	}
	return views
}

func (s *server) serviceNames() []string {
	names := make([]string, 0, len(s.Config.Services))
	for _, svc := range s.Config.Services {
		names = append(names, svc.Name)
	}
	return names
}

func limiterConfig(svc config.ServiceConfig) ratelimit.Config {
	return ratelimit.Config{Type: ratelimit.Type(svc.RateLimit.Type), Limit: svc.RateLimit.Limit}
}

// GET /health
func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  s.Version,
		"services": s.serviceViews(false),
	})
}

// GET /services
func (s *server) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": s.serviceViews(true)})
}

type execRequest struct {
	Service string   `json:"service"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd"`
	// Confirmed is set once the user approved a command listed under
	// approval.requires.
	Confirmed bool `json:"confirmed"`
}

// POST /exec runs a service tool: kill switch, then approval, then rate
// limit, then the process, then the usage log. Output is returned as plain text with the
// exit code in X-Exit-Code.
func (s *server) handleExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body")
		return
	}
	if req.Service == "" || req.Command == "" {
		badRequest(c, "Missing required fields: service, command")
		return
	}

	svc, ok := s.Config.Service(req.Service)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     fmt.Sprintf("Unknown service %q", req.Service),
			"available": s.serviceNames(),
		})
		return
	}
	if !svc.IsEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("Service %q is disabled", req.Service)})
		return
	}

	ctx := c.Request.Context()
	killed, reason, err := s.KillSwitches.IsKilled(ctx, req.Service)
	if err != nil {
		internalError(c, "check kill switch", err)
		return
	}
	if killed {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  fmt.Sprintf("Service %q is killed", req.Service),
			"reason": reason,
		})
		return
	}

	client := clientID(c)
	if ap := checkApproval(req.Command, svc.Approval); ap.needsConfirmation {
		if !req.Confirmed {
			c.JSON(http.StatusForbidden, gin.H{
				"error":                 ap.reason,
				"requires_confirmation": true,
			})
			return
		}
		log.Printf("gateway: %s confirmed %s/%s", client, req.Service, req.Command)
	}

	decision := s.Limiter.Check(ctx, req.Service, limiterConfig(svc), client)
	if !decision.Allowed {
		retryAfter := 60
		if decision.RetryAfterMs > 0 {
			retryAfter = int((decision.RetryAfterMs + 999) / 1000)
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":          fmt.Sprintf("Rate limit exceeded for service %q", req.Service),
			"retry_after_ms": decision.RetryAfterMs,
		})
		return
	}
	defer func() {
		if err := s.Limiter.Release(context.Background(), req.Service, decision.LeaseToken); err != nil {
			log.Printf("gateway: release lease for %s: %v", req.Service, err)
		}
	}()

	args := append(append([]string{}, svc.Args...), req.Command)
	args = append(args, req.Args...)
	log.Printf("gateway: %s -> %s/%s %s", client, req.Service, req.Command, strings.Join(req.Args, " "))

	res, runErr := s.Runner.Run(ctx, req.Cwd, svc.Command, args...)
	exitCode := res.ExitCode
	output := res.Stdout + res.Stderr
	var exitErr *gitexec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		if exitCode == 0 {
			exitCode = 1
		}
		output = "Error: " + runErr.Error()
	}

	if _, err := s.Usage.Record(context.Background(), usage.Entry{
		Service:  req.Service,
		Command:  req.Command,
		ExitCode: &exitCode,
		Duration: res.Duration,
		ClientID: client,
	}); err != nil {
		log.Printf("gateway: record usage for %s: %v", req.Service, err)
	}

	status := http.StatusOK
	if exitCode != 0 {
		status = http.StatusInternalServerError
	}
	c.Header("X-Exit-Code", strconv.Itoa(exitCode))
	c.Header("X-Duration-Ms", strconv.FormatInt(res.Duration.Milliseconds(), 10))
	c.Data(status, "text/plain; charset=utf-8", []byte(output))
}
