package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/activity"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/session"
)

const (
	// recentPerSession caps how many of each peer's recent operations feed
	// the warnings.
	recentPerSession = 5

	// maxPRWarnings caps PR warnings in the status line.
	maxPRWarnings = 2
)

var operationVerbs = map[string]string{
	models.OpEdit:   "editing",
	models.OpWrite:  "writing",
	models.OpRead:   "reading",
	models.OpDelete: "deleting",
}

type peerSession struct {
	ID       string  `json:"id"`
	ClientID string  `json:"client_id"`
	Project  string  `json:"project"`
	Branch   *string `json:"branch"`
}

type prOverlapView struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Files  []string `json:"files"`
}

type statusResponse struct {
	OtherSessions    []peerSession       `json:"other_sessions"`
	Warnings         []string            `json:"warnings"`
	Nudges           []string            `json:"nudges"`
	UncommittedFiles []string            `json:"uncommitted_files"`
	PROverlaps       []prOverlapView     `json:"pr_overlaps"`
	Conflicts        []activity.Conflict `json:"conflicts"`
}

// GET /status?session_id= returns the coordination summary shown in an
// agent's status line.
func (s *server) handleStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		badRequest(c, "Missing required query param: session_id")
		return
	}
	resp, err := s.buildStatus(c.Request.Context(), sessionID)
	if err != nil {
		internalError(c, "get status", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) buildStatus(ctx context.Context, sessionID string) (*statusResponse, error) {
	active, err := s.Sessions.List(ctx, session.Filter{Status: models.SessionActive})
	if err != nil {
		return nil, err
	}

	resp := &statusResponse{
		OtherSessions:    []peerSession{},
		Warnings:         []string{},
		Nudges:           []string{},
		UncommittedFiles: []string{},
		PROverlaps:       []prOverlapView{},
		Conflicts:        []activity.Conflict{},
	}

	seen := make(map[string]bool)
	for _, peer := range active {
		if peer.ID == sessionID {
			continue
		}
		resp.OtherSessions = append(resp.OtherSessions, peerSession{
			ID: peer.ID, ClientID: peer.ClientID, Project: peer.Project, Branch: peer.Branch,
		})

		recent, err := s.Activity.Query(ctx, activity.Query{
			SessionID: peer.ID,
			Since:     activity.DefaultFileWindow,
			Limit:     recentPerSession,
		})
		if err != nil {
			return nil, err
		}
		name := displayName(peer)
		for _, r := range recent {
			short := shortPath(r.FilePath)
			key := name + ":" + short
			if seen[key] {
				continue
			}
			seen[key] = true
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s %s %s", name, operationVerb(r.Operation), short))
		}
	}

	files, err := s.Activity.UncommittedFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if files != nil {
		resp.UncommittedFiles = files
	}
	switch n := len(files); {
	case n == 1:
		resp.Nudges = append(resp.Nudges, "1 uncommitted file")
	case n > 1:
		resp.Nudges = append(resp.Nudges, fmt.Sprintf("%d uncommitted files", n))
	}

	conflicts, err := s.Activity.Conflicts(ctx, sessionID, activity.DefaultFileWindow)
	if err != nil {
		return nil, err
	}
	if conflicts != nil {
		resp.Conflicts = conflicts
	}

	// PR overlap is best effort; its failure never fails the status line.
	if len(files) > 0 {
		s.addPROverlaps(ctx, sessionID, resp)
	}
	return resp, nil
}

func (s *server) addPROverlaps(ctx context.Context, sessionID string, resp *statusResponse) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("gateway: status pr overlap for %s: %v", sessionID, err)
		return
	}
	overlaps, err := s.PRWatch.OverlappingPRs(ctx, sessionID, sess.Cwd)
	if err != nil {
		log.Printf("gateway: status pr overlap for %s: %v", sessionID, err)
		return
	}
	for i, o := range overlaps {
		resp.PROverlaps = append(resp.PROverlaps, prOverlapView{
			Number: o.PR.Number, Title: o.PR.Title, Files: o.OverlappingFiles,
		})
		if i < maxPRWarnings {
			resp.Warnings = append(resp.Warnings,
				fmt.Sprintf("PR #%d touches %d file(s) you're editing", o.PR.Number, o.OverlapCount))
		}
	}
}

// displayName prefers the session's user over the host part of its client id.
func displayName(s models.Session) string {
	if s.User != "" {
		return s.User
	}
	host, _, _ := strings.Cut(s.ClientID, ":")
	return host
}

func operationVerb(op string) string {
	if v, ok := operationVerbs[op]; ok {
		return v
	}
	return op + "ing"
}

// shortPath keeps the last two path segments.
func shortPath(p string) string {
	parts := strings.Split(p, "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "/")
}
