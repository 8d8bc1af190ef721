// Package prwatch detects when a session's uncommitted files overlap with
// open pull requests, so agents can sync before their work conflicts.
package prwatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/activity"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/session"
)

// SyncThreshold is the total overlap at which a session is told to sync.
const SyncThreshold = 2

// PullRequestInfo is an open PR and the files it changes.
type PullRequestInfo struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Branch    string    `json:"branch"`
	Files     []string  `json:"files"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Overlap is one PR that touches files a session has not committed.
type Overlap struct {
	PR               PullRequestInfo `json:"pr"`
	OverlappingFiles []string        `json:"overlapping_files"`
	OverlapCount     int             `json:"overlap_count"`
}

// WatchStatus is the sync recommendation for a session.
type WatchStatus struct {
	OverlappingPRs []Overlap `json:"overlapping_prs"`
	ShouldSync     bool      `json:"should_sync"`
	SyncReason     string    `json:"sync_reason,omitempty"`
}

// Fetcher lists open PRs targeting base for the repository checked out at cwd.
type Fetcher interface {
	ListOpenPRs(ctx context.Context, cwd, base string) ([]PullRequestInfo, error)
}

// Watcher matches session activity against cached open PRs.
type Watcher struct {
	fetcher  Fetcher
	tracker  *activity.Tracker
	sessions *session.Registry
	cache    *Cache
	base     string

	// fetchMu keeps concurrent cache misses from fetching in parallel.
	fetchMu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithCache replaces the default cache.
func WithCache(c *Cache) Option {
	return func(w *Watcher) { w.cache = c }
}

// WithBase sets the trunk branch PRs must target.
func WithBase(base string) Option {
	return func(w *Watcher) {
		if base != "" {
			w.base = base
		}
	}
}

// NewWatcher creates a Watcher.
func NewWatcher(fetcher Fetcher, tracker *activity.Tracker, sessions *session.Registry, opts ...Option) *Watcher {
	w := &Watcher{
		fetcher:  fetcher,
		tracker:  tracker,
		sessions: sessions,
		base:     "main",
	}
	for _, o := range opts {
		o(w)
	}
	if w.cache == nil {
		w.cache = NewCache(DefaultCacheTTL, nil)
	}
	return w
}

// FetchOpenPRs returns the open PRs for cwd, served from cache while fresh.
// A failed fetch is logged and answered with the last good list, or an
// empty list if there never was one.
func (w *Watcher) FetchOpenPRs(ctx context.Context, cwd string) []PullRequestInfo {
	if prs, ok := w.cache.Fresh(cwd); ok {
		return prs
	}

	w.fetchMu.Lock()
	defer w.fetchMu.Unlock()
	if prs, ok := w.cache.Fresh(cwd); ok {
		return prs
	}

	prs, err := w.fetcher.ListOpenPRs(ctx, cwd, w.base)
	if err != nil {
		log.Printf("prwatch: fetch open PRs for %s: %v", cwd, err)
		if last, ok := w.cache.Last(cwd); ok {
			return last
		}
		return []PullRequestInfo{}
	}
	if prs == nil {
		prs = []PullRequestInfo{}
	}
	w.cache.Put(cwd, prs)
	return prs
}

// Refresh drops the cached list for cwd and fetches again.
func (w *Watcher) Refresh(ctx context.Context, cwd string) []PullRequestInfo {
	w.cache.Invalidate(cwd)
	return w.FetchOpenPRs(ctx, cwd)
}

// CachedAt reports when the list for cwd was last fetched.
func (w *Watcher) CachedAt(cwd string) (time.Time, bool) {
	return w.cache.FetchedAt(cwd)
}

// OverlappingPRs returns the open PRs that change files the session has
// not committed yet.
func (w *Watcher) OverlappingPRs(ctx context.Context, sessionID, cwd string) ([]Overlap, error) {
	files, err := w.tracker.UncommittedFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []Overlap{}, nil
	}
	return findOverlaps(files, w.FetchOpenPRs(ctx, cwd)), nil
}

// WatchStatus recommends a sync once SyncThreshold files overlap across
// all open PRs.
func (w *Watcher) WatchStatus(ctx context.Context, sessionID, cwd string) (WatchStatus, error) {
	overlaps, err := w.OverlappingPRs(ctx, sessionID, cwd)
	if err != nil {
		return WatchStatus{}, err
	}
	st := WatchStatus{OverlappingPRs: overlaps}
	total := 0
	for _, o := range overlaps {
		total += o.OverlapCount
	}
	if total >= SyncThreshold {
		st.ShouldSync = true
		st.SyncReason = fmt.Sprintf("%d uncommitted file(s) overlap with %d open PR(s)", total, len(overlaps))
	}
	return st, nil
}

// AllSessionOverlaps returns overlaps for every active session that has any.
func (w *Watcher) AllSessionOverlaps(ctx context.Context, cwd string) (map[string][]Overlap, error) {
	sessions, err := w.sessions.List(ctx, session.Filter{Status: models.SessionActive})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Overlap)
	for _, s := range sessions {
		dir := cwd
		if dir == "" {
			dir = s.Cwd
		}
		overlaps, err := w.OverlappingPRs(ctx, s.ID, dir)
		if err != nil {
			return nil, err
		}
		if len(overlaps) > 0 {
			out[s.ID] = overlaps
		}
	}
	return out, nil
}

// findOverlaps matches each local file against each PR's files. A local
// file counts at most once per PR.
func findOverlaps(local []string, prs []PullRequestInfo) []Overlap {
	overlaps := []Overlap{}
	for _, pr := range prs {
		var matched []string
		seen := make(map[string]bool)
		for _, f := range local {
			for _, prFile := range pr.Files {
				if !pathsOverlap(f, prFile) {
					continue
				}
				if !seen[prFile] {
					seen[prFile] = true
					matched = append(matched, prFile)
				}
				break
			}
		}
		if len(matched) > 0 {
			overlaps = append(overlaps, Overlap{
				PR:               pr,
				OverlappingFiles: matched,
				OverlapCount:     len(matched),
			})
		}
	}
	return overlaps
}

// pathsOverlap reports whether one path is a whole-segment suffix of the
// other, e.g. "/home/dev/app/src/a.ts" and "src/a.ts".
func pathsOverlap(a, b string) bool {
	a = strings.TrimPrefix(strings.TrimSpace(a), "./")
	b = strings.TrimPrefix(strings.TrimSpace(b), "./")
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}
