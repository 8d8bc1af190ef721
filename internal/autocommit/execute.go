package autocommit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zulandar/switchyard/internal/activity"
	"github.com/zulandar/switchyard/internal/gitexec"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/session"
	"gorm.io/gorm"
)

// intentLimit bounds how many recent records feed the commit message.
const intentLimit = 20

// Execute runs the commit pipeline for a session right now. Refusals and
// tool failures come back in the Result; the error is reserved for store
// failures.
func (p *Pipeline) Execute(ctx context.Context, sessionID string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, err := p.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return Result{Error: ErrSessionNotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}

	ok, reason, err := p.CanAutoCommit(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Error: reason}, nil
	}

	files, err := p.tracker.UncommittedFiles(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{Error: ErrNoFiles}, nil
	}

	git := gitexec.NewGit(p.runner, sess.Cwd)

	branch, err := p.currentBranch(ctx, git)
	if err != nil {
		return Result{Error: "Failed to read branch: " + err.Error()}, nil
	}
	if p.isTrunk(branch) {
		return Result{Error: ErrTrunkBranch, Branch: branch}, nil
	}

	changes, err := p.statusPorcelain(ctx, git)
	if err != nil {
		return Result{Error: "Failed to read git status: " + err.Error(), Branch: branch}, nil
	}
	if len(changes) == 0 {
		return Result{Error: ErrNoGitChanges, Branch: branch}, nil
	}

	if failure := p.runCheck(ctx, sess.Cwd, "typecheck", p.opts.TypecheckCommand, "Typecheck failed: "); failure != "" {
		return Result{Error: failure, Branch: branch}, nil
	}
	if failure := p.runCheck(ctx, sess.Cwd, "build", p.opts.BuildCommand, "Build failed: "); failure != "" {
		return Result{Error: failure, Branch: branch}, nil
	}

	subject, err := p.commitSubject(ctx, sessionID, files)
	if err != nil {
		return Result{}, err
	}
	message := subject + "\n\n" + p.opts.Trailer

	if err := p.commit(ctx, git, message); err != nil {
		return Result{Error: "Commit failed: " + err.Error(), Branch: branch}, nil
	}

	committed := make([]string, len(files))
	copy(committed, files)
	sort.Strings(committed)

	// The commit exists from here on. Activity stays uncommitted until a
	// hash is known.
	hash, err := p.headHash(ctx, git)
	if err != nil {
		log.Printf("autocommit: session %s committed on %s but HEAD is unreadable: %v", sessionID, branch, err)
		p.notify(ctx, notify.Event{
			Title:    "Auto-commit hash unknown",
			Body:     fmt.Sprintf("Committed on %s but failed to read HEAD: %v", branch, err),
			Severity: notify.SeverityWarning,
			Fields:   sessionFields(sess),
		})
		return Result{
			Error:          ErrHeadUnreadable + err.Error(),
			Message:        subject,
			FilesCommitted: committed,
			Branch:         branch,
		}, nil
	}

	res := Result{
		Success:        true,
		CommitHash:     hash,
		Message:        subject,
		FilesCommitted: committed,
		Branch:         branch,
	}

	if !p.opts.PushDisabled {
		if err := p.push(ctx, git, branch); err != nil {
			res.PushError = err.Error()
			log.Printf("autocommit: push %s for session %s: %v", branch, sessionID, err)
			p.notify(ctx, notify.Event{
				Title:    "Auto-commit push failed",
				Body:     fmt.Sprintf("Committed %s on %s but push failed: %v", shortHash(hash), branch, err),
				Severity: notify.SeverityWarning,
				Fields:   sessionFields(sess),
			})
		}
	}

	if err := p.recordCommit(ctx, sessionID, hash); err != nil {
		return res, err
	}

	log.Printf("autocommit: session %s committed %s on %s (%d files)", sessionID, shortHash(hash), branch, len(committed))
	p.notify(ctx, notify.Event{
		Title:    "Auto-commit",
		Body:     fmt.Sprintf("%s: %s", shortHash(hash), subject),
		Severity: notify.SeveritySuccess,
		Fields: append(sessionFields(sess),
			notify.Field{Name: "Branch", Value: branch},
			notify.Field{Name: "Files", Value: fmt.Sprintf("%d", len(committed))},
		),
	})
	return res, nil
}

func (p *Pipeline) currentBranch(ctx context.Context, git *gitexec.Git) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, p.opts.StepTimeout)
	defer cancel()
	return git.CurrentBranch(stepCtx)
}

func (p *Pipeline) statusPorcelain(ctx context.Context, git *gitexec.Git) ([]string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, p.opts.StepTimeout)
	defer cancel()
	return git.StatusPorcelain(stepCtx)
}

func (p *Pipeline) commit(ctx context.Context, git *gitexec.Git, message string) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.opts.StepTimeout)
	defer cancel()
	if err := git.AddAll(stepCtx); err != nil {
		return err
	}
	return git.Commit(stepCtx, message)
}

func (p *Pipeline) headHash(ctx context.Context, git *gitexec.Git) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, p.opts.StepTimeout)
	defer cancel()
	return git.HeadHash(stepCtx)
}

func (p *Pipeline) push(ctx context.Context, git *gitexec.Git, branch string) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.opts.StepTimeout)
	defer cancel()
	return git.Push(stepCtx, branch)
}

func (p *Pipeline) isTrunk(branch string) bool {
	for _, b := range p.opts.TrunkBranches {
		if b == branch {
			return true
		}
	}
	return false
}

// runCheck runs a configured or discovered verification command and returns
// a failure message, or "" when the check passed or does not apply.
func (p *Pipeline) runCheck(ctx context.Context, dir, script string, override []string, prefix string) string {
	name, args, ok := checkCommand(dir, script, override)
	if !ok {
		return ""
	}
	stepCtx, cancel := context.WithTimeout(ctx, p.opts.StepTimeout)
	defer cancel()
	if _, err := p.runner.Run(stepCtx, dir, name, args...); err != nil {
		return prefix + err.Error()
	}
	return ""
}

// checkCommand resolves the command for a verification step: the override
// when configured, otherwise "npm run <script>" when package.json defines it.
func checkCommand(dir, script string, override []string) (string, []string, bool) {
	if len(override) > 0 {
		return override[0], override[1:], true
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", nil, false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", nil, false
	}
	if _, ok := pkg.Scripts[script]; !ok {
		return "", nil, false
	}
	return "npm", []string{"run", script}, true
}

// commitSubject derives the commit subject from the session's recorded
// intents, falling back to a per-extension summary of the files.
func (p *Pipeline) commitSubject(ctx context.Context, sessionID string, files []string) (string, error) {
	records, err := p.tracker.Query(ctx, activity.Query{
		SessionID:       sessionID,
		UncommittedOnly: true,
		Limit:           intentLimit,
	})
	if err != nil {
		return "", err
	}

	var intents []string
	seen := make(map[string]bool)
	for _, r := range records {
		if r.Intent == nil {
			continue
		}
		intent := strings.TrimSpace(*r.Intent)
		if intent == "" || seen[intent] {
			continue
		}
		seen[intent] = true
		intents = append(intents, intent)
	}

	if len(intents) > 0 {
		return classifyIntent(intents[0]) + ": " + intents[0], nil
	}
	return "chore: update " + summarizeFiles(files), nil
}

// classifyIntent picks a conventional-commit type from the intent wording.
func classifyIntent(intent string) string {
	lower := strings.ToLower(intent)
	switch {
	case strings.Contains(lower, "fix"):
		return "fix"
	case strings.Contains(lower, "add"):
		return "feat"
	default:
		return "refactor"
	}
}

// summarizeFiles counts files per extension in first-seen order, e.g.
// "2 ts, 1 md".
func summarizeFiles(files []string) string {
	var order []string
	counts := make(map[string]int)
	for _, f := range files {
		ext := fileExt(f)
		if counts[ext] == 0 {
			order = append(order, ext)
		}
		counts[ext]++
	}
	parts := make([]string, 0, len(order))
	for _, ext := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[ext], ext))
	}
	return strings.Join(parts, ", ")
}

func fileExt(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "other"
	}
	return ext
}

// recordCommit marks the session's activity committed and stamps the
// config with the new commit.
func (p *Pipeline) recordCommit(ctx context.Context, sessionID, hash string) error {
	if _, err := p.tracker.MarkCommitted(ctx, sessionID, hash); err != nil {
		return err
	}
	now := p.opts.Now()
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := p.ensureConfig(tx, sessionID); err != nil {
			return err
		}
		return tx.Model(&models.AutoCommitConfig{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]interface{}{
				"last_commit_hash": hash,
				"last_commit_at":   now,
				"pending_since":    nil,
				"updated_at":       now,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("autocommit: record commit for %s: %w", sessionID, err)
	}
	return nil
}

func (p *Pipeline) notify(ctx context.Context, ev notify.Event) {
	// Notifier already logs sink failures.
	_ = p.opts.Notifier.Notify(ctx, ev)
}

func sessionFields(s *models.Session) []notify.Field {
	return []notify.Field{
		{Name: "Session", Value: s.ID},
		{Name: "Project", Value: s.Project},
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
