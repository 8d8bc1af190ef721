package coordination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

// OpBash is a shell operation; it takes no lock.
const OpBash = "bash"

// CheckRequest asks whether a session may perform an operation on a target.
type CheckRequest struct {
	SessionID string `json:"session_id"`
	Operation string `json:"operation"`
	Target    string `json:"target"`
}

// CheckResult answers a CheckRequest. BlockingSession describes the holder
// of the conflicting lock when the operation is refused.
type CheckResult struct {
	Allowed         bool             `json:"allowed"`
	Reason          string           `json:"reason,omitempty"`
	BlockingSession *BlockingSession `json:"blocking_session,omitempty"`
}

// BlockingSession identifies the session holding a conflicting lock. Client
// and user are empty when the session is already gone.
type BlockingSession struct {
	ID       string  `json:"id"`
	ClientID string  `json:"client_id,omitempty"`
	User     string  `json:"user,omitempty"`
	Branch   *string `json:"branch,omitempty"`
}

// RequiredMode maps an operation to the lock mode it needs. Writes need an
// exclusive lock, reads a shared one; bash needs none ("", true). Operation
// names are case-insensitive.
func RequiredMode(operation string) (string, bool) {
	switch strings.ToLower(operation) {
	case models.OpEdit, models.OpWrite, models.OpDelete:
		return models.LockExclusive, true
	case models.OpRead:
		return models.LockShared, true
	case OpBash:
		return "", true
	}
	return "", false
}

// CheckOperation reports whether req may proceed given the locks other
// sessions hold. It acquires nothing.
func (m *Manager) CheckOperation(ctx context.Context, req CheckRequest) (CheckResult, error) {
	if req.SessionID == "" || req.Operation == "" || req.Target == "" {
		return CheckResult{}, fmt.Errorf("%w: session_id, operation and target are required", ErrInvalid)
	}
	mode, ok := RequiredMode(req.Operation)
	if !ok {
		return CheckResult{}, fmt.Errorf("%w: unknown operation %q", ErrInvalid, req.Operation)
	}
	if mode == "" {
		return CheckResult{Allowed: true}, nil
	}

	lockType := LockTypeFor(req.Target)
	conflict, err := m.Conflict(ctx, req.SessionID, lockType, req.Target, mode)
	if err != nil {
		return CheckResult{}, err
	}
	if conflict == nil {
		return CheckResult{Allowed: true}, nil
	}

	blocking := &BlockingSession{ID: conflict.SessionID}
	var sess models.Session
	err = m.db.WithContext(ctx).Where("id = ?", conflict.SessionID).First(&sess).Error
	switch {
	case err == nil:
		blocking.ClientID = sess.ClientID
		blocking.User = sess.User
		blocking.Branch = sess.Branch
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return CheckResult{}, fmt.Errorf("coordination: load session %s: %w", conflict.SessionID, err)
	}

	return CheckResult{
		Allowed:         false,
		Reason:          fmt.Sprintf("%s %q is %s-locked by another session", lockType, req.Target, conflict.Mode),
		BlockingSession: blocking,
	}, nil
}
