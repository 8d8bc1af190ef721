// Package session is the registry of clients connected to the gateway.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalid is returned for missing fields or an unknown status.
	ErrInvalid = errors.New("session: invalid input")
)

// CreateInput holds the fields for registering a session.
type CreateInput struct {
	ID       string  `json:"id"`
	User     string  `json:"user"`
	Project  string  `json:"project"`
	Cwd      string  `json:"cwd"`
	Branch   *string `json:"branch"`
	ClientID string  `json:"client_id"`
}

// UpdateInput is a partial update; nil fields are left alone.
type UpdateInput struct {
	Branch         *string    `json:"branch"`
	Cwd            *string    `json:"cwd"`
	Status         *string    `json:"status"`
	LastActivityAt *time.Time `json:"last_activity_at"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	ClientID string
	Project  string
	Status   string
}

// Registry stores sessions in the shared store.
type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry backed by db.
func New(db *gorm.DB, opts ...Option) *Registry {
	r := &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create registers a new active session.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*models.Session, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if in.User == "" || in.Project == "" || in.Cwd == "" || in.ClientID == "" {
		return nil, fmt.Errorf("%w: user, project, cwd and client_id are required", ErrInvalid)
	}

	now := r.now()
	s := models.Session{
		ID:             in.ID,
		User:           in.User,
		Project:        in.Project,
		Cwd:            in.Cwd,
		Branch:         in.Branch,
		ClientID:       in.ClientID,
		Status:         models.SessionActive,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
		return nil, fmt.Errorf("session: create %s: %w", in.ID, err)
	}
	return &s, nil
}

// Get returns the session with the given id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &s, nil
}

// List returns sessions matching f, newest first.
func (r *Registry) List(ctx context.Context, f Filter) ([]models.Session, error) {
	q := r.db.WithContext(ctx)
	if f.ClientID != "" {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if f.Project != "" {
		q = q.Where("project = ?", f.Project)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var sessions []models.Session
	if err := q.Order("created_at DESC").Order("id").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return sessions, nil
}

// Update applies the non-nil fields of in. Moving a session to inactive
// stamps DeactivatedAt; moving it back to active clears it.
func (r *Registry) Update(ctx context.Context, id string, in UpdateInput) (*models.Session, error) {
	updates := map[string]interface{}{}
	if in.Branch != nil {
		updates["branch"] = *in.Branch
	}
	if in.Cwd != nil {
		updates["cwd"] = *in.Cwd
	}
	if in.LastActivityAt != nil {
		updates["last_activity_at"] = in.LastActivityAt.UTC()
	}
	if in.Status != nil {
		switch *in.Status {
		case models.SessionActive:
			updates["status"] = models.SessionActive
			updates["deactivated_at"] = nil
		case models.SessionInactive:
			updates["status"] = models.SessionInactive
			updates["deactivated_at"] = r.now()
		default:
			return nil, fmt.Errorf("%w: status %q", ErrInvalid, *in.Status)
		}
	}

	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("session: update %s: %w", id, err)
		}
	}
	return r.Get(ctx, id)
}

// Touch records activity on a session now.
func (r *Registry) Touch(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Update("last_activity_at", r.now())
	if result.Error != nil {
		return fmt.Errorf("session: touch %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session.
func (r *Registry) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session: delete %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupStale deletes sessions with no activity for longer than maxAge.
func (r *Registry) CleanupStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := r.now().Add(-maxAge)
	result := r.db.WithContext(ctx).Where("last_activity_at < ?", cutoff).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session: cleanup stale: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeactivateIdle marks active sessions with no activity for longer than idle
// as inactive.
func (r *Registry) DeactivateIdle(ctx context.Context, idle time.Duration) (int64, error) {
	now := r.now()
	result := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("status = ? AND last_activity_at < ?", models.SessionActive, now.Add(-idle)).
		Updates(map[string]interface{}{
			"status":         models.SessionInactive,
			"deactivated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("session: deactivate idle: %w", result.Error)
	}
	return result.RowsAffected, nil
}
