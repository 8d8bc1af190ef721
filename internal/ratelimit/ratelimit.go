// Package ratelimit implements per-service admission control: a persisted
// token bucket for requests-per-minute limits and expiring leases for
// concurrency limits. Every decision is returned immediately; callers that
// are denied schedule their own retry from RetryAfterMs.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Type selects the admission algorithm for a service.
type Type string

const (
	TypeRPM         Type = "rpm"
	TypeConcurrency Type = "concurrency"
	TypeNone        Type = "none"
)

const (
	// Unlimited is the Remaining value reported for services without a limit.
	Unlimited = -1

	// DefaultLeaseTTL is how long a concurrency lease lives without renewal.
	DefaultLeaseTTL = 10 * time.Minute

	defaultRPM         = 60
	defaultConcurrency = 1

	// storeErrorRetryMs is the back-off suggested when the store itself fails.
	storeErrorRetryMs = 1000
)

// ErrLeaseNotFound is returned when renewing a lease that expired or was released.
var ErrLeaseNotFound = errors.New("ratelimit: lease not found")

// Config is the admission policy for one service.
type Config struct {
	Type  Type
	Limit int
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Remaining    int    `json:"remaining"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
	LeaseToken   string `json:"lease_token,omitempty"`
}

// Status is a read-only view of a service's remaining budget.
type Status struct {
	Type      Type `json:"type"`
	Limit     *int `json:"limit"`
	Remaining int  `json:"remaining"`
}

// Limiter makes admission decisions against the shared store.
type Limiter struct {
	db       *gorm.DB
	now      func() time.Time
	leaseTTL time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLeaseTTL overrides DefaultLeaseTTL.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(l *Limiter) {
		if ttl > 0 {
			l.leaseTTL = ttl
		}
	}
}

// New creates a Limiter backed by db.
func New(db *gorm.DB, opts ...Option) *Limiter {
	l := &Limiter{
		db:       db,
		now:      func() time.Time { return time.Now().UTC() },
		leaseTTL: DefaultLeaseTTL,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// DefaultHolder identifies this process when a caller does not name itself.
func DefaultHolder() string {
	return fmt.Sprintf("pid-%d", os.Getpid())
}

// Check decides whether one request against service may proceed. For
// concurrency limits an allowed decision carries a lease token that the
// caller must Release when done. Check never fails: a store error is logged
// and reported as a denial.
func (l *Limiter) Check(ctx context.Context, service string, cfg Config, holder string) Decision {
	switch cfg.Type {
	case TypeNone:
		return Decision{Allowed: true, Remaining: Unlimited}
	case TypeConcurrency:
		limit := cfg.Limit
		if limit <= 0 {
			limit = defaultConcurrency
		}
		if holder == "" {
			holder = DefaultHolder()
		}
		d, err := l.acquireLease(ctx, service, limit, holder)
		if err != nil {
			log.Printf("ratelimit: acquire lease for %s: %v", service, err)
			return Decision{Allowed: false, Remaining: 0, RetryAfterMs: storeErrorRetryMs}
		}
		return d
	default:
		rate := cfg.Limit
		if rate <= 0 {
			rate = defaultRPM
		}
		d, err := l.consumeToken(ctx, service, rate)
		if err != nil {
			log.Printf("ratelimit: consume token for %s: %v", service, err)
			return Decision{Allowed: false, Remaining: 0, RetryAfterMs: storeErrorRetryMs}
		}
		return d
	}
}

// consumeToken refills the bucket for the elapsed time and takes one token,
// all inside one transaction.
func (l *Limiter) consumeToken(ctx context.Context, service string, rate int) (Decision, error) {
	var d Decision
	now := l.now()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bucket models.RateLimitBucket
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("service = ?", service).
			Limit(1).
			Find(&bucket)
		if result.Error != nil {
			return fmt.Errorf("load bucket: %w", result.Error)
		}

		tokens := float64(rate)
		if result.RowsAffected > 0 {
			tokens = refill(bucket.Tokens, bucket.LastRefillAt, now, rate)
		}

		if tokens >= 1 {
			tokens--
			d = Decision{Allowed: true, Remaining: int(math.Floor(tokens))}
		} else {
			d = Decision{Allowed: false, Remaining: 0, RetryAfterMs: retryAfterMs(tokens, rate)}
		}

		bucket = models.RateLimitBucket{
			Service:       service,
			Tokens:        tokens,
			LastRefillAt:  now,
			RatePerMinute: rate,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "service"}},
			DoUpdates: clause.AssignmentColumns([]string{"tokens", "last_refill_at", "rate_per_minute"}),
		}).Create(&bucket).Error; err != nil {
			return fmt.Errorf("save bucket: %w", err)
		}
		return nil
	})
	return d, err
}

// refill adds elapsed/60s * rate tokens, clamped to [0, rate].
func refill(tokens float64, lastRefill, now time.Time, rate int) float64 {
	elapsed := now.Sub(lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	tokens += elapsed.Seconds() * float64(rate) / 60
	return math.Max(0, math.Min(float64(rate), tokens))
}

// retryAfterMs is the time until the bucket holds one whole token.
func retryAfterMs(tokens float64, rate int) int64 {
	return int64(math.Ceil((1 - tokens) * 60000 / float64(rate)))
}

// acquireLease purges expired leases, then grants a new one if the service
// is under its limit.
func (l *Limiter) acquireLease(ctx context.Context, service string, limit int, holder string) (Decision, error) {
	var d Decision
	now := l.now()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("service = ? AND expires_at < ?", service, now).
			Delete(&models.ConcurrencyLease{}).Error; err != nil {
			return fmt.Errorf("purge expired leases: %w", err)
		}

		var inFlight int64
		if err := tx.Model(&models.ConcurrencyLease{}).
			Where("service = ?", service).
			Count(&inFlight).Error; err != nil {
			return fmt.Errorf("count leases: %w", err)
		}

		if inFlight >= int64(limit) {
			d = Decision{Allowed: false, Remaining: 0}
			return nil
		}

		lease := models.ConcurrencyLease{
			Token:      uuid.NewString(),
			Service:    service,
			Holder:     holder,
			AcquiredAt: now,
			RenewedAt:  now,
			ExpiresAt:  now.Add(l.leaseTTL),
		}
		if err := tx.Create(&lease).Error; err != nil {
			return fmt.Errorf("create lease: %w", err)
		}
		d = Decision{Allowed: true, Remaining: limit - int(inFlight) - 1, LeaseToken: lease.Token}
		return nil
	})
	return d, err
}

// Renew extends a live lease by the lease TTL. It returns ErrLeaseNotFound
// if the lease already expired or was released.
func (l *Limiter) Renew(ctx context.Context, token string) (*models.ConcurrencyLease, error) {
	now := l.now()
	result := l.db.WithContext(ctx).Model(&models.ConcurrencyLease{}).
		Where("token = ? AND expires_at >= ?", token, now).
		Updates(map[string]interface{}{
			"renewed_at": now,
			"expires_at": now.Add(l.leaseTTL),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("ratelimit: renew lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrLeaseNotFound
	}

	var lease models.ConcurrencyLease
	if err := l.db.WithContext(ctx).Where("token = ?", token).First(&lease).Error; err != nil {
		return nil, fmt.Errorf("ratelimit: load lease: %w", err)
	}
	return &lease, nil
}

// Release gives back the caller's lease. Releasing an unknown lease is a no-op.
func (l *Limiter) Release(ctx context.Context, service, token string) error {
	if token == "" {
		return nil
	}
	if err := l.db.WithContext(ctx).
		Where("service = ? AND token = ?", service, token).
		Delete(&models.ConcurrencyLease{}).Error; err != nil {
		return fmt.Errorf("ratelimit: release lease: %w", err)
	}
	return nil
}

// ReleaseHolder gives back every lease a holder owns on service.
func (l *Limiter) ReleaseHolder(ctx context.Context, service, holder string) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("service = ? AND holder = ?", service, holder).
		Delete(&models.ConcurrencyLease{})
	if result.Error != nil {
		return 0, fmt.Errorf("ratelimit: release holder %s: %w", holder, result.Error)
	}
	return result.RowsAffected, nil
}

// Status reports the remaining budget without consuming or writing anything.
func (l *Limiter) Status(ctx context.Context, service string, cfg Config) (Status, error) {
	switch cfg.Type {
	case TypeNone:
		return Status{Type: TypeNone, Remaining: Unlimited}, nil
	case TypeConcurrency:
		limit := cfg.Limit
		if limit <= 0 {
			limit = defaultConcurrency
		}
		var inFlight int64
		if err := l.db.WithContext(ctx).Model(&models.ConcurrencyLease{}).
			Where("service = ? AND expires_at >= ?", service, l.now()).
			Count(&inFlight).Error; err != nil {
			return Status{}, fmt.Errorf("ratelimit: status %s: %w", service, err)
		}
		remaining := limit - int(inFlight)
		if remaining < 0 {
			remaining = 0
		}
		return Status{Type: TypeConcurrency, Limit: &limit, Remaining: remaining}, nil
	default:
		rate := cfg.Limit
		if rate <= 0 {
			rate = defaultRPM
		}
		var bucket models.RateLimitBucket
		result := l.db.WithContext(ctx).Where("service = ?", service).Limit(1).Find(&bucket)
		if result.Error != nil {
			return Status{}, fmt.Errorf("ratelimit: status %s: %w", service, result.Error)
		}
		if result.RowsAffected == 0 {
			return Status{Type: TypeRPM, Limit: &rate, Remaining: rate}, nil
		}
		tokens := refill(bucket.Tokens, bucket.LastRefillAt, l.now(), rate)
		return Status{Type: TypeRPM, Limit: &rate, Remaining: int(math.Floor(tokens))}, nil
	}
}
