package usagelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"toolhub/internal/db"
	"toolhub/internal/identity"
	"toolhub/internal/settings"
)

// Caller tier classifications.
const (
	UserTypeGuest      = "guest"
	UserTypeUser       = "user"
	UserTypeSubscriber = "subscriber"
)

// Decision is the outcome of a usage limit check. It is computed per
// request and never persisted.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Remaining       int    `json:"remaining"`
	Limit           int    `json:"limit"`
	UserType        string `json:"user_type"`
	Reason          string `json:"reason,omitempty"`
	RequiresLogin   bool   `json:"requires_login,omitempty"`
	RequiresUpgrade bool   `json:"requires_upgrade,omitempty"`
}

// Limiter computes tiered daily quotas against the usage ledger.
type Limiter struct {
	conn     *gorm.DB
	settings *settings.Store
}

// NewLimiter constructs a Limiter.
func NewLimiter(conn *gorm.DB, store *settings.Store) *Limiter {
	return &Limiter{conn: conn, settings: store}
}

// Check computes the usage decision for the caller. It is idempotent and
// side-effect free: calling it any number of times without an intervening
// Record yields the same result. A ledger read failure is returned as an
// error (fail closed), never as a default allow.
func (l *Limiter) Check(ctx context.Context, bundle identity.Bundle) (*Decision, error) {
	return l.check(ctx, l.conn, bundle, false)
}

func (l *Limiter) check(ctx context.Context, tx *gorm.DB, bundle identity.Bundle, lock bool) (*Decision, error) {
	userType, limit, err := l.resolveTier(ctx, bundle)
	if err != nil {
		return nil, err
	}

	dayStart := startOfDay(time.Now())

	// Two correlation keys are counted independently and the maximum wins.
	// Clearing cookies resets the session/fingerprint count but not the IP
	// count, so local-state resets cannot refresh the quota.
	identityCount, err := l.countSince(ctx, tx, dayStart, lock, func(q *gorm.DB) *gorm.DB {
		if bundle.DeviceFingerprint != "" {
			return q.Where("session_id = ? OR device_fingerprint = ?", bundle.SessionID, bundle.DeviceFingerprint)
		}
		return q.Where("session_id = ?", bundle.SessionID)
	})
	if err != nil {
		return nil, err
	}

	ipCount, err := l.countSince(ctx, tx, dayStart, lock, func(q *gorm.DB) *gorm.DB {
		return q.Where("ip_address = ?", bundle.IPAddress)
	})
	if err != nil {
		return nil, err
	}

	effective := identityCount
	if ipCount > effective {
		effective = ipCount
	}

	decision := &Decision{
		Allowed:   effective < limit,
		Remaining: maxInt(0, limit-effective),
		Limit:     limit,
		UserType:  userType,
	}

	if !decision.Allowed {
		switch userType {
		case UserTypeGuest:
			decision.Reason = "Daily free limit reached. Sign in for a higher limit."
			decision.RequiresLogin = true
		case UserTypeUser:
			decision.Reason = "Daily limit reached. Upgrade your plan for a higher limit."
			decision.RequiresUpgrade = true
		default:
			decision.Reason = "Daily limit reached. Your limit resets tomorrow."
		}
	}

	return decision, nil
}

// Record appends exactly one ledger entry. It never batches and never
// deduplicates; callers are responsible for check-before-record ordering
// (or use CheckAndRecord).
func (l *Limiter) Record(ctx context.Context, toolSlug string, bundle identity.Bundle, usedAI bool, aiTokens int64, aiCost float64) error {
	return recordTx(ctx, l.conn, toolSlug, bundle, usedAI, aiTokens, aiCost)
}

// CheckAndRecord performs the limit check and the ledger append inside one
// transaction, so two concurrent requests from the same identity cannot
// both pass a pre-increment count. When the decision denies, no record is
// written and the decision is returned with a nil error.
func (l *Limiter) CheckAndRecord(ctx context.Context, toolSlug string, bundle identity.Bundle, usedAI bool, aiTokens int64, aiCost float64) (*Decision, error) {
	var decision *Decision
	err := l.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		checked, errCheck := l.check(ctx, tx, bundle, true)
		if errCheck != nil {
			return errCheck
		}
		decision = checked
		if !checked.Allowed {
			return nil
		}
		if errRecord := recordTx(ctx, tx, toolSlug, bundle, usedAI, aiTokens, aiCost); errRecord != nil {
			return errRecord
		}
		decision.Remaining = maxInt(0, decision.Remaining-1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

func recordTx(ctx context.Context, tx *gorm.DB, toolSlug string, bundle identity.Bundle, usedAI bool, aiTokens int64, aiCost float64) error {
	row := db.UsageRecord{
		ToolSlug:          toolSlug,
		UserID:            bundle.UserID,
		SessionID:         bundle.SessionID,
		IPAddress:         bundle.IPAddress,
		DeviceFingerprint: bundle.DeviceFingerprint,
		UserAgent:         bundle.UserAgent,
		UsedAI:            usedAI,
		AITokens:          aiTokens,
		AICost:            aiCost,
		CreatedAt:         time.Now(),
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("usagelimit: record: %w", err)
	}
	log.WithFields(log.Fields{
		"tool":    toolSlug,
		"session": bundle.SessionID,
		"used_ai": usedAI,
	}).Debug("usage recorded")
	return nil
}

// resolveTier classifies the caller and returns the applicable daily limit.
func (l *Limiter) resolveTier(ctx context.Context, bundle identity.Bundle) (string, int, error) {
	if bundle.UserID == nil {
		limit, err := l.settings.GetInt(ctx, settings.GuestDailyLimitKey, settings.DefaultGuestDailyLimit)
		if err != nil {
			return "", 0, err
		}
		return UserTypeGuest, limit, nil
	}

	var sub db.Subscription
	err := l.conn.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ? AND status = ? AND current_period_end > ?",
			*bundle.UserID, db.SubscriptionStatusActive, time.Now()).
		Order("current_period_end DESC").
		Take(&sub).Error
	if err == nil && sub.Plan.DailyLimit > 0 {
		return UserTypeSubscriber, sub.Plan.DailyLimit, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, fmt.Errorf("usagelimit: load subscription: %w", err)
	}

	limit, errLimit := l.settings.GetInt(ctx, settings.UserDailyLimitKey, settings.DefaultUserDailyLimit)
	if errLimit != nil {
		return "", 0, errLimit
	}
	return UserTypeUser, limit, nil
}

// countSince counts today's ledger rows matching the narrowed query. With
// lock set, matching rows are selected FOR UPDATE on dialects that support
// it; SQLite serializes writing transactions on its own.
func (l *Limiter) countSince(ctx context.Context, tx *gorm.DB, since time.Time, lock bool, narrow func(*gorm.DB) *gorm.DB) (int, error) {
	q := tx.WithContext(ctx).Model(&db.UsageRecord{}).Where("created_at >= ?", since)
	q = narrow(q)

	if lock && !db.IsSQLite(tx) {
		// FOR UPDATE cannot be combined with an aggregate, so lock the ids.
		var ids []uint64
		if err := q.Clauses(clause.Locking{Strength: "UPDATE"}).Pluck("id", &ids).Error; err != nil {
			return 0, fmt.Errorf("usagelimit: count usage: %w", err)
		}
		return len(ids), nil
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("usagelimit: count usage: %w", err)
	}
	return int(count), nil
}

// startOfDay returns local server midnight for the day containing t. The
// quota window is the calendar day, not a rolling 24 hours.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
