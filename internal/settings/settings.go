package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"toolhub/internal/db"
)

// DB config keys and fallbacks.
const (
	// SiteNameKey is the config key for the site name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback site name.
	DefaultSiteName = "toolhub"
	// GuestDailyLimitKey controls the daily quota for guests.
	GuestDailyLimitKey = "GUEST_DAILY_LIMIT"
	// UserDailyLimitKey controls the daily quota for authenticated non-subscribers.
	UserDailyLimitKey = "USER_DAILY_LIMIT"
	// DefaultGuestDailyLimit is the fallback guest quota.
	DefaultGuestDailyLimit = 10
	// DefaultUserDailyLimit is the fallback authenticated quota.
	DefaultUserDailyLimit = 50
)

// Store reads and writes DB-backed key/value settings.
type Store struct {
	conn *gorm.DB
}

// NewStore constructs a Store on the given connection.
func NewStore(conn *gorm.DB) *Store {
	return &Store{conn: conn}
}

// EnsureDefaults writes the daily limit keys when they are absent, so the
// environment-provided values become the initial admin-editable settings.
func (s *Store) EnsureDefaults(ctx context.Context, guestLimit, userLimit int) error {
	defaults := map[string]int{
		GuestDailyLimitKey: guestLimit,
		UserDailyLimitKey:  userLimit,
	}
	for key, value := range defaults {
		_, found, errGet := s.Get(ctx, key)
		if errGet != nil {
			return errGet
		}
		if found {
			continue
		}
		if errSet := s.Set(ctx, key, value); errSet != nil {
			return errSet
		}
	}
	return nil
}

// Get returns the raw JSON value for a key. The second return reports
// whether the key exists.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, nil
	}

	var row db.Setting
	err := s.conn.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return json.RawMessage(row.Value), true, nil
}

// GetInt returns the integer value for a key, or fallback when the key is
// absent or not an integer. Store errors are returned so callers can fail
// closed.
func (s *Store) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	var value int
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return fallback, nil
	}
	return value, nil
}

// GetString returns the string value for a key, or fallback.
func (s *Store) GetString(ctx context.Context, key string, fallback string) (string, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	var value string
	if errUnmarshal := json.Unmarshal(raw, &value); errUnmarshal != nil {
		return fallback, nil
	}
	return value, nil
}

// Set upserts a key with a JSON-encoded value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: empty key")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}

	row := db.Setting{Key: key, Value: encoded}
	if errSave := s.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error; errSave != nil {
		return fmt.Errorf("settings: set %s: %w", key, errSave)
	}
	return nil
}
