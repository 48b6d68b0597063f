package db

import (
	"time"

	"gorm.io/datatypes"
)

// Role Definitions
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Subscription states
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPastDue  = "past_due"
)

// AI provider families
const (
	ProviderTypeOpenAI    = "openai"
	ProviderTypeAnthropic = "anthropic"
	ProviderTypeGemini    = "gemini"
	ProviderTypeCustom    = "custom"
)

// User represents an authenticated account.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `json:"-"` // Hashed password, never exposed
	Role         string    `gorm:"default:'user'" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Plan defines a paid tier and its daily usage allowance.
type Plan struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"uniqueIndex;not null" json:"name"`
	DailyLimit int    `gorm:"not null" json:"daily_limit"`
	PriceCents int    `gorm:"default:0" json:"price_cents"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`
}

// Subscription links a user to a plan. A user counts as a subscriber only
// while the subscription is active and the current period has not lapsed.
type Subscription struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"index;not null" json:"user_id"`
	PlanID           uint      `gorm:"not null" json:"plan_id"`
	Plan             Plan      `json:"plan,omitempty"`
	Status           string    `gorm:"default:'active'" json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tool is a catalog entry for one micro-tool.
type Tool struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	UsesAI      bool   `gorm:"not null" json:"uses_ai"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
}

// UsageRecord is one immutable ledger entry per successful tool invocation.
// Records are append-only; no update or delete path exists.
type UsageRecord struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ToolSlug          string    `gorm:"index;not null" json:"tool_slug"`
	UserID            *uint     `gorm:"index" json:"user_id,omitempty"`
	SessionID         string    `gorm:"index;not null" json:"session_id"`
	IPAddress         string    `gorm:"index;not null" json:"ip_address"`
	DeviceFingerprint string    `gorm:"index" json:"device_fingerprint,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	UsedAI            bool      `gorm:"default:false" json:"used_ai"`
	AITokens          int64     `gorm:"default:0" json:"ai_tokens"`
	AICost            float64   `gorm:"default:0" json:"ai_cost"`
	CreatedAt         time.Time `gorm:"index;not null" json:"created_at"`
}

// AIProvider holds connection details for one upstream AI vendor.
// The API key is encrypted at rest and never serialized.
type AIProvider struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"uniqueIndex;not null" json:"name"`
	Type            string         `gorm:"not null" json:"type"` // openai | anthropic | gemini | custom
	APIKeyEncrypted string         `json:"-"`
	BaseURL         string         `json:"base_url"`
	ExtraHeaders    datatypes.JSON `json:"extra_headers,omitempty"` // custom endpoints only
	IsActive        bool           `gorm:"default:true" json:"is_active"`
	Order           int            `gorm:"column:sort_order;default:0" json:"order"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// AIModel is one selectable model belonging to a provider.
type AIModel struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ProviderID   uint           `gorm:"index;not null" json:"provider_id"`
	Provider     AIProvider     `json:"provider,omitempty"`
	ModelID      string         `gorm:"not null" json:"model_id"` // vendor-side identifier
	Name         string         `json:"name"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	Capabilities datatypes.JSON `json:"capabilities,omitempty"` // {"vision":bool,"tools":bool,"streaming":bool}
	// Prices are USD per million tokens.
	InputPrice  float64 `gorm:"default:0" json:"input_price"`
	OutputPrice float64 `gorm:"default:0" json:"output_price"`
}

// AIConfig is the singleton dispatch configuration. It is lazily created
// with defaults on first read and never deleted.
type AIConfig struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PrimaryModelID   *uint     `json:"primary_model_id"`
	Fallback1ModelID *uint     `json:"fallback1_model_id"`
	Fallback2ModelID *uint     `json:"fallback2_model_id"`
	RetryAttempts    int       `gorm:"default:1" json:"retry_attempts"`
	TimeoutSeconds   int       `gorm:"default:60" json:"timeout_seconds"`
	EnableFallback   bool      `gorm:"default:true" json:"enable_fallback"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Setting stores a key/value configuration entry in the database.
type Setting struct {
	Key       string         `gorm:"type:varchar(255);primaryKey" json:"key"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
