package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"toolhub/internal/db"
	"toolhub/internal/provider"
	"toolhub/internal/security"
)

// ErrNoPrimaryModel is returned when the dispatch config names no primary
// model. This is a fatal configuration condition, never retried.
var ErrNoPrimaryModel = errors.New("ai: no default model configured")

const (
	defaultTimeoutSeconds = 60
	defaultRetryAttempts  = 1
)

// ChatOptions carries per-call tuning.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the dispatch result plus cost metadata.
type ChatResponse struct {
	Content      string  `json:"content"`
	ProviderName string  `json:"provider"`
	ModelID      string  `json:"model_id"`
	Tokens       int64   `json:"tokens"`
	Cost         float64 `json:"cost"`
}

// Dispatcher resolves the configured model chain and routes chat calls
// through it, falling back sequentially on provider failure. Fallback
// attempts are never raced in parallel; one logical request produces at
// most one billable vendor call at a time.
type Dispatcher struct {
	conn   *gorm.DB
	cipher *security.Cipher
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(conn *gorm.DB, cipher *security.Cipher) *Dispatcher {
	return &Dispatcher{conn: conn, cipher: cipher}
}

// GetConfig returns the singleton dispatch config, creating it with
// defaults on first read.
func (d *Dispatcher) GetConfig(ctx context.Context) (*db.AIConfig, error) {
	var cfg db.AIConfig
	err := d.conn.WithContext(ctx).First(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ai: load config: %w", err)
	}

	cfg = db.AIConfig{
		RetryAttempts:  defaultRetryAttempts,
		TimeoutSeconds: defaultTimeoutSeconds,
		EnableFallback: true,
	}
	if errCreate := d.conn.WithContext(ctx).Create(&cfg).Error; errCreate != nil {
		return nil, fmt.Errorf("ai: create config: %w", errCreate)
	}
	return &cfg, nil
}

// Chat dispatches through the configured chain: primary, then (when
// fallback is enabled) fallback1 and fallback2, in that fixed order. Each
// model gets up to retryAttempts tries; the first success wins and the
// last error is surfaced when the chain is exhausted.
func (d *Dispatcher) Chat(ctx context.Context, messages []provider.Message, opts ChatOptions) (*ChatResponse, error) {
	cfg, err := d.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.PrimaryModelID == nil {
		return nil, ErrNoPrimaryModel
	}

	chain := []uint{*cfg.PrimaryModelID}
	if cfg.EnableFallback {
		if cfg.Fallback1ModelID != nil {
			chain = append(chain, *cfg.Fallback1ModelID)
		}
		if cfg.Fallback2ModelID != nil {
			chain = append(chain, *cfg.Fallback2ModelID)
		}
	}

	retries := cfg.RetryAttempts
	if retries < 1 {
		retries = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	var lastErr error
	for _, modelDBID := range chain {
		resp, errModel := d.chatModel(ctx, modelDBID, messages, opts, retries, timeout)
		if errModel == nil {
			return resp, nil
		}
		lastErr = errModel
		log.WithError(errModel).WithField("model_db_id", modelDBID).Warn("model attempt failed, moving to next in chain")
	}
	return nil, lastErr
}

// ChatWithModel dispatches to one specific model, bypassing the chain.
func (d *Dispatcher) ChatWithModel(ctx context.Context, modelDBID uint, messages []provider.Message, opts ChatOptions) (*ChatResponse, error) {
	cfg, err := d.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	retries := cfg.RetryAttempts
	if retries < 1 {
		retries = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}
	return d.chatModel(ctx, modelDBID, messages, opts, retries, timeout)
}

func (d *Dispatcher) chatModel(ctx context.Context, modelDBID uint, messages []provider.Message, opts ChatOptions, retries int, timeout time.Duration) (*ChatResponse, error) {
	model, err := d.loadActiveModel(ctx, modelDBID)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: timeout}
	vendor, err := BuildProvider(model.Provider, d.cipher, client)
	if err != nil {
		return nil, err
	}

	req := provider.ChatRequest{
		Model:       model.ModelID,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		result, errChat := vendor.Chat(ctx, req)
		if errChat == nil {
			return &ChatResponse{
				Content:      result.Content,
				ProviderName: vendor.Name(),
				ModelID:      model.ModelID,
				Tokens:       result.TotalTokens(),
				Cost:         modelCost(model, result),
			}, nil
		}
		lastErr = errChat
		log.WithError(errChat).WithFields(log.Fields{
			"provider": vendor.Name(),
			"model":    model.ModelID,
			"attempt":  attempt,
		}).Warn("chat attempt failed")
	}
	return nil, lastErr
}

// ProviderClient builds a vendor client for one stored provider, for
// model-listing and connectivity checks.
func (d *Dispatcher) ProviderClient(ctx context.Context, providerID uint) (provider.Provider, error) {
	var row db.AIProvider
	if err := d.conn.WithContext(ctx).First(&row, providerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ai: provider %d not found", providerID)
		}
		return nil, fmt.Errorf("ai: load provider: %w", err)
	}
	return BuildProvider(row, d.cipher, &http.Client{Timeout: defaultTimeoutSeconds * time.Second})
}

func (d *Dispatcher) loadActiveModel(ctx context.Context, modelDBID uint) (*db.AIModel, error) {
	var model db.AIModel
	err := d.conn.WithContext(ctx).Preload("Provider").First(&model, modelDBID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ai: model %d not found", modelDBID)
		}
		return nil, fmt.Errorf("ai: load model: %w", err)
	}
	if !model.IsActive {
		return nil, fmt.Errorf("ai: model %s is inactive", model.ModelID)
	}
	if !model.Provider.IsActive {
		return nil, fmt.Errorf("ai: provider %s is inactive", model.Provider.Name)
	}
	return &model, nil
}

// modelCost prices a result using the model's USD-per-million-token rates.
func modelCost(model *db.AIModel, result *provider.ChatResult) float64 {
	return (float64(result.InputTokens)*model.InputPrice +
		float64(result.OutputTokens)*model.OutputPrice) / 1_000_000
}
