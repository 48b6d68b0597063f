package api

import (
	"time"

	"toolhub/internal/db"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// maskedKey is what every API response shows in place of a stored
// credential. Plaintext keys exist only in memory, between decrypt and
// the outbound vendor request.
const maskedKey = "***hidden***"

type providerResponse struct {
	ID           uint           `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	APIKey       string         `json:"api_key"`
	BaseURL      string         `json:"base_url"`
	ExtraHeaders datatypes.JSON `json:"extra_headers,omitempty"`
	IsActive     bool           `json:"is_active"`
	Order        int            `json:"order"`
}

func toProviderResponse(p db.AIProvider) providerResponse {
	resp := providerResponse{
		ID:           p.ID,
		Name:         p.Name,
		Type:         p.Type,
		BaseURL:      p.BaseURL,
		ExtraHeaders: p.ExtraHeaders,
		IsActive:     p.IsActive,
		Order:        p.Order,
	}
	if p.APIKeyEncrypted != "" {
		resp.APIKey = maskedKey
	}
	return resp
}

// ListProvidersHandler - GET /api/admin/providers
func (s *Server) ListProvidersHandler(c *gin.Context) {
	var providers []db.AIProvider
	if err := s.conn.Order("sort_order, id").Find(&providers).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to fetch providers"})
		return
	}
	out := make([]providerResponse, 0, len(providers))
	for _, p := range providers {
		out = append(out, toProviderResponse(p))
	}
	c.JSON(200, out)
}

type providerRequest struct {
	Name         string         `json:"name" binding:"required"`
	Type         string         `json:"type" binding:"required"`
	APIKey       string         `json:"api_key"`
	BaseURL      string         `json:"base_url"`
	ExtraHeaders datatypes.JSON `json:"extra_headers"`
	IsActive     *bool          `json:"is_active"`
	Order        int            `json:"order"`
}

func validProviderType(t string) bool {
	switch t {
	case db.ProviderTypeOpenAI, db.ProviderTypeAnthropic, db.ProviderTypeGemini, db.ProviderTypeCustom:
		return true
	}
	return false
}

// CreateProviderHandler - POST /api/admin/providers
func (s *Server) CreateProviderHandler(c *gin.Context) {
	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if !validProviderType(req.Type) {
		c.JSON(400, gin.H{"error": "Invalid provider type"})
		return
	}
	if req.APIKey == "" {
		c.JSON(400, gin.H{"error": "API key is required"})
		return
	}

	encrypted, err := s.cipher.Encrypt(req.APIKey)
	if err != nil {
		log.WithError(err).Error("failed to encrypt provider key")
		c.JSON(500, gin.H{"error": "Failed to store provider"})
		return
	}

	provider := db.AIProvider{
		Name:            req.Name,
		Type:            req.Type,
		APIKeyEncrypted: encrypted,
		BaseURL:         req.BaseURL,
		ExtraHeaders:    req.ExtraHeaders,
		IsActive:        req.IsActive == nil || *req.IsActive,
		Order:           req.Order,
	}
	if err := s.conn.Create(&provider).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to create provider"})
		return
	}
	c.JSON(200, toProviderResponse(provider))
}

// UpdateProviderHandler - PUT /api/admin/providers/:id
// An empty or masked api_key leaves the stored credential unchanged.
func (s *Server) UpdateProviderHandler(c *gin.Context) {
	var provider db.AIProvider
	if err := s.conn.First(&provider, c.Param("id")).Error; err != nil {
		c.JSON(404, gin.H{"error": "Provider not found"})
		return
	}

	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if !validProviderType(req.Type) {
		c.JSON(400, gin.H{"error": "Invalid provider type"})
		return
	}

	provider.Name = req.Name
	provider.Type = req.Type
	provider.BaseURL = req.BaseURL
	provider.ExtraHeaders = req.ExtraHeaders
	provider.Order = req.Order
	if req.IsActive != nil {
		provider.IsActive = *req.IsActive
	}
	if req.APIKey != "" && req.APIKey != maskedKey {
		encrypted, err := s.cipher.Encrypt(req.APIKey)
		if err != nil {
			log.WithError(err).Error("failed to encrypt provider key")
			c.JSON(500, gin.H{"error": "Failed to update provider"})
			return
		}
		provider.APIKeyEncrypted = encrypted
	}

	if err := s.conn.Save(&provider).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to update provider"})
		return
	}
	c.JSON(200, toProviderResponse(provider))
}

// DeleteProviderHandler - DELETE /api/admin/providers/:id
func (s *Server) DeleteProviderHandler(c *gin.Context) {
	var provider db.AIProvider
	if err := s.conn.First(&provider, c.Param("id")).Error; err != nil {
		c.JSON(404, gin.H{"error": "Provider not found"})
		return
	}

	var modelCount int64
	if err := s.conn.Model(&db.AIModel{}).Where("provider_id = ?", provider.ID).Count(&modelCount).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to delete provider"})
		return
	}
	if modelCount > 0 {
		c.JSON(400, gin.H{"error": "Provider still has models configured"})
		return
	}

	if err := s.conn.Delete(&provider).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to delete provider"})
		return
	}
	c.JSON(200, gin.H{"status": "deleted"})
}

// ProviderModelsHandler - GET /api/admin/providers/:id/models
// Queries the upstream vendor for its available model list.
func (s *Server) ProviderModelsHandler(c *gin.Context) {
	var provider db.AIProvider
	if err := s.conn.First(&provider, c.Param("id")).Error; err != nil {
		c.JSON(404, gin.H{"error": "Provider not found"})
		return
	}

	client, err := s.dispatcher.ProviderClient(c.Request.Context(), provider.ID)
	if err != nil {
		log.WithError(err).WithField("provider", provider.Name).Error("failed to build provider client")
		c.JSON(500, gin.H{"error": "Failed to connect to provider"})
		return
	}
	models, err := client.ListModels(c.Request.Context())
	if err != nil {
		log.WithError(err).WithField("provider", provider.Name).Error("provider model listing failed")
		c.JSON(502, gin.H{"error": "Provider did not return a model list"})
		return
	}
	c.JSON(200, gin.H{"models": models})
}

// ListModelsHandler - GET /api/admin/models
func (s *Server) ListModelsHandler(c *gin.Context) {
	var models []db.AIModel
	if err := s.conn.Preload("Provider").Order("id").Find(&models).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to fetch models"})
		return
	}
	c.JSON(200, models)
}

type modelRequest struct {
	ProviderID   uint           `json:"provider_id" binding:"required"`
	ModelID      string         `json:"model_id" binding:"required"`
	Name         string         `json:"name"`
	IsActive     *bool          `json:"is_active"`
	Capabilities datatypes.JSON `json:"capabilities"`
	InputPrice   float64        `json:"input_price"`
	OutputPrice  float64        `json:"output_price"`
}

// CreateModelHandler - POST /api/admin/models
func (s *Server) CreateModelHandler(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	var provider db.AIProvider
	if err := s.conn.First(&provider, req.ProviderID).Error; err != nil {
		c.JSON(404, gin.H{"error": "Provider not found"})
		return
	}

	name := req.Name
	if name == "" {
		name = req.ModelID
	}
	model := db.AIModel{
		ProviderID:   req.ProviderID,
		ModelID:      req.ModelID,
		Name:         name,
		IsActive:     req.IsActive == nil || *req.IsActive,
		Capabilities: req.Capabilities,
		InputPrice:   req.InputPrice,
		OutputPrice:  req.OutputPrice,
	}
	if err := s.conn.Create(&model).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to create model"})
		return
	}
	c.JSON(200, model)
}

// UpdateModelHandler - PUT /api/admin/models/:id
func (s *Server) UpdateModelHandler(c *gin.Context) {
	var model db.AIModel
	if err := s.conn.First(&model, c.Param("id")).Error; err != nil {
		c.JSON(404, gin.H{"error": "Model not found"})
		return
	}

	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if req.ProviderID != model.ProviderID {
		var provider db.AIProvider
		if err := s.conn.First(&provider, req.ProviderID).Error; err != nil {
			c.JSON(404, gin.H{"error": "Provider not found"})
			return
		}
	}

	model.ProviderID = req.ProviderID
	model.ModelID = req.ModelID
	if req.Name != "" {
		model.Name = req.Name
	}
	if req.IsActive != nil {
		model.IsActive = *req.IsActive
	}
	model.Capabilities = req.Capabilities
	model.InputPrice = req.InputPrice
	model.OutputPrice = req.OutputPrice

	if err := s.conn.Save(&model).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to update model"})
		return
	}
	c.JSON(200, model)
}

// DeleteModelHandler - DELETE /api/admin/models/:id
// A model referenced by the routing config cannot be removed.
func (s *Server) DeleteModelHandler(c *gin.Context) {
	var model db.AIModel
	if err := s.conn.First(&model, c.Param("id")).Error; err != nil {
		c.JSON(404, gin.H{"error": "Model not found"})
		return
	}

	var cfg db.AIConfig
	if err := s.conn.First(&cfg).Error; err == nil {
		for _, ref := range []*uint{cfg.PrimaryModelID, cfg.Fallback1ModelID, cfg.Fallback2ModelID} {
			if ref != nil && *ref == model.ID {
				c.JSON(400, gin.H{"error": "Model is referenced by the AI routing config"})
				return
			}
		}
	}

	if err := s.conn.Delete(&model).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to delete model"})
		return
	}
	c.JSON(200, gin.H{"status": "deleted"})
}

// GetAIConfigHandler - GET /api/admin/ai-config
func (s *Server) GetAIConfigHandler(c *gin.Context) {
	cfg, err := s.dispatcher.GetConfig(c.Request.Context())
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load AI config"})
		return
	}
	c.JSON(200, cfg)
}

type aiConfigRequest struct {
	PrimaryModelID   *uint `json:"primary_model_id"`
	Fallback1ModelID *uint `json:"fallback1_model_id"`
	Fallback2ModelID *uint `json:"fallback2_model_id"`
	RetryAttempts    int   `json:"retry_attempts"`
	TimeoutSeconds   int   `json:"timeout_seconds"`
	EnableFallback   *bool `json:"enable_fallback"`
}

// UpdateAIConfigHandler - PUT /api/admin/ai-config
func (s *Server) UpdateAIConfigHandler(c *gin.Context) {
	var req aiConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if req.RetryAttempts < 0 || req.RetryAttempts > 10 {
		c.JSON(400, gin.H{"error": "retry_attempts must be between 0 and 10"})
		return
	}
	if req.TimeoutSeconds < 0 || req.TimeoutSeconds > 600 {
		c.JSON(400, gin.H{"error": "timeout_seconds must be between 0 and 600"})
		return
	}

	// Every referenced model must exist before the config is accepted.
	for _, ref := range []*uint{req.PrimaryModelID, req.Fallback1ModelID, req.Fallback2ModelID} {
		if ref == nil {
			continue
		}
		var model db.AIModel
		if err := s.conn.First(&model, *ref).Error; err != nil {
			c.JSON(404, gin.H{"error": "Referenced model not found"})
			return
		}
	}

	cfg, err := s.dispatcher.GetConfig(c.Request.Context())
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load AI config"})
		return
	}

	cfg.PrimaryModelID = req.PrimaryModelID
	cfg.Fallback1ModelID = req.Fallback1ModelID
	cfg.Fallback2ModelID = req.Fallback2ModelID
	if req.RetryAttempts > 0 {
		cfg.RetryAttempts = req.RetryAttempts
	}
	if req.TimeoutSeconds > 0 {
		cfg.TimeoutSeconds = req.TimeoutSeconds
	}
	if req.EnableFallback != nil {
		cfg.EnableFallback = *req.EnableFallback
	}

	if err := s.conn.Save(cfg).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to save AI config"})
		return
	}
	c.JSON(200, cfg)
}

// GetSettingHandler - GET /api/admin/settings/:key
func (s *Server) GetSettingHandler(c *gin.Context) {
	value, found, err := s.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to load setting"})
		return
	}
	if !found {
		c.JSON(404, gin.H{"error": "Setting not found"})
		return
	}
	c.JSON(200, gin.H{"key": c.Param("key"), "value": value})
}

type settingRequest struct {
	Value datatypes.JSON `json:"value" binding:"required"`
}

// UpdateSettingHandler - PUT /api/admin/settings/:key
func (s *Server) UpdateSettingHandler(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	if err := s.settings.Set(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		c.JSON(500, gin.H{"error": "Failed to save setting"})
		return
	}
	c.JSON(200, gin.H{"status": "updated"})
}

type usageStatRow struct {
	Day      string  `json:"day"`
	ToolSlug string  `json:"tool_slug"`
	Count    int64   `json:"count"`
	AITokens int64   `json:"ai_tokens"`
	AICost   float64 `json:"ai_cost"`
}

// UsageStatsHandler - GET /api/admin/usage/stats
// Aggregates the usage ledger per day and tool over the last 30 days.
func (s *Server) UsageStatsHandler(c *gin.Context) {
	dayExpr := "strftime('%Y-%m-%d', created_at)"
	if !db.IsSQLite(s.conn) {
		dayExpr = "to_char(created_at, 'YYYY-MM-DD')"
	}

	var rows []usageStatRow
	err := s.conn.Model(&db.UsageRecord{}).
		Select(dayExpr+" as day, tool_slug, count(*) as count, coalesce(sum(ai_tokens), 0) as ai_tokens, coalesce(sum(ai_cost), 0) as ai_cost").
		Where("created_at >= ?", time.Now().AddDate(0, 0, -30)).
		Group("day, tool_slug").
		Order("day desc, tool_slug").
		Scan(&rows).Error
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to aggregate usage"})
		return
	}
	c.JSON(200, gin.H{"stats": rows})
}
