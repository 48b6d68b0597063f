package api

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"toolhub/internal/ai"
	"toolhub/internal/db"
	"toolhub/internal/identity"
	"toolhub/internal/security"
	"toolhub/internal/settings"
	"toolhub/internal/tools"
	"toolhub/internal/usagelimit"
)

// Server bundles the request-handling dependencies.
type Server struct {
	conn       *gorm.DB
	resolver   *identity.Resolver
	limiter    *usagelimit.Limiter
	dispatcher *ai.Dispatcher
	registry   *tools.Registry
	settings   *settings.Store
	cipher     *security.Cipher
	jwtSecret  string
}

// NewServer constructs the API server.
func NewServer(conn *gorm.DB, resolver *identity.Resolver, limiter *usagelimit.Limiter, dispatcher *ai.Dispatcher, registry *tools.Registry, store *settings.Store, cipher *security.Cipher, jwtSecret string) *Server {
	return &Server{
		conn:       conn,
		resolver:   resolver,
		limiter:    limiter,
		dispatcher: dispatcher,
		registry:   registry,
		settings:   store,
		cipher:     cipher,
		jwtSecret:  jwtSecret,
	}
}

// dangerousPatterns is the static input blacklist. A match is a hard
// rejection, never a soft warning.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bnew\s+Function\s*\(`),
	regexp.MustCompile(`(?i)javascript:`),
}

func scanContent(raw []byte) bool {
	for _, pattern := range dangerousPatterns {
		if pattern.Match(raw) {
			return false
		}
	}
	return true
}

// ToolHandler produces the request handler for one tool. Order of
// operations: resolve identity, quota check, input validation, content
// scan, process, record. Usage is recorded only after the processor
// succeeds; failed AI calls never burn quota.
func (s *Server) ToolHandler(def tools.Definition) gin.HandlerFunc {
	return func(c *gin.Context) {
		bundle := s.resolver.Resolve(c)

		if def.RequireAuth && bundle.UserID == nil {
			c.JSON(401, gin.H{"error": "Authentication required"})
			return
		}

		if !def.SkipUsageCheck {
			decision, err := s.limiter.Check(c.Request.Context(), bundle)
			if err != nil {
				log.WithError(err).Error("usage check failed")
				c.JSON(500, gin.H{"error": "Unable to verify usage limit"})
				return
			}
			if !decision.Allowed {
				c.JSON(429, decision)
				return
			}
		}

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(400, gin.H{"error": "Unable to read request body"})
			return
		}
		if len(raw) == 0 {
			raw = []byte("{}")
		}

		if def.ValidateInput != nil {
			if errValidate := def.ValidateInput(raw); errValidate != nil {
				c.JSON(400, gin.H{"error": errValidate.Error()})
				return
			}
		}

		if !def.SkipContentScan && !scanContent(raw) {
			c.JSON(400, gin.H{"error": "Input contains disallowed content"})
			return
		}

		result, err := def.Process(c.Request.Context(), json.RawMessage(raw))
		if err != nil {
			if errors.Is(err, ai.ErrNoPrimaryModel) {
				log.WithError(err).Error("tool processing failed: AI not configured")
				c.JSON(500, gin.H{"error": "No default AI model configured"})
				return
			}
			log.WithError(err).WithField("tool", def.Slug).Error("tool processing failed")
			c.JSON(500, gin.H{"error": "Tool processing failed"})
			return
		}

		if !def.SkipUsageCheck {
			decision, errRecord := s.limiter.CheckAndRecord(c.Request.Context(), def.Slug, bundle, result.UsedAI, result.AITokens, result.AICost)
			if errRecord != nil {
				log.WithError(errRecord).Error("usage record failed")
				c.JSON(500, gin.H{"error": "Unable to record usage"})
				return
			}
			// A concurrent request may have consumed the last slot while the
			// processor ran; the ledger stays consistent and this request is
			// denied late rather than overrunning the quota.
			if !decision.Allowed {
				c.JSON(429, decision)
				return
			}
		}

		c.JSON(200, gin.H{
			"content": result.Content,
			"metadata": gin.H{
				"ai_tokens": result.AITokens,
				"ai_cost":   result.AICost,
			},
		})
	}
}

// UsageCheckHandler reports the caller's current usage decision without
// mutating any state.
func (s *Server) UsageCheckHandler(c *gin.Context) {
	bundle := s.resolver.Resolve(c)
	decision, err := s.limiter.Check(c.Request.Context(), bundle)
	if err != nil {
		log.WithError(err).Error("usage check failed")
		c.JSON(500, gin.H{"error": "Unable to verify usage limit"})
		return
	}
	c.JSON(200, decision)
}

type recordUsageRequest struct {
	ToolID   string  `json:"toolId" binding:"required"`
	UsedAI   bool    `json:"usedAI"`
	AITokens int64   `json:"aiTokens"`
	AICost   float64 `json:"aiCost"`
}

// UsageRecordHandler appends a ledger entry after re-validating the limit
// server-side, regardless of what the client believes.
func (s *Server) UsageRecordHandler(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	bundle := s.resolver.Resolve(c)
	decision, err := s.limiter.CheckAndRecord(c.Request.Context(), req.ToolID, bundle, req.UsedAI, req.AITokens, req.AICost)
	if err != nil {
		log.WithError(err).Error("usage record failed")
		c.JSON(500, gin.H{"error": "Unable to record usage"})
		return
	}
	if !decision.Allowed {
		c.JSON(429, decision)
		return
	}
	c.JSON(200, gin.H{"success": true, "remaining": decision.Remaining})
}

// ListToolsHandler returns the active tool catalog.
func (s *Server) ListToolsHandler(c *gin.Context) {
	var catalog []db.Tool
	if err := s.conn.WithContext(c.Request.Context()).Where("is_active = ?", true).Order("slug").Find(&catalog).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to load tools"})
		return
	}
	c.JSON(200, gin.H{"tools": catalog})
}

// RegisterRoutes wires all endpoints onto the engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/register", s.RegisterHandler)
		apiGroup.POST("/login", s.LoginHandler)

		apiGroup.GET("/tools", s.ListToolsHandler)
		apiGroup.POST("/usage/check", s.UsageCheckHandler)
		apiGroup.POST("/usage/record", s.UsageRecordHandler)
	}

	s.registerToolRoutes(apiGroup)

	authed := r.Group("/api")
	authed.Use(s.AuthRequired())
	{
		authed.GET("/user/me", s.MeHandler)
	}

	admin := r.Group("/api/admin")
	admin.Use(s.AuthRequired(), s.AdminRequired())
	{
		admin.GET("/providers", s.ListProvidersHandler)
		admin.POST("/providers", s.CreateProviderHandler)
		admin.PUT("/providers/:id", s.UpdateProviderHandler)
		admin.DELETE("/providers/:id", s.DeleteProviderHandler)
		admin.GET("/providers/:id/models", s.ProviderModelsHandler)

		admin.GET("/models", s.ListModelsHandler)
		admin.POST("/models", s.CreateModelHandler)
		admin.PUT("/models/:id", s.UpdateModelHandler)
		admin.DELETE("/models/:id", s.DeleteModelHandler)

		admin.GET("/ai-config", s.GetAIConfigHandler)
		admin.PUT("/ai-config", s.UpdateAIConfigHandler)

		admin.GET("/settings/:key", s.GetSettingHandler)
		admin.PUT("/settings/:key", s.UpdateSettingHandler)

		admin.GET("/usage/stats", s.UsageStatsHandler)
	}
}

// registerToolRoutes mounts one POST route per registered tool that also
// exists in the catalog table.
func (s *Server) registerToolRoutes(group *gin.RouterGroup) {
	var catalog []db.Tool
	if err := s.conn.Where("is_active = ?", true).Find(&catalog).Error; err != nil {
		log.WithError(err).Warn("failed to load tool catalog; tool routes not mounted")
		return
	}
	for _, tool := range catalog {
		def, ok := s.registry.Get(tool.Slug)
		if !ok {
			log.WithField("tool", tool.Slug).Warn("catalog tool has no registered processor")
			continue
		}
		group.POST("/tools/"+tool.Slug, s.ToolHandler(def))
	}
}
