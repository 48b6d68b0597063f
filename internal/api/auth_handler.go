package api

import (
	"strings"
	"time"

	"toolhub/internal/db"
	"toolhub/internal/security"

	"github.com/gin-gonic/gin"
)

const tokenExpiry = 24 * time.Hour

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterHandler - POST /api/register
func (s *Server) RegisterHandler(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var count int64
	s.conn.Model(&db.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		c.JSON(409, gin.H{"error": "Email already registered"})
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to create user"})
		return
	}

	user := db.User{
		Email:        email,
		PasswordHash: hash,
		Role:         db.RoleUser,
	}
	if err := s.conn.Create(&user).Error; err != nil {
		c.JSON(500, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(201, gin.H{"message": "User registered successfully"})
}

// LoginHandler - POST /api/login
func (s *Server) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user db.User
	if err := s.conn.Where("email = ?", email).First(&user).Error; err != nil {
		c.JSON(401, gin.H{"error": "Invalid email or password"})
		return
	}
	if !security.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(401, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := security.GenerateToken(s.jwtSecret, user.ID, user.Email, user.Role, tokenExpiry)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(200, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}

// MeHandler - GET /api/user/me
// Returns the profile plus the active subscription, if any.
func (s *Server) MeHandler(c *gin.Context) {
	userID := c.GetUint("userID")
	var user db.User
	if err := s.conn.First(&user, userID).Error; err != nil {
		c.JSON(404, gin.H{"error": "User not found"})
		return
	}

	resp := gin.H{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	}

	var sub db.Subscription
	err := s.conn.Preload("Plan").
		Where("user_id = ? AND status = ? AND current_period_end > ?", user.ID, db.SubscriptionStatusActive, time.Now()).
		First(&sub).Error
	if err == nil {
		resp["subscription"] = gin.H{
			"plan":               sub.Plan.Name,
			"daily_limit":        sub.Plan.DailyLimit,
			"status":             sub.Status,
			"current_period_end": sub.CurrentPeriodEnd,
		}
	}

	c.JSON(200, resp)
}
