package db

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate runs schema auto-migration and seeds baseline rows.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("db: nil connection")
	}

	if err := conn.AutoMigrate(
		&User{},
		&Plan{},
		&Subscription{},
		&Tool{},
		&UsageRecord{},
		&AIProvider{},
		&AIModel{},
		&AIConfig{},
		&Setting{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}

	if err := seedPlans(conn); err != nil {
		return err
	}
	if err := seedTools(conn); err != nil {
		return err
	}

	log.Info("database schema migrated")
	return nil
}

func seedPlans(conn *gorm.DB) error {
	var count int64
	if err := conn.Model(&Plan{}).Count(&count).Error; err != nil {
		return fmt.Errorf("db: count plans: %w", err)
	}
	if count > 0 {
		return nil
	}

	plans := []Plan{
		{Name: "starter", DailyLimit: 200, PriceCents: 900},
		{Name: "pro", DailyLimit: 1000, PriceCents: 2900},
	}
	if err := conn.Create(&plans).Error; err != nil {
		return fmt.Errorf("db: seed plans: %w", err)
	}
	log.Infof("seeded %d plans", len(plans))
	return nil
}

func seedTools(conn *gorm.DB) error {
	var count int64
	if err := conn.Model(&Tool{}).Count(&count).Error; err != nil {
		return fmt.Errorf("db: count tools: %w", err)
	}
	if count > 0 {
		return nil
	}

	tools := []Tool{
		{Slug: "text-generator", Name: "Text Generator", Description: "Generate text from a prompt", UsesAI: true},
		{Slug: "summarizer", Name: "Summarizer", Description: "Summarize a passage of text", UsesAI: true},
		{Slug: "password-generator", Name: "Password Generator", Description: "Generate a random password", UsesAI: false},
	}
	if err := conn.Create(&tools).Error; err != nil {
		return fmt.Errorf("db: seed tools: %w", err)
	}
	log.Infof("seeded %d tools", len(tools))
	return nil
}
