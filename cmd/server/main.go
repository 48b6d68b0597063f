package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/gin-gonic/gin"

	"toolhub/internal/ai"
	"toolhub/internal/api"
	"toolhub/internal/config"
	"toolhub/internal/db"
	"toolhub/internal/identity"
	"toolhub/internal/logging"
	"toolhub/internal/security"
	"toolhub/internal/settings"
	"toolhub/internal/tools"
	"toolhub/internal/usagelimit"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	if err := db.Migrate(conn); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	key := cfg.CredentialKey
	if key == "" {
		if cfg.Production {
			log.Fatal("CREDENTIAL_KEY must be set in production")
		}
		key, err = security.GenerateMasterKey()
		if err != nil {
			log.WithError(err).Fatal("failed to generate credential key")
		}
		log.Warn("CREDENTIAL_KEY not set; generated an ephemeral key, stored credentials will not survive a restart")
		// The key goes to stderr only; the log stream may be persisted.
		fmt.Fprintf(os.Stderr, "Set CREDENTIAL_KEY=%s to keep stored credentials across restarts\n", key)
	}
	cipher, err := security.NewCipher(key)
	if err != nil {
		log.WithError(err).Fatal("invalid credential key")
	}

	store := settings.NewStore(conn)
	if err := store.EnsureDefaults(context.Background(), cfg.GuestDailyLimit, cfg.UserDailyLimit); err != nil {
		log.WithError(err).Fatal("failed to seed settings")
	}
	resolver := identity.NewResolver(cfg.JWTSecret, cfg.Production)
	limiter := usagelimit.NewLimiter(conn, store)
	dispatcher := ai.NewDispatcher(conn, cipher)
	registry := tools.NewRegistry(dispatcher)

	server := api.NewServer(conn, resolver, limiter, dispatcher, registry, store, cipher, cfg.JWTSecret)

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(api.CORSMiddleware())
	server.RegisterRoutes(r)

	log.WithField("port", cfg.ServerPort).Info("toolhub starting")
	if err := r.Run(":" + cfg.ServerPort); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
